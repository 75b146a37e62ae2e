package call

import (
	pion "github.com/pion/webrtc/v4"

	"github.com/poriamsz55/distork-cli/internal/signaling"
)

// Sink plays one remote participant's inbound audio until stopped.
type Sink interface {
	Stop()
}

// Observer receives media-transport callbacks for a single connection.
// Callbacks arrive on transport goroutines, never during Engine.NewConn.
type Observer struct {
	// OnCandidate fires for each locally discovered ICE candidate.
	OnCandidate func(pion.ICECandidateInit)

	// OnTrack fires when remote audio starts playing, handing over its sink.
	OnTrack func(Sink)

	// OnStateChange fires on connection state transitions.
	OnStateChange func(pion.PeerConnectionState)
}

// Conn is one media-transport connection to a remote participant.
type Conn interface {
	// CreateOffer produces a local offer and commits it as the local
	// description.
	CreateOffer() (*pion.SessionDescription, error)

	// CreateAnswer commits the remote offer, produces a local answer, and
	// commits it as the local description.
	CreateAnswer(offer *pion.SessionDescription) (*pion.SessionDescription, error)

	// ApplyAnswer commits a remote answer as the remote description.
	ApplyAnswer(answer *pion.SessionDescription) error

	// AddICECandidate applies one remote candidate.
	AddICECandidate(pion.ICECandidateInit) error

	// Stable reports whether the signaling state is stable, meaning no local
	// offer is outstanding.
	Stable() bool

	Close() error
}

// Engine creates media-transport connections with the local capture tracks
// already attached.
type Engine interface {
	NewConn(obs Observer) (Conn, error)
}

// SendSignalFunc emits a negotiation payload toward one participant.
type SendSignalFunc func(target string, payload *signaling.SignalPayload)
