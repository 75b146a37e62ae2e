package media

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	pion "github.com/pion/webrtc/v4"

	// Registers the microphone adapter - DON'T REMOVE
	_ "github.com/pion/mediadevices/pkg/driver/microphone"

	"github.com/poriamsz55/distork-cli/internal/call"
	"github.com/poriamsz55/distork-cli/internal/config"
	"github.com/poriamsz55/distork-cli/internal/netutil"
)

// Engine builds Pion-backed peer connections and owns the codec selection
// shared between the microphone capture and every connection it creates.
type Engine struct {
	cfg      *config.Config
	selector *mediadevices.CodecSelector
	capture  *Capture
}

// NewEngine creates an engine encoding microphone audio as Opus.
func NewEngine(cfg *config.Config) (*Engine, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return &Engine{cfg: cfg, selector: selector}, nil
}

// OpenMicrophone acquires the local audio capture. Its tracks are attached to
// every connection created afterwards.
func (e *Engine) OpenMicrophone() (*Capture, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: e.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	e.capture = &Capture{stream: stream}
	return e.capture, nil
}

// NewConn implements call.Engine.
func (e *Engine) NewConn(obs call.Observer) (call.Conn, error) {
	m := &pion.MediaEngine{}
	e.selector.Populate(m)

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(e.peerConfiguration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if e.capture != nil {
		for _, track := range e.capture.stream.GetAudioTracks() {
			_, err := pc.AddTransceiverFromTrack(track, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionSendrecv,
			})
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("attach capture track: %w", err)
			}
		}
	} else {
		_, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			// gathering complete
			return
		}
		if obs.OnCandidate != nil {
			obs.OnCandidate(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if track.Kind() != pion.RTPCodecTypeAudio {
			return
		}
		slog.Debug("remote audio track", "codec", track.Codec().MimeType)
		if obs.OnTrack != nil {
			obs.OnTrack(newSink(track))
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		slog.Debug("peer connection state", "state", state.String())
		if obs.OnStateChange != nil {
			obs.OnStateChange(state)
		}
	})

	return &Conn{pc: pc}, nil
}

func (e *Engine) peerConfiguration() pion.Configuration {
	iceServers := []pion.ICEServer{{URLs: e.cfg.GetSTUNServers()}}

	turnServers := e.cfg.GetTURNServers()
	if turnServers != nil {
		username, password := e.cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (e.cfg.ForceRelay || netutil.BehindRestrictiveNAT()) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}
