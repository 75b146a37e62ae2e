package media

import (
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Conn wraps a Pion PeerConnection behind the call.Conn port.
type Conn struct {
	pc *pion.PeerConnection
}

func (c *Conn) CreateOffer() (*pion.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	return c.pc.LocalDescription(), nil
}

func (c *Conn) CreateAnswer(offer *pion.SessionDescription) (*pion.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(*offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}

	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	return c.pc.LocalDescription(), nil
}

func (c *Conn) ApplyAnswer(answer *pion.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(*answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *Conn) AddICECandidate(init pion.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}

func (c *Conn) Stable() bool {
	return c.pc.SignalingState() == pion.SignalingStateStable
}

func (c *Conn) Close() error {
	return c.pc.Close()
}
