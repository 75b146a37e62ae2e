package signaling

import (
	"encoding/json"
	"strings"

	pion "github.com/pion/webrtc/v4"
)

// Message is the envelope for every WebSocket exchange with the distork relay.
// The field set mirrors the server: unused fields are omitted per message type.
type Message struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoin       = "join"
	MessageTypeChat       = "chat"
	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"
	MessageTypeUserList   = "user_list"
	MessageTypeSignal     = "signal"
)

// Negotiation payload types carried inside a signal message.
const (
	SignalTypeOffer     = "offer"
	SignalTypeAnswer    = "answer"
	SignalTypeCandidate = "candidate"
)

// SignalPayload is the negotiation payload relayed between two participants.
// It travels as a JSON string in Message.Signal, with exactly one of the
// optional fields set according to Type.
type SignalPayload struct {
	Type      string                   `json:"type"`
	Offer     *pion.SessionDescription `json:"offer,omitempty"`
	Answer    *pion.SessionDescription `json:"answer,omitempty"`
	Candidate *pion.ICECandidateInit   `json:"candidate,omitempty"`
}

// EncodeSignal serializes a negotiation payload for the Signal field.
func EncodeSignal(p *SignalPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSignal parses the nested payload of an inbound signal message.
func DecodeSignal(raw string) (*SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseUserList splits the comma-joined roster snapshot of a user_list message.
func ParseUserList(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, ",")
}
