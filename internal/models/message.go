package models

import "encoding/json"

// ClientID is the opaque identity the server assigns to a connection.
type ClientID string

// SignalType represents the type of a signaling frame
type SignalType string

const (
	SignalTypeIdentity        SignalType = "identity-assigned"
	SignalTypeCallInvite      SignalType = "call-invite"
	SignalTypeCallAccept      SignalType = "call-accept"
	SignalTypeCallEnd         SignalType = "call-end"
	SignalTypeCallEnded       SignalType = "call-ended"
	SignalTypeCallUnavailable SignalType = "call-unavailable"
)

// SignalMessage is the single JSON frame shape exchanged over the WebSocket.
// Signal carries the negotiation payload and is never decoded by the server.
type SignalMessage struct {
	Type     SignalType      `json:"type"`
	Identity ClientID        `json:"identity,omitempty"`
	To       ClientID        `json:"to,omitempty"`
	From     ClientID        `json:"from,omitempty"`
	Name     string          `json:"name,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

// CallInvitation is a caller's request to ring Target.
type CallInvitation struct {
	Target ClientID
	Signal json.RawMessage
	From   ClientID
	Name   string
}

// CallAcceptance is the callee's answer addressed back to the caller.
type CallAcceptance struct {
	Target ClientID
	Signal json.RawMessage
}
