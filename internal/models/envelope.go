package models

import "encoding/json"

// EnvelopeKind tells a node how to deliver a frame received from another node.
type EnvelopeKind string

const (
	EnvelopeDeliver   EnvelopeKind = "deliver"
	EnvelopeBroadcast EnvelopeKind = "broadcast"
)

// Envelope wraps a frame routed between signaling nodes.
type Envelope struct {
	Kind    EnvelopeKind    `json:"kind"`
	Event   SignalType      `json:"event"`
	Origin  string          `json:"origin"`
	From    ClientID        `json:"from,omitempty"`
	Target  ClientID        `json:"target,omitempty"`
	Exclude ClientID        `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}
