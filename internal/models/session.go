package models

import "time"

// CallState is the lifecycle state of a tracked call.
type CallState string

const (
	CallStateRinging CallState = "ringing"
	CallStateActive  CallState = "active"
	CallStateEnded   CallState = "ended"
)

// CallSession correlates the two identities of one call attempt.
type CallSession struct {
	Caller    ClientID  `json:"caller"`
	Callee    ClientID  `json:"callee"`
	State     CallState `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// Peer returns the other participant of the session.
func (s CallSession) Peer(id ClientID) ClientID {
	if s.Caller == id {
		return s.Callee
	}
	return s.Caller
}
