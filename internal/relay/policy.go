package relay

import "fmt"

// TargetMissingPolicy decides what a sender learns when its target is gone.
type TargetMissingPolicy string

const (
	TargetMissingSilent       TargetMissingPolicy = "silent"
	TargetMissingNotifySender TargetMissingPolicy = "notify_sender"
)

func (p TargetMissingPolicy) Validate() error {
	switch p {
	case TargetMissingSilent, TargetMissingNotifySender:
		return nil
	}
	return fmt.Errorf("%w: on_target_missing=%q", ErrUnknownPolicy, string(p))
}

// CallEndedScope decides who hears about a disconnect.
type CallEndedScope string

const (
	// ScopeBroadcast notifies every other connected client.
	ScopeBroadcast CallEndedScope = "broadcast"
	// ScopeSession notifies only peers with a tracked call.
	ScopeSession CallEndedScope = "session"
)

func (s CallEndedScope) Validate() error {
	switch s {
	case ScopeBroadcast, ScopeSession:
		return nil
	}
	return fmt.Errorf("%w: call_ended_scope=%q", ErrUnknownPolicy, string(s))
}
