package relay

import "errors"

var (
	// ErrTargetNotFound means no live connection owns the addressed identity.
	ErrTargetNotFound = errors.New("target not found")
	// ErrMissingTarget means the frame carried no addressing field.
	ErrMissingTarget = errors.New("missing target identity")
	ErrUnknownPolicy = errors.New("unknown policy")
)
