package dialogue

import "errors"

var (
	ErrEmptyText     = errors.New("dialogue: empty user text")
	ErrSessionCreate = errors.New("dialogue: session creation failed")
	ErrStream        = errors.New("dialogue: reply stream failed")
	ErrStreamTimeout = errors.New("dialogue: reply stream timed out")
	ErrTurnInFlight  = errors.New("dialogue: a turn is already streaming")
	ErrNoSession     = errors.New("dialogue: no active session")
)
