package ticket

import "errors"

// Business-rule errors. Handlers map these onto structured replies for the
// originating connection; they never crash a session.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("access denied")
	ErrInvalidState     = errors.New("transition not allowed from current status")
	ErrCapacityExceeded = errors.New("engineer at capacity")
	ErrSessionEnded     = errors.New("chat session has ended")
	ErrValidation       = errors.New("invalid input")
)
