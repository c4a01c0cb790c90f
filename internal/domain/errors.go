package domain

import "errors"

// Error kinds surfaced by the engine. Operations wrap these with a specific
// reason; match with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateDispute    = errors.New("duplicate dispute")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRule         = errors.New("invalid rule")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrValidation          = errors.New("validation failed")
)

// Kind returns the name of the error kind err wraps, or "Internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrDuplicateDispute):
		return "DuplicateDispute"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrInvalidRule):
		return "InvalidRule"
	case errors.Is(err, ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, ErrValidation):
		return "Validation"
	}
	return "Internal"
}
