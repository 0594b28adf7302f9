package orders

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state transition")
	ErrValidation   = errors.New("validation failed")
)

// FailureKind tags the expected business failures so callers can branch
// without string matching. Storage faults are not failures; they travel as
// plain errors.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureNotFound     FailureKind = "not_found"
	FailureUnauthorized FailureKind = "unauthorized"
	FailureInvalidState FailureKind = "invalid_state_transition"
	FailureValidation   FailureKind = "validation_error"
)

// Result is the structured outcome of every mutating operation. Expected
// failures land here; insufficient stock is not a failure at all, it
// shows up as PendingCount on a successful result.
type Result struct {
	Success      bool        `json:"success"`
	Failure      FailureKind `json:"failure,omitempty"`
	Message      string      `json:"message"`
	OrderID      string      `json:"order_id,omitempty"`
	PendingCount int         `json:"pending_count,omitempty"`
}

func failure(kind FailureKind, msg string) Result {
	return Result{Success: false, Failure: kind, Message: msg}
}

// resultFromErr maps taxonomy sentinels onto a failure Result. Unmapped
// errors are genuine faults and stay as errors.
func resultFromErr(err error) (Result, bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return failure(FailureNotFound, err.Error()), true
	case errors.Is(err, ErrUnauthorized):
		return failure(FailureUnauthorized, err.Error()), true
	case errors.Is(err, ErrInvalidState):
		return failure(FailureInvalidState, err.Error()), true
	case errors.Is(err, ErrValidation):
		return failure(FailureValidation, err.Error()), true
	}
	return Result{}, false
}
