package shared

import "errors"

// Error taxonomy shared by every inventory module. Handlers map these to
// HTTP problem responses; only ErrTransientConflict is safe to retry.
var (
	// ErrValidation indicates malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a role or outlet mismatch.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientStock indicates available quantity cannot cover a request.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientOutstanding indicates a resolution exceeds outstanding quantity.
	ErrInsufficientOutstanding = errors.New("insufficient outstanding")
	// ErrIncompleteAudit indicates audit submit preconditions are unmet.
	ErrIncompleteAudit = errors.New("audit incomplete")
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTransientConflict indicates concurrent-write contention; the whole
	// operation may be retried with a bounded budget.
	ErrTransientConflict = errors.New("transient conflict")
)

// Retryable reports whether err may be automatically retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}

// UserSafeMessage returns a message suitable for surfacing to end users.
// Validation and business errors pass through verbatim; anything outside
// the taxonomy collapses to a generic message.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInsufficientOutstanding),
		errors.Is(err, ErrIncompleteAudit),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrIdempotencyConflict):
		return err.Error()
	case errors.Is(err, ErrTransientConflict):
		return "the system is busy, please retry"
	default:
		return "an unexpected error occurred"
	}
}
