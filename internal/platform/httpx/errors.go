package httpx

import (
	"errors"
	"net/http"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// RespondError maps the shared error taxonomy to HTTP problem responses.
// Business and validation failures carry their message verbatim; transient
// conflicts tell the caller to retry; everything else is opaque.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInsufficientOutstanding):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Outstanding", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrIncompleteAudit):
		Problem(w, http.StatusUnprocessableEntity, "Incomplete Audit", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrTransientConflict):
		Problem(w, http.StatusServiceUnavailable, "Transient Conflict", shared.UserSafeMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
