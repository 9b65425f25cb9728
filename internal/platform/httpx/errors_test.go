package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", fmt.Errorf("%w: quantity must be positive", shared.ErrValidation), http.StatusBadRequest},
		{"not found", shared.ErrNotFound, http.StatusNotFound},
		{"forbidden", shared.ErrForbidden, http.StatusForbidden},
		{"insufficient stock", shared.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{"insufficient outstanding", shared.ErrInsufficientOutstanding, http.StatusUnprocessableEntity},
		{"incomplete audit", shared.ErrIncompleteAudit, http.StatusUnprocessableEntity},
		{"invalid transition", shared.ErrInvalidTransition, http.StatusConflict},
		{"duplicate idempotency key", fmt.Errorf("record movement: %w", shared.ErrIdempotencyConflict), http.StatusConflict},
		{"transient conflict", shared.ErrTransientConflict, http.StatusServiceUnavailable},
		{"unclassified", fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.code, rr.Code)
		})
	}
}
