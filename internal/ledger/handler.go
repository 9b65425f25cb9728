package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/coaltech18/hybits-crm/internal/platform/httpx"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.handleListBalances)
	r.Get("/items/{itemID}/balances", h.handleItemBalances)
	r.Get("/movements", h.handleListMovements)
	r.Post("/movements", h.handleRecordMovement)
}

type recordMovementRequest struct {
	ItemID         int64  `json:"item_id" validate:"required"`
	OutletID       int64  `json:"outlet_id" validate:"required"`
	Category       string `json:"category" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id"`
	Notes          string `json:"notes"`
	IdempotencyKey string `json:"idempotency_key"`
}

type movementResponse struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	ItemID        int64     `json:"item_id"`
	OutletID      int64     `json:"outlet_id"`
	Category      string    `json:"category"`
	Quantity      int64     `json:"quantity"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:            m.ID,
		Code:          m.Code,
		ItemID:        m.ItemID,
		OutletID:      m.OutletID,
		Category:      string(m.Category),
		Quantity:      m.Quantity,
		ReferenceType: string(m.ReferenceType),
		ReferenceID:   m.ReferenceID,
		Notes:         m.Notes,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.RecordMovement(r.Context(), RecordInput{
		ItemID:         req.ItemID,
		OutletID:       req.OutletID,
		Category:       Category(req.Category),
		Quantity:       req.Quantity,
		ReferenceType:  ReferenceType(req.ReferenceType),
		ReferenceID:    req.ReferenceID,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("record movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("movement recorded",
		slog.String("code", movement.Code),
		slog.String("category", string(movement.Category)),
		slog.Int64("item_id", movement.ItemID),
		slog.Int64("quantity", movement.Quantity))
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	filter := BalanceFilter{
		OutletID:        queryInt64(r, "outlet_id"),
		ItemID:          queryInt64(r, "item_id"),
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
	}
	rows, err := h.service.GetBalances(r.Context(), shared.ActorFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": rows})
}

func (h *Handler) handleItemBalances(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	outletID := queryInt64(r, "outlet_id")
	actor := shared.ActorFromContext(r.Context())
	if outletID == 0 {
		outletID = actor.OutletID
	}
	balances, err := h.service.Balances(r.Context(), actor, itemID, outletID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{
		ItemID:        queryInt64(r, "item_id"),
		OutletID:      queryInt64(r, "outlet_id"),
		Category:      Category(r.URL.Query().Get("category")),
		ReferenceType: ReferenceType(r.URL.Query().Get("reference_type")),
		ReferenceID:   r.URL.Query().Get("reference_id"),
		Limit:         int(queryInt64(r, "limit")),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.ListMovements(r.Context(), shared.ActorFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func queryInt64(r *http.Request, key string) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}
