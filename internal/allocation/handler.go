package allocation

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/platform/httpx"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Handler wires HTTP endpoints for allocations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the allocation handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/allocations", h.handleList)
	r.Post("/allocations", h.handleAllocate)
	r.Get("/allocations/{allocationID}", h.handleGet)
	r.Post("/allocations/{allocationID}/resolve", h.handleResolve)
}

type allocateRequest struct {
	ItemID        int64  `json:"item_id" validate:"required"`
	OutletID      int64  `json:"outlet_id" validate:"required"`
	ReferenceType string `json:"reference_type" validate:"required"`
	ReferenceID   string `json:"reference_id"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	Notes         string `json:"notes"`
}

type resolveRequest struct {
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
	Kind     string `json:"kind" validate:"required,oneof=return damage loss"`
	Notes    string `json:"notes"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	view, err := h.service.Allocate(r.Context(), AllocateInput{
		ItemID:        req.ItemID,
		OutletID:      req.OutletID,
		ReferenceType: ledger.ReferenceType(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		Quantity:      req.Quantity,
		Notes:         req.Notes,
		Actor:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("allocate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("stock allocated",
		slog.String("code", view.Code),
		slog.Int64("item_id", view.ItemID),
		slog.Int64("quantity", view.Quantity))
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "allocationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid allocation id")
		return
	}
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	view, err := h.service.Resolve(r.Context(), ResolveInput{
		AllocationID: id,
		Quantity:     req.Quantity,
		Kind:         ResolutionKind(req.Kind),
		Notes:        req.Notes,
		Actor:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("resolve allocation", slog.Any("error", err), slog.Int64("allocation_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "allocationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid allocation id")
		return
	}
	view, err := h.service.Get(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, _ := strconv.ParseInt(q.Get("item_id"), 10, 64)
	outletID, _ := strconv.ParseInt(q.Get("outlet_id"), 10, 64)
	filter := ListFilter{
		ReferenceType: ledger.ReferenceType(q.Get("reference_type")),
		ReferenceID:   q.Get("reference_id"),
		ItemID:        itemID,
		OutletID:      outletID,
		ActiveOnly:    q.Get("active") == "true",
	}
	views, err := h.service.GetAllocations(r.Context(), shared.ActorFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": views})
}
