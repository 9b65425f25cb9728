package item

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/coaltech18/hybits-crm/internal/platform/httpx"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Handler wires HTTP endpoints for the item master.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the item handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers item and outlet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.handleList)
	r.Post("/items", h.handleCreate)
	r.Get("/items/{itemID}", h.handleGet)
	r.Post("/items/{itemID}/status", h.handleLifecycle)
	r.Post("/items/{itemID}/confirm-opening-balance", h.handleConfirmOpening)
	r.Get("/outlets", h.handleListOutlets)
	r.Post("/outlets", h.handleCreateOutlet)
}

type createItemRequest struct {
	Name           string `json:"name" validate:"required"`
	Category       string `json:"category"`
	Unit           string `json:"unit"`
	OutletID       int64  `json:"outlet_id" validate:"required"`
	OpeningBalance int64  `json:"opening_balance" validate:"gte=0"`
}

type lifecycleRequest struct {
	Status string `json:"status" validate:"required"`
}

type createOutletRequest struct {
	Code string `json:"code" validate:"required,alphanum"`
	Name string `json:"name" validate:"required"`
	City string `json:"city"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.Create(r.Context(), CreateInput{
		Name:           req.Name,
		Category:       req.Category,
		Unit:           req.Unit,
		OutletID:       req.OutletID,
		OpeningBalance: req.OpeningBalance,
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("create item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("item created", slog.String("code", created.Code), slog.Int64("outlet_id", created.OutletID))
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	it, err := h.service.Get(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	outletID, _ := strconv.ParseInt(r.URL.Query().Get("outlet_id"), 10, 64)
	filter := ListFilter{
		OutletID: outletID,
		Status:   Status(r.URL.Query().Get("status")),
		Category: r.URL.Query().Get("category"),
	}
	items, err := h.service.List(r.Context(), shared.ActorFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	var req lifecycleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	it, err := h.service.UpdateLifecycle(r.Context(), shared.ActorFromContext(r.Context()), id, Status(req.Status))
	if err != nil {
		h.logger.Error("update lifecycle", slog.Any("error", err), slog.Int64("item_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleConfirmOpening(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	it, err := h.service.ConfirmOpeningBalance(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		h.logger.Error("confirm opening balance", slog.Any("error", err), slog.Int64("item_id", id))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("opening balance confirmed", slog.String("code", it.Code), slog.Int64("quantity", it.OpeningBalance))
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleListOutlets(w http.ResponseWriter, r *http.Request) {
	outlets, err := h.service.ListOutlets(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"outlets": outlets})
}

func (h *Handler) handleCreateOutlet(w http.ResponseWriter, r *http.Request) {
	var req createOutletRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	outlet, err := h.service.CreateOutlet(r.Context(), shared.ActorFromContext(r.Context()), Outlet{
		Code: req.Code, Name: req.Name, City: req.City,
	})
	if err != nil {
		h.logger.Error("create outlet", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, outlet)
}
