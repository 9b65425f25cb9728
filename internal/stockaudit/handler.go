package stockaudit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/coaltech18/hybits-crm/internal/platform/httpx"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Handler wires HTTP endpoints for the audit workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audits", h.handleList)
	r.Post("/audits", h.handleCreate)
	r.Get("/audits/{auditID}", h.handleGet)
	r.Post("/audits/{auditID}/review", h.handleReview)
	r.Post("/audits/{auditID}/submit", h.handleSubmit)
	r.Post("/audits/{auditID}/decision", h.handleDecision)
	r.Post("/audits/{auditID}/cancel", h.handleCancel)
	r.Post("/audit-lines/{lineID}/count", h.handleCount)
	r.Post("/audit-lines/{lineID}/variance-reason", h.handleVarianceReason)
}

type createAuditRequest struct {
	OutletID int64  `json:"outlet_id" validate:"required"`
	Period   string `json:"period" validate:"required"`
}

type countRequest struct {
	Quantity int64 `json:"quantity" validate:"gte=0"`
}

type varianceReasonRequest struct {
	Reason string `json:"reason" validate:"required"`
	Notes  string `json:"notes"`
}

type decisionRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAuditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	period, err := shared.ParsePeriod(req.Period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.CreateAudit(r.Context(), CreateInput{
		OutletID: req.OutletID,
		Period:   period,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("create audit", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("audit created",
		slog.String("code", view.Code),
		slog.String("period", view.PeriodLabel),
		slog.Int("lines", len(view.Lines)))
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "auditID")
	if !ok {
		return
	}
	view, err := h.service.GetAudit(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outletID, _ := strconv.ParseInt(q.Get("outlet_id"), 10, 64)
	filter := ListFilter{OutletID: outletID, Status: Status(q.Get("status"))}
	if raw := q.Get("period"); raw != "" {
		period, err := shared.ParsePeriod(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Period = period
	}
	views, err := h.service.ListAudits(r.Context(), shared.ActorFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"audits": views})
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req countRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	line, err := h.service.UpdateCount(r.Context(), shared.ActorFromContext(r.Context()), id, req.Quantity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) handleVarianceReason(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req varianceReasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	line, err := h.service.UpdateVarianceReason(r.Context(), shared.ActorFromContext(r.Context()), id, req.Reason, req.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "auditID")
	if !ok {
		return
	}
	view, err := h.service.MarkReview(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "auditID")
	if !ok {
		return
	}
	view, err := h.service.SubmitAudit(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		h.logger.Error("submit audit", slog.Any("error", err), slog.Int64("audit_id", id))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("audit submitted", slog.String("code", view.Code), slog.String("status", string(view.Status)))
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "auditID")
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	view, err := h.service.ApproveAudit(r.Context(), shared.ActorFromContext(r.Context()), id, req.Approved, req.Reason)
	if err != nil {
		h.logger.Error("decide audit", slog.Any("error", err), slog.Int64("audit_id", id))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("audit decided", slog.String("code", view.Code), slog.String("status", string(view.Status)))
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "auditID")
	if !ok {
		return
	}
	view, err := h.service.CancelAudit(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}
