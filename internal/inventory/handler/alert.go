package handler

import (
	"net/http"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/logger"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	alerts *service.AlertEngine
	logger *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *service.AlertEngine, log *logger.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: log}
}

type alertActionRequest struct {
	By string `json:"by" validate:"max=200"`
}

type evaluateRequest struct {
	MaterialID string `json:"material_id" validate:"omitempty,uuid"`
}

// List lists alerts. Without a status filter only open alerts are returned.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	q := r.URL.Query()

	alerts, total, err := h.alerts.ListAlerts(r.Context(), repository.AlertFilter{
		Status:     domain.AlertStatus(q.Get("status")),
		Type:       domain.AlertType(q.Get("type")),
		MaterialID: q.Get("material_id"),
		BranchID:   q.Get("branch_id"),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, alerts, httputil.NewMeta(page, perPage, total))
}

// Counts returns open alerts per type
func (h *AlertHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.alerts.AlertCounts(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, counts)
}

// Get returns one alert
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	a, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, a)
}

// Acknowledge marks an alert as seen by the caller
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, req, err := h.actionRequest(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	a, err := h.alerts.AcknowledgeAlert(r.Context(), id, actorName(r, req.By))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, a)
}

// Resolve closes an alert by hand
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, req, err := h.actionRequest(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	a, err := h.alerts.ResolveAlert(r.Context(), id, actorName(r, req.By))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, a)
}

// Evaluate re-runs the alert engine for one material or the whole catalog
func (h *AlertHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	deltas, err := h.alerts.EvaluateAlerts(r.Context(), req.MaterialID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if deltas == nil {
		deltas = []domain.AlertDelta{}
	}
	httputil.JSON(w, http.StatusOK, deltas)
}

// actionRequest reads the alert id and the optional body of ack/resolve.
func (h *AlertHandler) actionRequest(r *http.Request) (string, alertActionRequest, error) {
	var req alertActionRequest
	id, err := idParam(r)
	if err != nil {
		return "", req, err
	}
	if r.ContentLength != 0 {
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			return "", req, err
		}
	}
	return id, req, nil
}
