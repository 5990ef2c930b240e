// Package handler exposes the inventory services over HTTP.
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/logger"
)

const dateLayout = "2006-01-02"

// Services are the collaborators the handlers call into.
type Services struct {
	Inventory *service.InventoryService
	Catalog   *service.CatalogService
	Alerts    *service.AlertEngine
	Expiry    *service.ExpiryService
	Reports   *service.ReportService
}

// Handlers groups the inventory endpoint handlers
type Handlers struct {
	Materials    *MaterialHandler
	Branches     *BranchHandler
	Stock        *StockHandler
	Orders       *OrderHandler
	Alerts       *AlertHandler
	Transactions *TransactionHandler
	Reports      *ReportHandler
}

// New wires every handler to its service
func New(svc Services, log *logger.Logger) *Handlers {
	return &Handlers{
		Materials:    NewMaterialHandler(svc.Catalog, log),
		Branches:     NewBranchHandler(svc.Catalog, svc.Inventory, log),
		Stock:        NewStockHandler(svc.Inventory, log),
		Orders:       NewOrderHandler(svc.Inventory, log),
		Alerts:       NewAlertHandler(svc.Alerts, log),
		Transactions: NewTransactionHandler(svc.Inventory, log),
		Reports:      NewReportHandler(svc.Reports, svc.Expiry, log),
	}
}

// Routes mounts the inventory API under the given router
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/materials", func(r chi.Router) {
		r.Get("/", h.Materials.List)
		r.Post("/", h.Materials.Create)
		r.Get("/{id}", h.Materials.Get)
		r.Patch("/{id}", h.Materials.Update)
	})

	r.Route("/branches", func(r chi.Router) {
		r.Get("/", h.Branches.List)
		r.Post("/", h.Branches.Create)
		r.Get("/{id}", h.Branches.Get)
		r.Get("/{id}/available", h.Branches.Available)
		r.Get("/{id}/quantities", h.Branches.Quantities)
	})

	r.Route("/stock", func(r chi.Router) {
		r.Post("/receive", h.Stock.Receive)
		r.Post("/withdraw", h.Stock.Withdraw)
		r.Post("/adjust", h.Stock.Adjust)
		r.Get("/batches", h.Stock.ListBatches)
		r.Get("/materials/{id}", h.Stock.MaterialQuantities)
	})

	r.Post("/orders/consume", h.Orders.Consume)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.Alerts.List)
		r.Get("/counts", h.Alerts.Counts)
		r.Post("/evaluate", h.Alerts.Evaluate)
		r.Get("/{id}", h.Alerts.Get)
		r.Post("/{id}/acknowledge", h.Alerts.Acknowledge)
		r.Post("/{id}/resolve", h.Alerts.Resolve)
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.Transactions.List)
		r.Get("/{id}", h.Transactions.Get)
	})

	r.Get("/reports/branches/{id}", h.Reports.Inventory)
	r.Post("/expiry/refresh", h.Reports.RefreshExpiry)
}

// idParam reads a UUID path parameter.
func idParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if err := httputil.ValidateVar("id", id, "required,uuid"); err != nil {
		return "", err
	}
	return id, nil
}

func pageParams(r *http.Request) (int, int) {
	page := httputil.QueryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := httputil.QueryInt(r, "per_page", 20)
	if perPage < 1 || perPage > 200 {
		perPage = 20
	}
	return page, perPage
}

// parseDate reads an optional YYYY-MM-DD value.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, errors.Validation(map[string]string{field: "must be a date formatted as " + dateLayout})
	}
	return t, nil
}

// actorName is the display name of the caller, or fallback when the
// request carries no identity.
func actorName(r *http.Request, fallback string) string {
	if a := actor.FromContext(r.Context()); a != nil {
		return a.DisplayName()
	}
	return strings.TrimSpace(fallback)
}
