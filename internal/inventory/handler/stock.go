package handler

import (
	"net/http"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// StockHandler handles stock movement endpoints
type StockHandler struct {
	inventory *service.InventoryService
	logger    *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(inventory *service.InventoryService, log *logger.Logger) *StockHandler {
	return &StockHandler{inventory: inventory, logger: log}
}

type receiveRequest struct {
	MaterialName     string          `json:"material_name" validate:"required,max=200"`
	Unit             string          `json:"unit" validate:"required,max=32"`
	BranchID         string          `json:"branch_id" validate:"required,uuid"`
	Quantity         decimal.Decimal `json:"quantity"`
	PurchaseDate     string          `json:"purchase_date" validate:"omitempty,datetime=2006-01-02"`
	ShelfLifeDays    *int            `json:"shelf_life_days" validate:"omitempty,gt=0"`
	MaterialType     string          `json:"material_type" validate:"omitempty,oneof=raw processed semi_processed supplies"`
	PurchaseOrderRef string          `json:"purchase_order_ref" validate:"max=100"`
	Notes            string          `json:"notes" validate:"max=1000"`
}

type withdrawRequest struct {
	MaterialID   string          `json:"material_id" validate:"required,uuid"`
	BranchID     string          `json:"branch_id" validate:"required,uuid"`
	Quantity     decimal.Decimal `json:"quantity"`
	ForceExpired bool            `json:"force_expired"`
	Reference    string          `json:"reference" validate:"max=100"`
	Notes        string          `json:"notes" validate:"max=1000"`
}

type adjustRequest struct {
	MaterialID      string          `json:"material_id" validate:"required,uuid"`
	BranchID        string          `json:"branch_id" validate:"required,uuid"`
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
	Notes           string          `json:"notes" validate:"max=1000"`
}

// Receive books a purchase receipt
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	purchase, err := parseDate("purchase_date", req.PurchaseDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.inventory.ReceiveStock(r.Context(), service.ReceiveInput{
		MaterialName:     req.MaterialName,
		Unit:             req.Unit,
		BranchID:         req.BranchID,
		Quantity:         req.Quantity,
		PurchaseDate:     purchase,
		ShelfLifeDays:    req.ShelfLifeDays,
		MaterialType:     domain.MaterialType(req.MaterialType),
		PurchaseOrderRef: req.PurchaseOrderRef,
		Notes:            req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, res)
}

// Withdraw takes stock out by hand
func (h *StockHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.inventory.WithdrawStock(r.Context(), service.WithdrawInput{
		MaterialID:   req.MaterialID,
		BranchID:     req.BranchID,
		Quantity:     req.Quantity,
		ForceExpired: req.ForceExpired,
		Reference:    req.Reference,
		Notes:        req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// Adjust records a physical count
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.inventory.AdjustStock(r.Context(), service.AdjustInput{
		MaterialID:      req.MaterialID,
		BranchID:        req.BranchID,
		CountedQuantity: req.CountedQuantity,
		Notes:           req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// ListBatches lists batches with their expiry state
func (h *StockHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	q := r.URL.Query()

	batches, total, err := h.inventory.ListBatches(r.Context(), repository.BatchFilter{
		MaterialID:   q.Get("material_id"),
		BranchID:     q.Get("branch_id"),
		IncludeEmpty: httputil.QueryBool(r, "include_empty", false),
		ExpiredOnly:  httputil.QueryBool(r, "expired", false),
		Page:         page,
		PerPage:      perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, batches, httputil.NewMeta(page, perPage, total))
}

// MaterialQuantities lists the per-branch quantities of a material
func (h *StockHandler) MaterialQuantities(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.inventory.QuantitiesByMaterial(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

// OrderHandler handles recipe-driven consumption
type OrderHandler struct {
	inventory *service.InventoryService
	logger    *logger.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(inventory *service.InventoryService, log *logger.Logger) *OrderHandler {
	return &OrderHandler{inventory: inventory, logger: log}
}

type orderLineRequest struct {
	MenuItemID string          `json:"menu_item_id" validate:"required,uuid"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type consumeRequest struct {
	BranchID  string             `json:"branch_id" validate:"required,uuid"`
	Reference string             `json:"reference" validate:"required,max=100"`
	Notes     string             `json:"notes" validate:"max=1000"`
	Lines     []orderLineRequest `json:"lines" validate:"min=1,dive"`
}

// Consume deducts the ingredients of an order, all or nothing
func (h *OrderHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	lines := make([]domain.OrderLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = domain.OrderLine{MenuItemID: l.MenuItemID, Quantity: l.Quantity}
	}

	res, err := h.inventory.ConsumeForOrder(r.Context(), service.ConsumeInput{
		BranchID:  req.BranchID,
		Reference: req.Reference,
		Notes:     req.Notes,
		Lines:     lines,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}
