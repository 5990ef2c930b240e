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

// MaterialHandler handles material catalog endpoints
type MaterialHandler struct {
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewMaterialHandler creates a new material handler
func NewMaterialHandler(catalog *service.CatalogService, log *logger.Logger) *MaterialHandler {
	return &MaterialHandler{catalog: catalog, logger: log}
}

type createMaterialRequest struct {
	Name             string           `json:"name" validate:"required,max=200"`
	Unit             string           `json:"unit" validate:"required,max=32"`
	Type             string           `json:"type" validate:"omitempty,oneof=raw processed semi_processed supplies"`
	MinimumThreshold *decimal.Decimal `json:"minimum_threshold"`
	ReorderLevel     *decimal.Decimal `json:"reorder_level"`
	ShelfLifeDays    *int             `json:"shelf_life_days" validate:"omitempty,gt=0"`
}

type updateMaterialRequest struct {
	Name             *string          `json:"name" validate:"omitempty,max=200"`
	Unit             *string          `json:"unit" validate:"omitempty,max=32"`
	Type             *string          `json:"type" validate:"omitempty,oneof=raw processed semi_processed supplies"`
	MinimumThreshold *decimal.Decimal `json:"minimum_threshold"`
	ReorderLevel     *decimal.Decimal `json:"reorder_level"`
	ShelfLifeDays    *int             `json:"shelf_life_days" validate:"omitempty,gt=0"`
}

// List lists materials
func (h *MaterialHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)

	materials, total, err := h.catalog.ListMaterials(r.Context(), repository.MaterialFilter{
		Type:    domain.MaterialType(r.URL.Query().Get("type")),
		Search:  r.URL.Query().Get("search"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, materials, httputil.NewMeta(page, perPage, total))
}

// Get returns a material with its stock across branches
func (h *MaterialHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	detail, err := h.catalog.GetMaterial(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

// Create adds a material to the catalog
func (h *MaterialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMaterialRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	m, err := h.catalog.CreateMaterial(r.Context(), service.MaterialInput{
		Name:             req.Name,
		Unit:             req.Unit,
		Type:             domain.MaterialType(req.Type),
		MinimumThreshold: req.MinimumThreshold,
		ReorderLevel:     req.ReorderLevel,
		ShelfLifeDays:    req.ShelfLifeDays,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, m)
}

// Update applies a partial update to a material
func (h *MaterialHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req updateMaterialRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	upd := service.MaterialUpdate{
		Name:             req.Name,
		Unit:             req.Unit,
		MinimumThreshold: req.MinimumThreshold,
		ReorderLevel:     req.ReorderLevel,
		ShelfLifeDays:    req.ShelfLifeDays,
	}
	if req.Type != nil {
		t := domain.MaterialType(*req.Type)
		upd.Type = &t
	}

	m, deltas, err := h.catalog.UpdateMaterial(r.Context(), id, upd)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"material": m,
		"alerts":   deltas,
	})
}

// BranchHandler handles branch endpoints
type BranchHandler struct {
	catalog   *service.CatalogService
	inventory *service.InventoryService
	logger    *logger.Logger
}

// NewBranchHandler creates a new branch handler
func NewBranchHandler(catalog *service.CatalogService, inventory *service.InventoryService, log *logger.Logger) *BranchHandler {
	return &BranchHandler{catalog: catalog, inventory: inventory, logger: log}
}

type createBranchRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
}

// List lists branches
func (h *BranchHandler) List(w http.ResponseWriter, r *http.Request) {
	branches, err := h.catalog.ListBranches(r.Context(), httputil.QueryBool(r, "active", false))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, branches)
}

// Get returns a branch
func (h *BranchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.catalog.GetBranch(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, b)
}

// Create registers a branch
func (h *BranchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBranchRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.catalog.CreateBranch(r.Context(), req.Name, req.Address)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, b)
}

// Available lists what a branch can withdraw, with live batches
func (h *BranchHandler) Available(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	items, err := h.inventory.AvailableMaterials(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, items)
}

// Quantities lists every quantity row of a branch
func (h *BranchHandler) Quantities(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.inventory.QuantitiesByBranch(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}
