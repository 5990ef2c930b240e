package service

import (
	"context"
	"strings"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// CatalogService manages materials and branches.
type CatalogService struct {
	db     *database.DB
	repos  *Repositories
	alerts *AlertEngine
	clock  Clock
	window int
	logger *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(deps Deps, alerts *AlertEngine, opts Options) *CatalogService {
	opts = opts.withDefaults()
	return &CatalogService{
		db:     deps.DB,
		repos:  deps.Repos,
		alerts: alerts,
		clock:  opts.Clock,
		window: opts.ExpiringSoonDays,
		logger: deps.Logger.WithComponent("catalog"),
	}
}

// MaterialInput creates a material. Nil thresholds take the defaults.
type MaterialInput struct {
	Name             string
	Unit             string
	Type             domain.MaterialType
	MinimumThreshold *decimal.Decimal
	ReorderLevel     *decimal.Decimal
	ShelfLifeDays    *int
}

// MaterialUpdate is a partial update; nil fields are left alone.
type MaterialUpdate struct {
	Name             *string
	Unit             *string
	Type             *domain.MaterialType
	MinimumThreshold *decimal.Decimal
	ReorderLevel     *decimal.Decimal
	ShelfLifeDays    *int
}

// MaterialDetail is a material with its stock across branches.
type MaterialDetail struct {
	*domain.Material
	Quantities []domain.BranchQuantity `json:"quantities"`
	Batches    []BatchView             `json:"batches"`
	Total      decimal.Decimal         `json:"total_quantity"`
}

// CreateMaterial adds a catalog entry
func (s *CatalogService) CreateMaterial(ctx context.Context, in MaterialInput) (*domain.Material, error) {
	m := &domain.Material{
		Name:             domain.NormalizeName(in.Name),
		Unit:             strings.TrimSpace(in.Unit),
		Type:             in.Type,
		MinimumThreshold: domain.DefaultMinimumThreshold,
		ReorderLevel:     domain.DefaultReorderLevel,
	}
	if m.Type == "" {
		m.Type = domain.MaterialRaw
	}
	if in.MinimumThreshold != nil {
		m.MinimumThreshold = *in.MinimumThreshold
	}
	if in.ReorderLevel != nil {
		m.ReorderLevel = *in.ReorderLevel
	}

	details := domain.ValidateThresholds(m.MinimumThreshold, m.ReorderLevel)
	if m.Name == "" {
		details["name"] = "is required"
	}
	if m.Unit == "" {
		details["unit"] = "is required"
	}
	if !m.Type.Valid() {
		details["type"] = "must be one of raw, processed, semi_processed, supplies"
	}
	if in.ShelfLifeDays != nil && *in.ShelfLifeDays <= 0 {
		details["shelf_life_days"] = "must be greater than zero"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	m.ShelfLifeDays = domain.ResolveShelfLife(m.Type, in.ShelfLifeDays)

	if err := s.repos.Materials.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info().Str("material_id", m.ID).Str("name", m.Name).Msg("material created")
	return m, nil
}

// GetMaterial returns a material with its per-branch stock and live batches.
func (s *CatalogService) GetMaterial(ctx context.Context, id string) (*MaterialDetail, error) {
	m, err := s.repos.Materials.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	quantities, err := s.repos.Quantities.ListByMaterial(ctx, id)
	if err != nil {
		return nil, err
	}
	batches, err := s.repos.Batches.ListLiveByMaterial(ctx, id)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, q := range quantities {
		total = total.Add(q.Quantity)
	}

	return &MaterialDetail{
		Material:   m,
		Quantities: quantities,
		Batches:    viewBatches(batches, s.clock.Today(), s.window),
		Total:      total,
	}, nil
}

// ListMaterials lists the catalog
func (s *CatalogService) ListMaterials(ctx context.Context, f repository.MaterialFilter) ([]*domain.Material, int64, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, errors.BadRequest("unknown material type " + string(f.Type))
	}
	return s.repos.Materials.List(ctx, f)
}

// UpdateMaterial applies a partial update. Name and unit are frozen once a
// batch references the material. Threshold changes re-evaluate alerts.
func (s *CatalogService) UpdateMaterial(ctx context.Context, id string, upd MaterialUpdate) (*domain.Material, []domain.AlertDelta, error) {
	var (
		m      *domain.Material
		deltas []domain.AlertDelta
	)

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repos.Materials.GetByID(ctx, id)
		if err != nil {
			return err
		}
		m = current

		renamed := false
		if upd.Name != nil {
			name := domain.NormalizeName(*upd.Name)
			renamed = renamed || !strings.EqualFold(name, m.Name)
			m.Name = name
		}
		if upd.Unit != nil {
			unit := strings.TrimSpace(*upd.Unit)
			renamed = renamed || !strings.EqualFold(unit, m.Unit)
			m.Unit = unit
		}

		thresholdsChanged := false
		if upd.MinimumThreshold != nil && !upd.MinimumThreshold.Equal(m.MinimumThreshold) {
			m.MinimumThreshold = *upd.MinimumThreshold
			thresholdsChanged = true
		}
		if upd.ReorderLevel != nil && !upd.ReorderLevel.Equal(m.ReorderLevel) {
			m.ReorderLevel = *upd.ReorderLevel
			thresholdsChanged = true
		}

		typeChanged := false
		if upd.Type != nil && *upd.Type != m.Type {
			m.Type = *upd.Type
			typeChanged = true
		}

		details := domain.ValidateThresholds(m.MinimumThreshold, m.ReorderLevel)
		if m.Name == "" {
			details["name"] = "is required"
		}
		if m.Unit == "" {
			details["unit"] = "is required"
		}
		if !m.Type.Valid() {
			details["type"] = "must be one of raw, processed, semi_processed, supplies"
		}
		if upd.ShelfLifeDays != nil && *upd.ShelfLifeDays <= 0 {
			details["shelf_life_days"] = "must be greater than zero"
		}
		if len(details) > 0 {
			return errors.Validation(details)
		}

		switch {
		case upd.ShelfLifeDays != nil:
			m.ShelfLifeDays = domain.ResolveShelfLife(m.Type, upd.ShelfLifeDays)
		case typeChanged:
			m.ShelfLifeDays = domain.ResolveShelfLife(m.Type, nil)
		}

		if renamed {
			used, err := s.repos.Materials.HasBatches(ctx, id)
			if err != nil {
				return err
			}
			if used {
				return errors.Conflict("name and unit cannot change once batches reference the material")
			}
		}

		if err := s.repos.Materials.Update(ctx, m); err != nil {
			return err
		}

		if thresholdsChanged {
			deltas = s.alerts.Pass(ctx, id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.alerts.Announce(ctx, deltas)
	return m, deltas, nil
}

// CreateBranch registers a branch
func (s *CatalogService) CreateBranch(ctx context.Context, name, address string) (*domain.Branch, error) {
	b := &domain.Branch{
		Name:     domain.NormalizeName(name),
		Address:  strings.TrimSpace(address),
		IsActive: true,
	}
	if b.Name == "" {
		return nil, errors.Validation(map[string]string{"name": "is required"})
	}
	if err := s.repos.Branches.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBranch returns a branch
func (s *CatalogService) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	return s.repos.Branches.GetByID(ctx, id)
}

// ListBranches lists branches
func (s *CatalogService) ListBranches(ctx context.Context, activeOnly bool) ([]*domain.Branch, error) {
	return s.repos.Branches.List(ctx, activeOnly)
}
