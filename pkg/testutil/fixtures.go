package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/shopspring/decimal"
)

// FixtureFactory inserts test rows with sensible defaults
type FixtureFactory struct {
	db       *database.DB
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory(db *database.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Branch inserts a branch
func (f *FixtureFactory) Branch(t *testing.T, ctx context.Context, name string) *domain.Branch {
	t.Helper()

	if name == "" {
		name = fmt.Sprintf("Branch %d", f.nextSeq())
	}
	b := &domain.Branch{ID: uuid.New().String(), Name: name, IsActive: true}

	err := f.db.QueryRowxContext(ctx,
		`INSERT INTO branches (id, name) VALUES ($1, $2) RETURNING created_at, updated_at`,
		b.ID, b.Name,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		t.Fatalf("failed to insert branch fixture: %v", err)
	}
	return b
}

// Material inserts a material. Defaults to a raw material with 10/20 thresholds.
func (f *FixtureFactory) Material(t *testing.T, ctx context.Context, opts ...func(*domain.Material)) *domain.Material {
	t.Helper()

	m := &domain.Material{
		ID:               uuid.New().String(),
		Name:             fmt.Sprintf("Material %d", f.nextSeq()),
		Unit:             "kg",
		Type:             domain.MaterialRaw,
		MinimumThreshold: domain.DefaultMinimumThreshold,
		ReorderLevel:     domain.DefaultReorderLevel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ShelfLifeDays == nil {
		m.ShelfLifeDays = domain.ResolveShelfLife(m.Type, nil)
	}

	err := f.db.QueryRowxContext(ctx, `
		INSERT INTO materials (id, name, unit, type, minimum_threshold, reorder_level, shelf_life_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.Unit, m.Type, m.MinimumThreshold, m.ReorderLevel, m.ShelfLifeDays,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		t.Fatalf("failed to insert material fixture: %v", err)
	}
	return m
}

// WithMaterialName sets the material name and unit
func WithMaterialName(name, unit string) func(*domain.Material) {
	return func(m *domain.Material) {
		m.Name = name
		m.Unit = unit
	}
}

// WithMaterialType sets the type and clears any explicit shelf life
func WithMaterialType(t domain.MaterialType) func(*domain.Material) {
	return func(m *domain.Material) {
		m.Type = t
		m.ShelfLifeDays = nil
	}
}

// WithThresholds sets the minimum threshold and reorder level
func WithThresholds(minimum, reorder string) func(*domain.Material) {
	return func(m *domain.Material) {
		m.MinimumThreshold = decimal.RequireFromString(minimum)
		m.ReorderLevel = decimal.RequireFromString(reorder)
	}
}

// WithShelfLife sets an explicit shelf life
func WithShelfLife(days int) func(*domain.Material) {
	return func(m *domain.Material) {
		m.ShelfLifeDays = &days
	}
}

// Recipe inserts a menu item with a recipe. items maps material id to
// quantity per yield.
func (f *FixtureFactory) Recipe(t *testing.T, ctx context.Context, yield string, items map[string]string) *domain.Recipe {
	t.Helper()

	seq := f.nextSeq()
	r := &domain.Recipe{
		ID:            uuid.New().String(),
		MenuItemID:    uuid.New().String(),
		MenuItemName:  fmt.Sprintf("Dish %d", seq),
		YieldQuantity: decimal.RequireFromString(yield),
	}

	if _, err := f.db.ExecContext(ctx, `INSERT INTO menu_items (id, name) VALUES ($1, $2)`, r.MenuItemID, r.MenuItemName); err != nil {
		t.Fatalf("failed to insert menu item fixture: %v", err)
	}
	if _, err := f.db.ExecContext(ctx,
		`INSERT INTO recipes (id, menu_item_id, yield_quantity) VALUES ($1, $2, $3)`,
		r.ID, r.MenuItemID, r.YieldQuantity,
	); err != nil {
		t.Fatalf("failed to insert recipe fixture: %v", err)
	}

	for materialID, qty := range items {
		item := domain.RecipeItem{RecipeID: r.ID, MaterialID: materialID, Quantity: decimal.RequireFromString(qty)}
		if _, err := f.db.ExecContext(ctx,
			`INSERT INTO recipe_items (recipe_id, material_id, quantity) VALUES ($1, $2, $3)`,
			item.RecipeID, item.MaterialID, item.Quantity,
		); err != nil {
			t.Fatalf("failed to insert recipe item fixture: %v", err)
		}
		r.Items = append(r.Items, item)
	}
	return r
}

// Dec parses a decimal literal or panics
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
