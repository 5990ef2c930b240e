package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
)

const materialColumns = `id, name, unit, type, minimum_threshold, reorder_level, shelf_life_days, created_at, updated_at`

// MaterialFilter narrows List results
type MaterialFilter struct {
	Type    domain.MaterialType
	Search  string
	Page    int
	PerPage int
}

// MaterialRepository handles material catalog persistence
type MaterialRepository struct {
	db *database.DB
}

// NewMaterialRepository creates a new material repository
func NewMaterialRepository(db *database.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// Create inserts a material
func (r *MaterialRepository) Create(ctx context.Context, m *domain.Material) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO materials (id, name, unit, type, minimum_threshold, reorder_level, shelf_life_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Name, m.Unit, m.Type, m.MinimumThreshold, m.ReorderLevel, m.ShelfLifeDays,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	return database.MapError(err)
}

// GetByID gets a material by ID
func (r *MaterialRepository) GetByID(ctx context.Context, id string) (*domain.Material, error) {
	var m domain.Material
	query := `SELECT ` + materialColumns + ` FROM materials WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("material")
		}
		return nil, database.MapError(err)
	}
	return &m, nil
}

// FindByNameUnit matches name and unit case-insensitively. Returns nil when absent.
func (r *MaterialRepository) FindByNameUnit(ctx context.Context, name, unit string) (*domain.Material, error) {
	var m domain.Material
	query := `SELECT ` + materialColumns + ` FROM materials WHERE LOWER(name) = LOWER($1) AND LOWER(unit) = LOWER($2)`
	if err := r.db.Conn(ctx).GetContext(ctx, &m, query, name, unit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// List lists materials with filtering
func (r *MaterialRepository) List(ctx context.Context, f MaterialFilter) ([]*domain.Material, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(` AND name ILIKE $%d`, len(args))
	}

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM materials`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + materialColumns + ` FROM materials` + where + ` ORDER BY LOWER(name), unit`
	query, args = paginate(query, args, f.Page, f.PerPage)

	materials := []*domain.Material{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &materials, query, args...); err != nil {
		return nil, 0, err
	}

	return materials, total, nil
}

// ListIDs returns every material id, used for full alert passes
func (r *MaterialRepository) ListIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &ids, `SELECT id FROM materials ORDER BY id`); err != nil {
		return nil, err
	}
	return ids, nil
}

// Update writes every mutable column of m
func (r *MaterialRepository) Update(ctx context.Context, m *domain.Material) error {
	query := `
		UPDATE materials
		SET name = $2, unit = $3, type = $4, minimum_threshold = $5, reorder_level = $6,
			shelf_life_days = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Name, m.Unit, m.Type, m.MinimumThreshold, m.ReorderLevel, m.ShelfLifeDays,
	).Scan(&m.UpdatedAt)
	if err == sql.ErrNoRows {
		return errors.NotFound("material")
	}

	return database.MapError(err)
}

// HasBatches reports whether any batch references the material
func (r *MaterialRepository) HasBatches(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM batches WHERE material_id = $1)`
	if err := r.db.Conn(ctx).GetContext(ctx, &exists, query, id); err != nil {
		return false, err
	}
	return exists, nil
}
