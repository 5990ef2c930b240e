package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
)

// BranchRepository handles branch persistence
type BranchRepository struct {
	db *database.DB
}

// NewBranchRepository creates a new branch repository
func NewBranchRepository(db *database.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

// Create inserts a branch
func (r *BranchRepository) Create(ctx context.Context, b *domain.Branch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	query := `
		INSERT INTO branches (id, name, address, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, b.ID, b.Name, b.Address, b.IsActive).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	return database.MapError(err)
}

// GetByID gets a branch by ID
func (r *BranchRepository) GetByID(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	query := `SELECT id, name, address, is_active, created_at, updated_at FROM branches WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &b, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("branch")
		}
		return nil, database.MapError(err)
	}
	return &b, nil
}

// List returns all branches ordered by name
func (r *BranchRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Branch, error) {
	query := `SELECT id, name, address, is_active, created_at, updated_at FROM branches`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY LOWER(name)`

	branches := []*domain.Branch{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &branches, query); err != nil {
		return nil, err
	}
	return branches, nil
}

// Names maps branch ids to names for alert messages
func (r *BranchRepository) Names(ctx context.Context) (map[string]string, error) {
	branches, err := r.List(ctx, false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(branches))
	for _, b := range branches {
		names[b.ID] = b.Name
	}
	return names, nil
}
