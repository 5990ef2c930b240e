package repository

import (
	"context"
	"database/sql"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// QuantityRepository owns the branch_quantities aggregate. Writers must
// lock the row with Lock or LockMany inside a transaction before changing it.
type QuantityRepository struct {
	db *database.DB
}

// NewQuantityRepository creates a new quantity repository
func NewQuantityRepository(db *database.DB) *QuantityRepository {
	return &QuantityRepository{db: db}
}

// Ensure creates a zero row for the pair if none exists.
func (r *QuantityRepository) Ensure(ctx context.Context, branchID, materialID string) error {
	query := `
		INSERT INTO branch_quantities (branch_id, material_id, quantity)
		VALUES ($1, $2, 0)
		ON CONFLICT (branch_id, material_id) DO NOTHING
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query, branchID, materialID)
	return database.MapError(err)
}

// Lock reads the pair with FOR UPDATE. Returns nil when the pair has never been stocked.
func (r *QuantityRepository) Lock(ctx context.Context, branchID, materialID string) (*domain.BranchQuantity, error) {
	var q domain.BranchQuantity
	query := `
		SELECT branch_id, material_id, quantity, updated_at
		FROM branch_quantities
		WHERE branch_id = $1 AND material_id = $2
		FOR UPDATE
	`
	if err := r.db.Conn(ctx).GetContext(ctx, &q, query, branchID, materialID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, database.MapError(err)
	}
	return &q, nil
}

// LockMany locks several materials of one branch in material id order.
func (r *QuantityRepository) LockMany(ctx context.Context, branchID string, materialIDs []string) (map[string]*domain.BranchQuantity, error) {
	query := `
		SELECT branch_id, material_id, quantity, updated_at
		FROM branch_quantities
		WHERE branch_id = $1 AND material_id = ANY($2)
		ORDER BY material_id
		FOR UPDATE
	`

	rows := []*domain.BranchQuantity{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID, pq.Array(materialIDs)); err != nil {
		return nil, database.MapError(err)
	}

	out := make(map[string]*domain.BranchQuantity, len(rows))
	for _, q := range rows {
		out[q.MaterialID] = q
	}
	return out, nil
}

// Set overwrites the locked quantity. The check constraint rejects negatives.
func (r *QuantityRepository) Set(ctx context.Context, branchID, materialID string, qty decimal.Decimal) error {
	query := `
		UPDATE branch_quantities
		SET quantity = $3, updated_at = NOW()
		WHERE branch_id = $1 AND material_id = $2
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, branchID, materialID, qty)
	if err != nil {
		return database.MapError(err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Get is a snapshot read without locking.
func (r *QuantityRepository) Get(ctx context.Context, branchID, materialID string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	query := `SELECT quantity FROM branch_quantities WHERE branch_id = $1 AND material_id = $2`
	if err := r.db.Conn(ctx).GetContext(ctx, &qty, query, branchID, materialID); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return qty, nil
}

// ListByMaterial returns every branch row of a material with branch names.
func (r *QuantityRepository) ListByMaterial(ctx context.Context, materialID string) ([]domain.BranchQuantity, error) {
	query := `
		SELECT bq.branch_id, bq.material_id, bq.quantity, bq.updated_at,
			b.name AS branch_name, m.name AS material_name, m.unit
		FROM branch_quantities bq
		JOIN branches b ON b.id = bq.branch_id
		JOIN materials m ON m.id = bq.material_id
		WHERE bq.material_id = $1
		ORDER BY LOWER(b.name)
	`
	rows := []domain.BranchQuantity{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, materialID); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByBranch returns every material row of a branch. positiveOnly limits it to stock on hand.
func (r *QuantityRepository) ListByBranch(ctx context.Context, branchID string, positiveOnly bool) ([]domain.BranchQuantity, error) {
	query := `
		SELECT bq.branch_id, bq.material_id, bq.quantity, bq.updated_at,
			b.name AS branch_name, m.name AS material_name, m.unit
		FROM branch_quantities bq
		JOIN branches b ON b.id = bq.branch_id
		JOIN materials m ON m.id = bq.material_id
		WHERE bq.branch_id = $1
	`
	if positiveOnly {
		query += ` AND bq.quantity > 0`
	}
	query += ` ORDER BY LOWER(m.name)`

	rows := []domain.BranchQuantity{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID); err != nil {
		return nil, err
	}
	return rows, nil
}
