package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
)

const batchColumns = `id, material_id, branch_id, purchase_order_ref, initial_quantity, quantity,
	purchase_date, expiry_date, is_expired, created_at, updated_at`

// BatchFilter narrows List results
type BatchFilter struct {
	MaterialID   string
	BranchID     string
	IncludeEmpty bool
	ExpiredOnly  bool
	Page         int
	PerPage      int
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch
func (r *BatchRepository) Create(ctx context.Context, b *domain.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	query := `
		INSERT INTO batches (
			id, material_id, branch_id, purchase_order_ref, initial_quantity, quantity,
			purchase_date, expiry_date, is_expired
		) VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::date, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		b.ID, b.MaterialID, b.BranchID, b.PurchaseOrderRef, b.InitialQuantity, b.Quantity,
		sqlDate(b.PurchaseDate), sqlDate(b.ExpiryDate), b.IsExpired,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return database.MapError(err)
}

// LockLive returns the live batches of a (branch, material) pair with FOR UPDATE.
func (r *BatchRepository) LockLive(ctx context.Context, branchID, materialID string) ([]domain.Batch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE branch_id = $1 AND material_id = $2 AND quantity > 0
		ORDER BY expiry_date, purchase_date, id
		FOR UPDATE
	`
	batches := []domain.Batch{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, branchID, materialID); err != nil {
		return nil, database.MapError(err)
	}
	return batches, nil
}

// ListLiveByMaterial returns live batches of a material across all branches.
func (r *BatchRepository) ListLiveByMaterial(ctx context.Context, materialID string) ([]domain.Batch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE material_id = $1 AND quantity > 0
		ORDER BY expiry_date, purchase_date, id
	`
	batches := []domain.Batch{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, materialID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListLiveByBranch returns live batches held at a branch.
func (r *BatchRepository) ListLiveByBranch(ctx context.Context, branchID string) ([]domain.Batch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE branch_id = $1 AND quantity > 0
		ORDER BY material_id, expiry_date, purchase_date, id
	`
	batches := []domain.Batch{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, branchID); err != nil {
		return nil, err
	}
	return batches, nil
}

// List lists batches with filtering
func (r *BatchRepository) List(ctx context.Context, f BatchFilter) ([]domain.Batch, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	if f.MaterialID != "" {
		args = append(args, f.MaterialID)
		where += fmt.Sprintf(` AND material_id = $%d`, len(args))
	}
	if f.BranchID != "" {
		args = append(args, f.BranchID)
		where += fmt.Sprintf(` AND branch_id = $%d`, len(args))
	}
	if !f.IncludeEmpty {
		where += ` AND quantity > 0`
	}
	if f.ExpiredOnly {
		where += ` AND is_expired = TRUE`
	}

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM batches`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + batchColumns + ` FROM batches` + where + ` ORDER BY expiry_date, purchase_date, id`
	query, args = paginate(query, args, f.Page, f.PerPage)

	batches := []domain.Batch{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// Deplete applies an allocation breakdown. Each row must still hold at least
// the planned amount, which holds while the caller keeps the batches locked.
func (r *BatchRepository) Deplete(ctx context.Context, deductions []domain.BatchDeduction, today time.Time) error {
	query := `
		UPDATE batches
		SET quantity = quantity - $2, is_expired = (expiry_date < $3::date), updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
	`
	for _, d := range deductions {
		result, err := r.db.Conn(ctx).ExecContext(ctx, query, d.BatchID, d.Quantity, sqlDate(today))
		if err != nil {
			return database.MapError(err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return errors.ConcurrentModification("batch " + d.BatchID + " changed during allocation")
		}
	}
	return nil
}

// MarkExpired flags every batch past expiry and returns the live ones that
// flipped in this call.
func (r *BatchRepository) MarkExpired(ctx context.Context, today time.Time) ([]domain.Batch, error) {
	query := `
		UPDATE batches
		SET is_expired = TRUE, updated_at = NOW()
		WHERE is_expired = FALSE AND expiry_date < $1::date
		RETURNING ` + batchColumns

	flipped := []domain.Batch{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &flipped, query, sqlDate(today)); err != nil {
		return nil, err
	}

	live := flipped[:0]
	for _, b := range flipped {
		if b.Live() {
			live = append(live, b)
		}
	}
	return live, nil
}

// MaterialsWithExpiryActivity lists materials that have live batches expiring
// on or before horizon.
func (r *BatchRepository) MaterialsWithExpiryActivity(ctx context.Context, horizon time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT material_id
		FROM batches
		WHERE quantity > 0 AND expiry_date <= $1::date
		ORDER BY material_id
	`
	ids := []string{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &ids, query, sqlDate(horizon)); err != nil {
		return nil, err
	}
	return ids, nil
}
