package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const transactionColumns = `t.id, t.type, t.material_id, t.branch_id, t.quantity, t.requested_quantity,
	t.unit, t.reference, t.notes, t.actor_id, t.actor_name, t.created_at, m.name AS material_name`

// TransactionFilter narrows List results
type TransactionFilter struct {
	MaterialID string
	BranchID   string
	Type       domain.TransactionType
	Reference  string
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

// TransactionRepository appends to and reads the stock ledger. There is no
// update or delete; the table rejects them.
type TransactionRepository struct {
	db *database.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Append writes the transaction and its batch breakdown.
func (r *TransactionRepository) Append(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_transactions (
			id, type, material_id, branch_id, quantity, requested_quantity,
			unit, reference, notes, actor_id, actor_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	conn := r.db.Conn(ctx)
	err := conn.QueryRowxContext(ctx, query,
		t.ID, t.Type, t.MaterialID, t.BranchID, t.Quantity, t.RequestedQuantity,
		t.Unit, t.Reference, t.Notes, t.ActorID, t.ActorName,
	).Scan(&t.CreatedAt)
	if err != nil {
		return database.MapError(err)
	}

	for _, b := range t.Batches {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO stock_transaction_batches (transaction_id, batch_id, quantity) VALUES ($1, $2, $3)`,
			t.ID, b.BatchID, b.Quantity,
		)
		if err != nil {
			return database.MapError(err)
		}
	}

	return nil
}

// GetByID returns a transaction with its batch breakdown
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM stock_transactions t JOIN materials m ON m.id = t.material_id WHERE t.id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &t, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("transaction")
		}
		return nil, err
	}

	breakdown, err := r.breakdowns(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Batches = breakdown[t.ID]
	return &t, nil
}

// List lists transactions newest first with filtering
func (r *TransactionRepository) List(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	if f.MaterialID != "" {
		args = append(args, f.MaterialID)
		where += fmt.Sprintf(` AND t.material_id = $%d`, len(args))
	}
	if f.BranchID != "" {
		args = append(args, f.BranchID)
		where += fmt.Sprintf(` AND t.branch_id = $%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(` AND t.type = $%d`, len(args))
	}
	if f.Reference != "" {
		args = append(args, f.Reference)
		where += fmt.Sprintf(` AND t.reference = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(` AND t.created_at >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(` AND t.created_at < $%d`, len(args))
	}

	from := ` FROM stock_transactions t JOIN materials m ON m.id = t.material_id`

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*)`+from+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + transactionColumns + from + where + ` ORDER BY t.created_at DESC, t.id`
	query, args = paginate(query, args, f.Page, f.PerPage)

	txs := []*domain.Transaction{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, 0, err
	}

	ids := make([]string, len(txs))
	for i, t := range txs {
		ids[i] = t.ID
	}
	breakdown, err := r.breakdowns(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, t := range txs {
		t.Batches = breakdown[t.ID]
	}

	return txs, total, nil
}

// Totals is the movement summary of one material over a period.
type Totals struct {
	MaterialID string          `db:"material_id"`
	Usage      decimal.Decimal `db:"usage"`
	Restocks   decimal.Decimal `db:"restocks"`
	Adjusted   decimal.Decimal `db:"adjusted"`
}

// TotalsByBranch sums movements per material at a branch within [from, to).
func (r *TransactionRepository) TotalsByBranch(ctx context.Context, branchID string, from, to time.Time) (map[string]Totals, error) {
	query := `
		SELECT material_id,
			COALESCE(SUM(quantity) FILTER (WHERE type = 'stock_out'), 0) AS usage,
			COALESCE(SUM(quantity) FILTER (WHERE type = 'stock_in'), 0) AS restocks,
			COALESCE(SUM(quantity) FILTER (WHERE type = 'adjustment'), 0) AS adjusted
		FROM stock_transactions
		WHERE branch_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY material_id
	`
	rows := []Totals{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID, from, to); err != nil {
		return nil, err
	}

	out := make(map[string]Totals, len(rows))
	for _, t := range rows {
		out[t.MaterialID] = t
	}
	return out, nil
}

// Recent returns the latest limit transactions per material at a branch within [from, to).
func (r *TransactionRepository) Recent(ctx context.Context, branchID string, from, to time.Time, limit int) (map[string][]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM (
			SELECT st.*, ROW_NUMBER() OVER (PARTITION BY st.material_id ORDER BY st.created_at DESC, st.id) AS rn
			FROM stock_transactions st
			WHERE st.branch_id = $1 AND st.created_at >= $2 AND st.created_at < $3
		) t
		JOIN materials m ON m.id = t.material_id
		WHERE t.rn <= $4
		ORDER BY t.material_id, t.created_at DESC
	`
	txs := []*domain.Transaction{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &txs, query, branchID, from, to, limit); err != nil {
		return nil, err
	}

	out := map[string][]*domain.Transaction{}
	for _, t := range txs {
		out[t.MaterialID] = append(out[t.MaterialID], t)
	}
	return out, nil
}

func (r *TransactionRepository) breakdowns(ctx context.Context, ids []string) (map[string][]domain.BatchDeduction, error) {
	out := map[string][]domain.BatchDeduction{}
	if len(ids) == 0 {
		return out, nil
	}

	type row struct {
		TransactionID string `db:"transaction_id"`
		domain.BatchDeduction
	}

	query := `
		SELECT stb.transaction_id, stb.batch_id, stb.quantity, b.expiry_date
		FROM stock_transaction_batches stb
		JOIN batches b ON b.id = stb.batch_id
		WHERE stb.transaction_id = ANY($1)
		ORDER BY stb.transaction_id, b.expiry_date
	`
	rows := []row{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TransactionID] = append(out[row.TransactionID], row.BatchDeduction)
	}
	return out, nil
}
