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

const alertColumns = `a.id, a.material_id, a.branch_id, a.type, a.status, a.message,
	a.current_quantity, a.threshold, a.affected_branch_ids, a.created_at, a.updated_at,
	a.acknowledged_at, a.acknowledged_by, a.resolved_at, a.resolved_by, m.name AS material_name`

// AlertFilter narrows List results. An empty Status lists open alerts.
type AlertFilter struct {
	Status     domain.AlertStatus
	Type       domain.AlertType
	MaterialID string
	BranchID   string
	Page       int
	PerPage    int
}

// AlertCount is the number of open alerts of one type.
type AlertCount struct {
	Type  domain.AlertType `json:"type" db:"type"`
	Count int64            `json:"count" db:"count"`
}

// AlertRepository handles alert persistence
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// LockMaterial serialises alert passes for one material until the
// surrounding transaction ends.
func (r *AlertRepository) LockMaterial(ctx context.Context, materialID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, materialID)
	return database.MapError(err)
}

// Insert stores a new alert
func (r *AlertRepository) Insert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alerts (
			id, material_id, branch_id, type, status, message,
			current_quantity, threshold, affected_branch_ids, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		a.ID, a.MaterialID, a.BranchID, a.Type, a.Status, a.Message,
		a.CurrentQuantity, a.Threshold, a.AffectedBranchIDs, a.CreatedAt, a.UpdatedAt,
	)
	return database.MapError(err)
}

// UpdateSnapshot refreshes the message and quantity snapshot of an open alert.
func (r *AlertRepository) UpdateSnapshot(ctx context.Context, a *domain.Alert) error {
	query := `
		UPDATE alerts
		SET message = $2, current_quantity = $3, threshold = $4, affected_branch_ids = $5, updated_at = $6
		WHERE id = $1 AND status IN ('active', 'acknowledged')
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		a.ID, a.Message, a.CurrentQuantity, a.Threshold, a.AffectedBranchIDs, a.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.ConcurrentModification("alert " + a.ID + " was closed concurrently")
	}
	return nil
}

// UpdateStatus persists a lifecycle transition.
func (r *AlertRepository) UpdateStatus(ctx context.Context, a *domain.Alert) error {
	query := `
		UPDATE alerts
		SET status = $2, acknowledged_at = $3, acknowledged_by = $4,
			resolved_at = $5, resolved_by = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		a.ID, a.Status, a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt, a.ResolvedBy, a.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFound("alert")
	}
	return nil
}

// GetByID returns an alert
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate returns an alert locked until the surrounding transaction ends.
func (r *AlertRepository) GetForUpdate(ctx context.Context, id string) (*domain.Alert, error) {
	return r.get(ctx, id, true)
}

func (r *AlertRepository) get(ctx context.Context, id string, lock bool) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts a JOIN materials m ON m.id = a.material_id WHERE a.id = $1`
	if lock {
		query += ` FOR UPDATE OF a`
	}

	var a domain.Alert
	if err := r.db.Conn(ctx).GetContext(ctx, &a, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("alert")
		}
		return nil, database.MapError(err)
	}
	return &a, nil
}

// ListOpenByMaterial returns the active and acknowledged alerts of a material.
func (r *AlertRepository) ListOpenByMaterial(ctx context.Context, materialID string) ([]domain.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts a
		JOIN materials m ON m.id = a.material_id
		WHERE a.material_id = $1 AND a.status IN ('active', 'acknowledged')
		ORDER BY a.created_at
	`
	alerts := []domain.Alert{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &alerts, query, materialID); err != nil {
		return nil, err
	}
	return alerts, nil
}

// MaterialsWithOpenAlerts lists materials that currently have an open alert.
func (r *AlertRepository) MaterialsWithOpenAlerts(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT material_id FROM alerts WHERE status IN ('active', 'acknowledged') ORDER BY material_id`
	ids := []string{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &ids, query); err != nil {
		return nil, err
	}
	return ids, nil
}

// List lists alerts newest first with filtering
func (r *AlertRepository) List(ctx context.Context, f AlertFilter) ([]domain.Alert, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	if f.Status == "" {
		where += ` AND a.status IN ('active', 'acknowledged')`
	} else {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND a.status = $%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(` AND a.type = $%d`, len(args))
	}
	if f.MaterialID != "" {
		args = append(args, f.MaterialID)
		where += fmt.Sprintf(` AND a.material_id = $%d`, len(args))
	}
	if f.BranchID != "" {
		// Aggregate alerts apply to a branch when it is listed as affected.
		args = append(args, f.BranchID)
		where += fmt.Sprintf(` AND (a.branch_id = $%d OR $%d = ANY(a.affected_branch_ids))`, len(args), len(args))
	}

	from := ` FROM alerts a JOIN materials m ON m.id = a.material_id`

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*)`+from+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + alertColumns + from + where + ` ORDER BY a.created_at DESC, a.id`
	query, args = paginate(query, args, f.Page, f.PerPage)

	alerts := []domain.Alert{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// CountOpenByType returns open alert counts per type.
func (r *AlertRepository) CountOpenByType(ctx context.Context) ([]AlertCount, error) {
	query := `
		SELECT type, COUNT(*) AS count
		FROM alerts
		WHERE status IN ('active', 'acknowledged')
		GROUP BY type
		ORDER BY type
	`
	counts := []AlertCount{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &counts, query); err != nil {
		return nil, err
	}
	return counts, nil
}
