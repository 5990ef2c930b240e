package service

import (
	"context"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/shopspring/decimal"
)

// BatchView is a batch with its expiry state computed for today.
type BatchView struct {
	domain.Batch
	DaysUntilExpiry int  `json:"days_until_expiry"`
	ExpiringSoon    bool `json:"expiring_soon"`
}

// AvailableMaterial is one material a branch can draw from.
type AvailableMaterial struct {
	domain.BranchQuantity
	Batches       []BatchView     `json:"batches"`
	Untracked     decimal.Decimal `json:"untracked"`
	NearestExpiry *time.Time      `json:"nearest_expiry,omitempty"`
}

func viewBatches(batches []domain.Batch, today time.Time, window int) []BatchView {
	out := make([]BatchView, len(batches))
	for i, b := range batches {
		b.Refresh(today)
		out[i] = BatchView{
			Batch:           b,
			DaysUntilExpiry: b.DaysUntilExpiry(today),
			ExpiringSoon:    b.ExpiringSoonOn(today, window),
		}
	}
	return out
}

// AvailableMaterials lists what a branch has on hand with the live batch
// breakdown, for picking what to withdraw.
func (s *InventoryService) AvailableMaterials(ctx context.Context, branchID string) ([]AvailableMaterial, error) {
	if _, err := s.repos.Branches.GetByID(ctx, branchID); err != nil {
		return nil, err
	}

	quantities, err := s.repos.Quantities.ListByBranch(ctx, branchID, true)
	if err != nil {
		return nil, err
	}
	batches, err := s.repos.Batches.ListLiveByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	byMaterial := map[string][]domain.Batch{}
	for _, b := range batches {
		byMaterial[b.MaterialID] = append(byMaterial[b.MaterialID], b)
	}

	out := make([]AvailableMaterial, 0, len(quantities))
	for _, q := range quantities {
		views := viewBatches(byMaterial[q.MaterialID], today, s.window)
		item := AvailableMaterial{BranchQuantity: q, Batches: views, Untracked: q.Quantity}

		for i := range views {
			item.Untracked = item.Untracked.Sub(views[i].Quantity)
			expiry := views[i].ExpiryDate
			if item.NearestExpiry == nil || expiry.Before(*item.NearestExpiry) {
				item.NearestExpiry = &expiry
			}
		}
		if item.Untracked.IsNegative() {
			item.Untracked = decimal.Zero
		}
		out = append(out, item)
	}

	return out, nil
}

// QuantitiesByBranch lists every material row of a branch, zeros included.
func (s *InventoryService) QuantitiesByBranch(ctx context.Context, branchID string) ([]domain.BranchQuantity, error) {
	if _, err := s.repos.Branches.GetByID(ctx, branchID); err != nil {
		return nil, err
	}
	return s.repos.Quantities.ListByBranch(ctx, branchID, false)
}

// QuantitiesByMaterial lists the branch rows of a material.
func (s *InventoryService) QuantitiesByMaterial(ctx context.Context, materialID string) ([]domain.BranchQuantity, error) {
	if _, err := s.repos.Materials.GetByID(ctx, materialID); err != nil {
		return nil, err
	}
	return s.repos.Quantities.ListByMaterial(ctx, materialID)
}

// ListBatches lists batches with their expiry state for today.
func (s *InventoryService) ListBatches(ctx context.Context, f repository.BatchFilter) ([]BatchView, int64, error) {
	batches, total, err := s.repos.Batches.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return viewBatches(batches, s.clock.Today(), s.window), total, nil
}

// ListTransactions reads the ledger
func (s *InventoryService) ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]*domain.Transaction, int64, error) {
	return s.repos.Transactions.List(ctx, f)
}

// GetTransaction returns one ledger entry with its batch breakdown
func (s *InventoryService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.repos.Transactions.GetByID(ctx, id)
}
