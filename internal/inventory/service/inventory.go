package service

import (
	"context"
	"strings"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/lock"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/metrics"
	"github.com/shopspring/decimal"
)

// InventoryService moves stock in and out of branches. Every movement
// holds the stock lock of its (branch, material) keys and runs in one
// database transaction together with its alert pass.
type InventoryService struct {
	db        *database.DB
	repos     *Repositories
	locker    lock.Locker
	alerts    *AlertEngine
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Metrics
	clock     Clock
	window    int
	lockWait  time.Duration
	logger    *logger.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(deps Deps, alerts *AlertEngine, opts Options) *InventoryService {
	opts = opts.withDefaults()
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &InventoryService{
		db:        deps.DB,
		repos:     deps.Repos,
		locker:    locker,
		alerts:    alerts,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     opts.Clock,
		window:    opts.ExpiringSoonDays,
		lockWait:  opts.LockWait,
		logger:    deps.Logger.WithComponent("inventory"),
	}
}

// ReceiveInput describes a purchase receipt.
type ReceiveInput struct {
	MaterialName     string
	Unit             string
	BranchID         string
	Quantity         decimal.Decimal
	PurchaseDate     time.Time
	ShelfLifeDays    *int
	MaterialType     domain.MaterialType
	PurchaseOrderRef string
	Notes            string
}

// ReceiveResult is what a receipt created or changed.
type ReceiveResult struct {
	Material       *domain.Material      `json:"material"`
	Batch          *domain.Batch         `json:"batch,omitempty"`
	BranchQuantity domain.BranchQuantity `json:"branch_quantity"`
	Transaction    *domain.Transaction   `json:"transaction"`
	Alerts         []domain.AlertDelta   `json:"alerts,omitempty"`
}

// WithdrawInput describes a manual stock-out.
type WithdrawInput struct {
	MaterialID   string
	BranchID     string
	Quantity     decimal.Decimal
	ForceExpired bool
	Reference    string
	Notes        string
}

// WithdrawResult reports what was actually deducted.
type WithdrawResult struct {
	Requested      decimal.Decimal         `json:"requested"`
	Deducted       decimal.Decimal         `json:"deducted"`
	Remaining      decimal.Decimal         `json:"remaining"`
	Clamped        bool                    `json:"clamped"`
	Untracked      decimal.Decimal         `json:"untracked"`
	BatchBreakdown []domain.BatchDeduction `json:"batch_breakdown"`
	Transaction    *domain.Transaction     `json:"transaction"`
	Alerts         []domain.AlertDelta     `json:"alerts,omitempty"`
}

// AdjustInput sets the on-hand of a pair to a counted value.
type AdjustInput struct {
	MaterialID      string
	BranchID        string
	CountedQuantity decimal.Decimal
	Notes           string
}

// AdjustResult reports the applied delta.
type AdjustResult struct {
	Previous       decimal.Decimal         `json:"previous"`
	Counted        decimal.Decimal         `json:"counted"`
	Delta          decimal.Decimal         `json:"delta"`
	BatchBreakdown []domain.BatchDeduction `json:"batch_breakdown"`
	Transaction    *domain.Transaction     `json:"transaction"`
	Alerts         []domain.AlertDelta     `json:"alerts,omitempty"`
}

// ConsumeInput is a customer order to fulfil from recipes.
type ConsumeInput struct {
	BranchID  string
	Reference string
	Notes     string
	Lines     []domain.OrderLine
}

// ConsumeResult lists one stock_out transaction per consumed material.
type ConsumeResult struct {
	Reference    string                `json:"reference"`
	Transactions []*domain.Transaction `json:"transactions"`
	Alerts       []domain.AlertDelta   `json:"alerts,omitempty"`
}

// ReceiveStock books a purchase receipt. Unknown materials are created on
// the fly, matched case-insensitively on name and unit. Perishables get a
// new batch expiring purchase date plus shelf life.
func (s *InventoryService) ReceiveStock(ctx context.Context, in ReceiveInput) (res *ReceiveResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("receive", start, err) }()

	name := domain.NormalizeName(in.MaterialName)
	unit := strings.TrimSpace(in.Unit)

	details := map[string]string{}
	if name == "" {
		details["material_name"] = "is required"
	}
	if unit == "" {
		details["unit"] = "is required"
	}
	if in.BranchID == "" {
		details["branch_id"] = "is required"
	}
	if in.MaterialType != "" && !in.MaterialType.Valid() {
		details["material_type"] = "must be one of raw, processed, semi_processed, supplies"
	}
	if in.ShelfLifeDays != nil && *in.ShelfLifeDays <= 0 {
		details["shelf_life_days"] = "must be greater than zero"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	if !in.Quantity.IsPositive() {
		return nil, errors.InvalidQuantity("quantity must be greater than zero")
	}

	if _, err := s.repos.Branches.GetByID(ctx, in.BranchID); err != nil {
		return nil, err
	}

	material, err := s.resolveMaterial(ctx, name, unit, in.MaterialType, in.ShelfLifeDays)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	purchase := today
	if !in.PurchaseDate.IsZero() {
		purchase = domain.Date(in.PurchaseDate)
	}

	shelfLife := material.ShelfLifeDays
	if in.ShelfLifeDays != nil {
		shelfLife = domain.ResolveShelfLife(material.Type, in.ShelfLifeDays)
	}

	release, err := acquire(ctx, s.locker, s.lockWait, s.metrics, lock.StockKey(in.BranchID, material.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx := s.newTransaction(ctx, domain.TxStockIn, material, in.BranchID)
	tx.Quantity = in.Quantity
	tx.Reference = in.PurchaseOrderRef
	tx.Notes = in.Notes

	res = &ReceiveResult{Material: material, Transaction: tx}

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Quantities.Ensure(ctx, in.BranchID, material.ID); err != nil {
			return err
		}
		current, err := s.repos.Quantities.Lock(ctx, in.BranchID, material.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return errors.ConcurrentModification("branch quantity row disappeared")
		}

		if shelfLife != nil && *shelfLife > 0 {
			b := &domain.Batch{
				MaterialID:      material.ID,
				BranchID:        in.BranchID,
				InitialQuantity: in.Quantity,
				Quantity:        in.Quantity,
				PurchaseDate:    purchase,
				ExpiryDate:      domain.ExpiryFor(purchase, *shelfLife),
			}
			if in.PurchaseOrderRef != "" {
				ref := in.PurchaseOrderRef
				b.PurchaseOrderRef = &ref
			}
			b.Refresh(today)
			if err := s.repos.Batches.Create(ctx, b); err != nil {
				return err
			}
			res.Batch = b
			tx.Batches = []domain.BatchDeduction{{
				BatchID:    b.ID,
				ExpiryDate: b.ExpiryDate,
				Quantity:   in.Quantity,
				Remaining:  b.Quantity,
			}}
		}

		current.Quantity = current.Quantity.Add(in.Quantity)
		if err := s.repos.Quantities.Set(ctx, in.BranchID, material.ID, current.Quantity); err != nil {
			return err
		}
		current.MaterialName = material.Name
		current.Unit = material.Unit
		res.BranchQuantity = *current

		if err := s.repos.Transactions.Append(ctx, tx); err != nil {
			return err
		}

		res.Alerts = s.alerts.Pass(ctx, material.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, tx, material.Name, res.BranchQuantity.Quantity, res.Alerts)
	return res, nil
}

// resolveMaterial finds the material by name and unit or creates it with
// the type defaults. A concurrent create of the same pair is resolved by
// reading the winner back.
func (s *InventoryService) resolveMaterial(ctx context.Context, name, unit string, t domain.MaterialType, shelfLife *int) (*domain.Material, error) {
	m, err := s.repos.Materials.FindByNameUnit(ctx, name, unit)
	if err != nil || m != nil {
		return m, err
	}

	if t == "" {
		t = domain.MaterialRaw
	}
	m = &domain.Material{
		Name:             name,
		Unit:             unit,
		Type:             t,
		MinimumThreshold: domain.DefaultMinimumThreshold,
		ReorderLevel:     domain.DefaultReorderLevel,
		ShelfLifeDays:    domain.ResolveShelfLife(t, shelfLife),
	}
	if err := s.repos.Materials.Create(ctx, m); err != nil {
		if !errors.Is(err, errors.ErrConflict) {
			return nil, err
		}
		existing, findErr := s.repos.Materials.FindByNameUnit(ctx, name, unit)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}

	s.logger.Info().Str("material_id", m.ID).Str("name", m.Name).Str("unit", m.Unit).Msg("material created from receipt")
	return m, nil
}

// WithdrawStock takes stock out by hand. It never fails for lack of stock:
// it deducts what the branch has and reports the clamp. ForceExpired only
// disposes of expired batches and is strict about the requested amount.
func (s *InventoryService) WithdrawStock(ctx context.Context, in WithdrawInput) (res *WithdrawResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("withdraw", start, err) }()

	if !in.Quantity.IsPositive() {
		return nil, errors.InvalidQuantity("quantity must be greater than zero")
	}

	material, err := s.repos.Materials.GetByID(ctx, in.MaterialID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repos.Branches.GetByID(ctx, in.BranchID); err != nil {
		return nil, err
	}

	release, err := acquire(ctx, s.locker, s.lockWait, s.metrics, lock.StockKey(in.BranchID, material.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx := s.newTransaction(ctx, domain.TxStockOut, material, in.BranchID)
	tx.RequestedQuantity = decimal.NewNullDecimal(in.Quantity)
	tx.Reference = in.Reference
	tx.Notes = in.Notes

	res = &WithdrawResult{Requested: in.Quantity, Transaction: tx}

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repos.Quantities.Lock(ctx, in.BranchID, material.ID)
		if err != nil {
			return err
		}
		onHand := decimal.Zero
		if current != nil {
			onHand = current.Quantity
		}

		batches, err := s.repos.Batches.LockLive(ctx, in.BranchID, material.ID)
		if err != nil {
			return err
		}

		alloc, err := s.allocator().Allocate(batches, onHand, in.Quantity, in.ForceExpired)
		if err != nil {
			return s.shortfall(err, "withdraw", material.ID, in.BranchID)
		}

		if err := s.repos.Batches.Deplete(ctx, alloc.Breakdown, s.clock.Today()); err != nil {
			return err
		}

		remaining := onHand.Sub(alloc.Deducted)
		if current != nil && alloc.Deducted.IsPositive() {
			if err := s.repos.Quantities.Set(ctx, in.BranchID, material.ID, remaining); err != nil {
				return err
			}
		}

		tx.Quantity = alloc.Deducted
		tx.Batches = alloc.Breakdown
		if err := s.repos.Transactions.Append(ctx, tx); err != nil {
			return err
		}

		res.Deducted = alloc.Deducted
		res.Remaining = remaining
		res.Clamped = alloc.Clamped()
		res.Untracked = alloc.Untracked
		res.BatchBreakdown = alloc.Breakdown

		res.Alerts = s.alerts.Pass(ctx, material.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Clamped {
		s.metrics.ClampedWithdrawal()
		s.logger.WithStockKey(in.BranchID, material.ID).Warn().
			Str("requested", res.Requested.String()).
			Str("deducted", res.Deducted.String()).
			Msg("withdrawal clamped to stock on hand")
	}

	s.afterMovement(ctx, tx, material.Name, res.Remaining, res.Alerts)
	return res, nil
}

// AdjustStock records a physical count. A downward correction depletes
// batches with the regular policy; an upward one is untracked stock.
func (s *InventoryService) AdjustStock(ctx context.Context, in AdjustInput) (res *AdjustResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("adjust", start, err) }()

	if in.CountedQuantity.IsNegative() {
		return nil, errors.InvalidQuantity("counted quantity must not be negative")
	}

	material, err := s.repos.Materials.GetByID(ctx, in.MaterialID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repos.Branches.GetByID(ctx, in.BranchID); err != nil {
		return nil, err
	}

	release, err := acquire(ctx, s.locker, s.lockWait, s.metrics, lock.StockKey(in.BranchID, material.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx := s.newTransaction(ctx, domain.TxAdjustment, material, in.BranchID)
	tx.Notes = in.Notes

	res = &AdjustResult{Counted: in.CountedQuantity, Transaction: tx, BatchBreakdown: []domain.BatchDeduction{}}

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Quantities.Ensure(ctx, in.BranchID, material.ID); err != nil {
			return err
		}
		current, err := s.repos.Quantities.Lock(ctx, in.BranchID, material.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return errors.ConcurrentModification("branch quantity row disappeared")
		}

		res.Previous = current.Quantity
		res.Delta = in.CountedQuantity.Sub(current.Quantity)

		if res.Delta.IsNegative() {
			batches, err := s.repos.Batches.LockLive(ctx, in.BranchID, material.ID)
			if err != nil {
				return err
			}
			alloc, err := s.allocator().Allocate(batches, current.Quantity, res.Delta.Neg(), false)
			if err != nil {
				return err
			}
			if err := s.repos.Batches.Deplete(ctx, alloc.Breakdown, s.clock.Today()); err != nil {
				return err
			}
			res.BatchBreakdown = alloc.Breakdown
		}

		if err := s.repos.Quantities.Set(ctx, in.BranchID, material.ID, in.CountedQuantity); err != nil {
			return err
		}

		tx.Quantity = res.Delta
		tx.Batches = res.BatchBreakdown
		if err := s.repos.Transactions.Append(ctx, tx); err != nil {
			return err
		}

		res.Alerts = s.alerts.Pass(ctx, material.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, tx, material.Name, in.CountedQuantity, res.Alerts)
	return res, nil
}

// ConsumeForOrder deducts the recipe ingredients of an order. Either every
// ingredient is covered and the whole order commits, or nothing changes.
func (s *InventoryService) ConsumeForOrder(ctx context.Context, in ConsumeInput) (res *ConsumeResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("consume_order", start, err) }()

	details := map[string]string{}
	if in.BranchID == "" {
		details["branch_id"] = "is required"
	}
	if strings.TrimSpace(in.Reference) == "" {
		details["reference"] = "is required"
	}
	if len(in.Lines) == 0 {
		details["lines"] = "must contain at least one line"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	menuItems := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		if line.MenuItemID == "" {
			return nil, errors.Validation(map[string]string{"menu_item_id": "is required"})
		}
		if !line.Quantity.IsPositive() {
			return nil, errors.InvalidQuantity("order line quantity must be greater than zero")
		}
		menuItems = append(menuItems, line.MenuItemID)
	}

	if _, err := s.repos.Branches.GetByID(ctx, in.BranchID); err != nil {
		return nil, err
	}

	recipes, err := s.repos.Recipes.ByMenuItems(ctx, menuItems)
	if err != nil {
		return nil, err
	}
	for _, id := range menuItems {
		if _, ok := recipes[id]; !ok {
			return nil, errors.NotFound("recipe for menu item " + id)
		}
	}

	requirements := domain.Requirements(in.Lines, recipes)
	res = &ConsumeResult{Reference: in.Reference, Transactions: []*domain.Transaction{}}
	if len(requirements) == 0 {
		return res, nil
	}

	materialIDs := make([]string, len(requirements))
	keys := make([]string, len(requirements))
	for i, req := range requirements {
		materialIDs[i] = req.MaterialID
		keys[i] = lock.StockKey(in.BranchID, req.MaterialID)
	}

	release, err := acquire(ctx, s.locker, s.lockWait, s.metrics, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	consumed := make([]consumedLine, 0, len(requirements))

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		rows, err := s.repos.Quantities.LockMany(ctx, in.BranchID, materialIDs)
		if err != nil {
			return err
		}

		for _, req := range requirements {
			onHand := decimal.Zero
			if row, ok := rows[req.MaterialID]; ok {
				onHand = row.Quantity
			}
			if onHand.LessThan(req.Quantity) {
				s.metrics.InsufficientStock("consume_order")
				return errors.InsufficientStock(req.MaterialID, in.BranchID, req.Quantity.Sub(onHand).String())
			}
		}

		allocator := s.allocator()
		today := s.clock.Today()
		for _, req := range requirements {
			onHand := rows[req.MaterialID].Quantity

			batches, err := s.repos.Batches.LockLive(ctx, in.BranchID, req.MaterialID)
			if err != nil {
				return err
			}
			alloc, err := allocator.Allocate(batches, onHand, req.Quantity, false)
			if err != nil {
				return err
			}
			if err := s.repos.Batches.Deplete(ctx, alloc.Breakdown, today); err != nil {
				return err
			}
			remaining := onHand.Sub(alloc.Deducted)
			if err := s.repos.Quantities.Set(ctx, in.BranchID, req.MaterialID, remaining); err != nil {
				return err
			}

			tx := s.newTransaction(ctx, domain.TxStockOut, &domain.Material{ID: req.MaterialID, Unit: req.Unit}, in.BranchID)
			tx.Quantity = alloc.Deducted
			tx.RequestedQuantity = decimal.NewNullDecimal(req.Quantity)
			tx.Reference = in.Reference
			tx.Notes = in.Notes
			tx.Batches = alloc.Breakdown
			tx.MaterialName = req.MaterialName
			if err := s.repos.Transactions.Append(ctx, tx); err != nil {
				return err
			}

			res.Transactions = append(res.Transactions, tx)
			consumed = append(consumed, consumedLine{tx: tx, onHand: remaining})
		}

		res.Alerts = s.alerts.Pass(ctx, materialIDs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	materials := make([]messaging.ConsumedMaterial, 0, len(consumed))
	for _, c := range consumed {
		f, _ := c.tx.Quantity.Float64()
		s.metrics.Movement(string(domain.TxStockOut), f)
		materials = append(materials, c.event())
	}
	s.publisher.PublishOrderConsumed(ctx, in.BranchID, in.Reference, materials)
	s.alerts.Announce(ctx, res.Alerts)

	s.logger.Info().
		Str("branch_id", in.BranchID).
		Str("reference", in.Reference).
		Int("materials", len(consumed)).
		Msg("order consumed")
	return res, nil
}

type consumedLine struct {
	tx     *domain.Transaction
	onHand decimal.Decimal
}

func (c consumedLine) event() messaging.ConsumedMaterial {
	return messaging.ConsumedMaterial{
		TransactionID: c.tx.ID,
		MaterialID:    c.tx.MaterialID,
		Quantity:      c.tx.Quantity,
		OnHand:        c.onHand,
		Unit:          c.tx.Unit,
	}
}

func (s *InventoryService) allocator() domain.Allocator {
	return domain.Allocator{Today: s.clock.Today(), ExpiringSoonDays: s.window}
}

func (s *InventoryService) newTransaction(ctx context.Context, t domain.TransactionType, m *domain.Material, branchID string) *domain.Transaction {
	a := actor.OrSystem(ctx)
	branch := branchID
	return &domain.Transaction{
		Type:         t,
		MaterialID:   m.ID,
		BranchID:     &branch,
		Unit:         m.Unit,
		ActorID:      a.ID,
		ActorName:    a.DisplayName(),
		MaterialName: m.Name,
	}
}

// shortfall maps a strict allocation failure to InsufficientStock.
func (s *InventoryService) shortfall(err error, operation, materialID, branchID string) error {
	var short *domain.ShortfallError
	if errors.As(err, &short) {
		s.metrics.InsufficientStock(operation)
		return errors.InsufficientStock(materialID, branchID, short.Shortfall().String())
	}
	return errors.InvalidQuantity(err.Error())
}

func (s *InventoryService) afterMovement(ctx context.Context, tx *domain.Transaction, materialName string, onHand decimal.Decimal, deltas []domain.AlertDelta) {
	f, _ := tx.Quantity.Float64()
	s.metrics.Movement(string(tx.Type), f)
	s.publisher.PublishStockMoved(ctx, tx, materialName, onHand, tx.Batches)
	s.alerts.Announce(ctx, deltas)

	s.logger.WithStockKey(*tx.BranchID, tx.MaterialID).Info().
		Str("transaction_id", tx.ID).
		Str("type", string(tx.Type)).
		Str("quantity", tx.Quantity.String()).
		Str("on_hand", onHand.String()).
		Msg("stock moved")
}
