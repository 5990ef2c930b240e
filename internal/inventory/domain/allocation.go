package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BatchDeduction is one line of an allocation's breakdown.
type BatchDeduction struct {
	BatchID    string          `json:"batch_id" db:"batch_id"`
	ExpiryDate time.Time       `json:"expiry_date" db:"expiry_date"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Remaining  decimal.Decimal `json:"remaining" db:"-"`
}

// Allocation is the outcome of planning a stock-out.
type Allocation struct {
	Requested decimal.Decimal  `json:"requested"`
	Deducted  decimal.Decimal  `json:"deducted"`
	Breakdown []BatchDeduction `json:"batch_breakdown"`
	// Untracked is the part of Deducted taken from the aggregate only,
	// i.e. stock that was never batched (supplies, counted adjustments).
	Untracked decimal.Decimal `json:"untracked"`
}

// Clamped reports whether less than requested could be deducted.
func (a *Allocation) Clamped() bool {
	return a.Deducted.LessThan(a.Requested)
}

// ShortfallError is returned when a strict allocation cannot be covered.
type ShortfallError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("requested %s but only %s available", e.Requested, e.Available)
}

// Shortfall is the missing amount.
func (e *ShortfallError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// Allocator picks which batches a stock-out depletes.
type Allocator struct {
	Today            time.Time
	ExpiringSoonDays int
}

// NewAllocator returns an allocator for the given day using the default window.
func NewAllocator(today time.Time) Allocator {
	return Allocator{Today: Date(today), ExpiringSoonDays: DefaultExpiringSoonDays}
}

// Order returns the live candidate batches in depletion order.
//
// Forced mode keeps only expired batches. Otherwise batches expiring on or
// before today+window (expired ones included) go first, then the rest; both
// groups ascend by expiry.
func (a Allocator) Order(batches []Batch, forceExpired bool) []Batch {
	horizon := a.Today.AddDate(0, 0, a.ExpiringSoonDays)

	var urgent, regular []Batch
	for _, b := range batches {
		if !b.Live() {
			continue
		}
		if forceExpired {
			if b.ExpiredOn(a.Today) {
				urgent = append(urgent, b)
			}
			continue
		}
		if !Date(b.ExpiryDate).After(horizon) {
			urgent = append(urgent, b)
		} else {
			regular = append(regular, b)
		}
	}

	byExpiry := func(list []Batch) {
		sort.SliceStable(list, func(i, j int) bool {
			ei, ej := Date(list[i].ExpiryDate), Date(list[j].ExpiryDate)
			if ei.Equal(ej) {
				return list[i].PurchaseDate.Before(list[j].PurchaseDate)
			}
			return ei.Before(ej)
		})
	}
	byExpiry(urgent)
	byExpiry(regular)

	return append(urgent, regular...)
}

// Allocate plans a stock-out of requested against onHand.
//
// Regular mode clamps to onHand and never fails for lack of stock; any part
// not covered by batches is taken from the aggregate alone. Forced mode is
// strict: it fails with *ShortfallError before anything is planned when the
// expired stock cannot cover the request.
func (a Allocator) Allocate(batches []Batch, onHand, requested decimal.Decimal, forceExpired bool) (*Allocation, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("requested quantity must be positive, got %s", requested)
	}
	if onHand.IsNegative() {
		onHand = decimal.Zero
	}

	candidates := a.Order(batches, forceExpired)

	target := decimal.Min(requested, onHand)
	if forceExpired {
		expired := decimal.Zero
		for _, b := range candidates {
			expired = expired.Add(b.Quantity)
		}
		available := decimal.Min(expired, onHand)
		if requested.GreaterThan(available) {
			return nil, &ShortfallError{Requested: requested, Available: available}
		}
		target = requested
	}

	alloc := &Allocation{
		Requested: requested,
		Breakdown: []BatchDeduction{},
	}

	left := target
	for _, b := range candidates {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(left, b.Quantity)
		alloc.Breakdown = append(alloc.Breakdown, BatchDeduction{
			BatchID:    b.ID,
			ExpiryDate: b.ExpiryDate,
			Quantity:   take,
			Remaining:  b.Quantity.Sub(take),
		})
		left = left.Sub(take)
	}

	alloc.Untracked = left
	alloc.Deducted = target
	return alloc, nil
}

// RequiredQuantity scales a recipe ingredient to an ordered quantity,
// rounded up to three decimals so a small share never rounds to nothing.
func RequiredQuantity(ingredientQty, orderQty, yield decimal.Decimal) decimal.Decimal {
	if !yield.IsPositive() {
		yield = decimal.NewFromInt(1)
	}
	return ingredientQty.Mul(orderQty).Div(yield).RoundCeil(3)
}
