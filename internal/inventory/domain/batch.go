package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultExpiringSoonDays is the look-ahead window for expiring_soon.
const DefaultExpiringSoonDays = 2

// Batch is an expiry-dated lot received in one stock-in event. Batches are
// depleted in place and never resurrected once they reach zero.
type Batch struct {
	ID               string          `json:"id" db:"id"`
	MaterialID       string          `json:"material_id" db:"material_id"`
	BranchID         string          `json:"branch_id" db:"branch_id"`
	PurchaseOrderRef *string         `json:"purchase_order_ref,omitempty" db:"purchase_order_ref"`
	InitialQuantity  decimal.Decimal `json:"initial_quantity" db:"initial_quantity"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	PurchaseDate     time.Time       `json:"purchase_date" db:"purchase_date"`
	ExpiryDate       time.Time       `json:"expiry_date" db:"expiry_date"`
	IsExpired        bool            `json:"is_expired" db:"is_expired"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Date truncates t to a calendar day in its own location, expressed as UTC
// midnight so it compares equal to DATE columns read back from postgres.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the calendar day of now in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Date(now.In(loc))
}

// ExpiryFor computes the expiry date of a lot bought on purchase.
func ExpiryFor(purchase time.Time, shelfLifeDays int) time.Time {
	return Date(purchase).AddDate(0, 0, shelfLifeDays)
}

// Live reports whether the batch still holds stock.
func (b *Batch) Live() bool {
	return b.Quantity.IsPositive()
}

// ExpiredOn applies the strict rule: a batch is expired only after its expiry day.
func (b *Batch) ExpiredOn(today time.Time) bool {
	return Date(b.ExpiryDate).Before(Date(today))
}

// ExpiringSoonOn reports whether the batch expires within window days of today
// without being expired yet.
func (b *Batch) ExpiringSoonOn(today time.Time, window int) bool {
	if b.ExpiredOn(today) {
		return false
	}
	return !Date(b.ExpiryDate).After(Date(today).AddDate(0, 0, window))
}

// DaysUntilExpiry is negative once the batch is past expiry.
func (b *Batch) DaysUntilExpiry(today time.Time) int {
	return int(Date(b.ExpiryDate).Sub(Date(today)).Hours() / 24)
}

// Refresh recomputes IsExpired and reports whether it flipped.
func (b *Batch) Refresh(today time.Time) bool {
	expired := b.ExpiredOn(today)
	changed := expired != b.IsExpired
	b.IsExpired = expired
	return changed
}
