package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaterialType classifies a material and drives its default shelf life.
type MaterialType string

const (
	MaterialRaw           MaterialType = "raw"
	MaterialProcessed     MaterialType = "processed"
	MaterialSemiProcessed MaterialType = "semi_processed"
	MaterialSupplies      MaterialType = "supplies"
)

// Default thresholds applied when a material is first seen.
var (
	DefaultMinimumThreshold = decimal.NewFromInt(10)
	DefaultReorderLevel     = decimal.NewFromInt(20)
)

// shelfLifeDefaults is keyed by material type. A zero entry means the type
// is not perishable and never gets batches.
var shelfLifeDefaults = map[MaterialType]int{
	MaterialRaw:           7,
	MaterialProcessed:     180,
	MaterialSemiProcessed: 14,
	MaterialSupplies:      0,
}

// MaterialTypes lists every valid type in display order.
func MaterialTypes() []MaterialType {
	return []MaterialType{MaterialRaw, MaterialProcessed, MaterialSemiProcessed, MaterialSupplies}
}

func (t MaterialType) Valid() bool {
	_, ok := shelfLifeDefaults[t]
	return ok
}

// DefaultShelfLifeDays returns the default for t and whether t is perishable at all.
func DefaultShelfLifeDays(t MaterialType) (int, bool) {
	days := shelfLifeDefaults[t]
	return days, days > 0
}

// ResolveShelfLife picks the effective shelf life for a material of type t.
// Supplies are never perishable. A positive explicit value wins over the default.
func ResolveShelfLife(t MaterialType, explicit *int) *int {
	if t == MaterialSupplies {
		return nil
	}
	if explicit != nil && *explicit > 0 {
		days := *explicit
		return &days
	}
	if days, ok := DefaultShelfLifeDays(t); ok {
		return &days
	}
	return nil
}

// Material is a catalog entry.
type Material struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Unit             string          `json:"unit" db:"unit"`
	Type             MaterialType    `json:"type" db:"type"`
	MinimumThreshold decimal.Decimal `json:"minimum_threshold" db:"minimum_threshold"`
	ReorderLevel     decimal.Decimal `json:"reorder_level" db:"reorder_level"`
	ShelfLifeDays    *int            `json:"shelf_life_days" db:"shelf_life_days"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Perishable reports whether stock-in of this material creates batches.
func (m *Material) Perishable() bool {
	return m.ShelfLifeDays != nil && *m.ShelfLifeDays > 0
}

// NormalizeName trims and collapses whitespace so that lookups are stable.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ValidateThresholds enforces 0 <= minimum <= reorder.
// The returned map is keyed by field name and empty when valid.
func ValidateThresholds(minimum, reorder decimal.Decimal) map[string]string {
	details := map[string]string{}
	if minimum.IsNegative() {
		details["minimum_threshold"] = "must not be negative"
	}
	if reorder.IsNegative() {
		details["reorder_level"] = "must not be negative"
	}
	if len(details) == 0 && reorder.LessThan(minimum) {
		details["reorder_level"] = "must be greater than or equal to minimum_threshold"
	}
	return details
}

// Branch is a physical location holding its own inventory.
type Branch struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address" db:"address"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BranchQuantity is the authoritative on-hand total for one (branch, material).
type BranchQuantity struct {
	BranchID     string          `json:"branch_id" db:"branch_id"`
	MaterialID   string          `json:"material_id" db:"material_id"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	BranchName   string          `json:"branch_name,omitempty" db:"branch_name"`
	MaterialName string          `json:"material_name,omitempty" db:"material_name"`
	Unit         string          `json:"unit,omitempty" db:"unit"`
}
