package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxStockIn    TransactionType = "stock_in"
	TxStockOut   TransactionType = "stock_out"
	TxAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	return t == TxStockIn || t == TxStockOut || t == TxAdjustment
}

// Transaction is an append-only ledger entry. Quantity is the magnitude
// actually moved for stock_in/stock_out and the signed delta for adjustment.
// RequestedQuantity is kept for stock_out so clamped withdrawals stay visible.
type Transaction struct {
	ID                string              `json:"id" db:"id"`
	Type              TransactionType     `json:"type" db:"type"`
	MaterialID        string              `json:"material_id" db:"material_id"`
	BranchID          *string             `json:"branch_id" db:"branch_id"`
	Quantity          decimal.Decimal     `json:"quantity" db:"quantity"`
	RequestedQuantity decimal.NullDecimal `json:"requested_quantity" db:"requested_quantity"`
	Unit              string              `json:"unit" db:"unit"`
	Reference         string              `json:"reference" db:"reference"`
	Notes             string              `json:"notes" db:"notes"`
	ActorID           string              `json:"actor_id" db:"actor_id"`
	ActorName         string              `json:"actor_name" db:"actor_name"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	MaterialName      string              `json:"material_name,omitempty" db:"material_name"`
	Batches           []BatchDeduction    `json:"batches,omitempty" db:"-"`
}

// Signed returns the effect of the transaction on on-hand stock.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == TxStockOut {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// Recipe maps a menu item to the materials one yield of it consumes.
type Recipe struct {
	ID            string          `json:"id" db:"id"`
	MenuItemID    string          `json:"menu_item_id" db:"menu_item_id"`
	MenuItemName  string          `json:"menu_item_name" db:"menu_item_name"`
	YieldQuantity decimal.Decimal `json:"yield_quantity" db:"yield_quantity"`
	Items         []RecipeItem    `json:"items" db:"-"`
}

type RecipeItem struct {
	RecipeID     string          `json:"recipe_id" db:"recipe_id"`
	MaterialID   string          `json:"material_id" db:"material_id"`
	MaterialName string          `json:"material_name" db:"material_name"`
	Unit         string          `json:"unit" db:"unit"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
}

// OrderLine is one menu item of a customer order.
type OrderLine struct {
	MenuItemID string          `json:"menu_item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// Requirement is the total of one material an order needs.
type Requirement struct {
	MaterialID   string
	MaterialName string
	Unit         string
	Quantity     decimal.Decimal
}

// Requirements folds the recipes of every order line into per-material
// totals, sorted by material id so callers lock in a stable order.
func Requirements(lines []OrderLine, recipes map[string]*Recipe) []Requirement {
	totals := map[string]*Requirement{}
	var order []string

	for _, line := range lines {
		r, ok := recipes[line.MenuItemID]
		if !ok {
			continue
		}
		for _, item := range r.Items {
			need := RequiredQuantity(item.Quantity, line.Quantity, r.YieldQuantity)
			req, ok := totals[item.MaterialID]
			if !ok {
				req = &Requirement{MaterialID: item.MaterialID, MaterialName: item.MaterialName, Unit: item.Unit}
				totals[item.MaterialID] = req
				order = append(order, item.MaterialID)
			}
			req.Quantity = req.Quantity.Add(need)
		}
	}

	sort.Strings(order)
	out := make([]Requirement, 0, len(order))
	for _, id := range order {
		if totals[id].Quantity.IsPositive() {
			out = append(out, *totals[id])
		}
	}
	return out
}
