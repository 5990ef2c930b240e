package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Inventory events
	EventStockReceived  = "inventory.stock.received"
	EventStockWithdrawn = "inventory.stock.withdrawn"
	EventStockAdjusted  = "inventory.stock.adjusted"
	EventOrderConsumed  = "inventory.order.consumed"
	EventAlertRaised    = "inventory.alert.raised"
	EventAlertResolved  = "inventory.alert.resolved"
	EventBatchExpired   = "inventory.batch.expired"

	// Menu events, consumed to replicate recipes
	EventRecipeUpserted  = "menu.recipe.upserted"
	EventMenuItemDeleted = "menu.item.deleted"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangeMenuEvents      = "menu.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Inventory Events

// BatchDelta is one batch touched by a movement
type BatchDelta struct {
	BatchID    string          `json:"batch_id"`
	ExpiryDate string          `json:"expiry_date"`
	Quantity   decimal.Decimal `json:"quantity"`
	Remaining  decimal.Decimal `json:"remaining"`
}

// StockMovedEvent is published for received, withdrawn and adjusted stock
type StockMovedEvent struct {
	TransactionID     string           `json:"transaction_id"`
	Type              string           `json:"type"`
	MaterialID        string           `json:"material_id"`
	MaterialName      string           `json:"material_name"`
	BranchID          string           `json:"branch_id"`
	Quantity          decimal.Decimal  `json:"quantity"`
	RequestedQuantity *decimal.Decimal `json:"requested_quantity,omitempty"`
	OnHand            decimal.Decimal  `json:"on_hand"`
	Unit              string           `json:"unit"`
	Reference         string           `json:"reference,omitempty"`
	ActorID           string           `json:"actor_id,omitempty"`
	Batches           []BatchDelta     `json:"batches,omitempty"`
}

// ConsumedMaterial is one ingredient line of a consumed order
type ConsumedMaterial struct {
	TransactionID string          `json:"transaction_id"`
	MaterialID    string          `json:"material_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	OnHand        decimal.Decimal `json:"on_hand"`
	Unit          string          `json:"unit"`
}

// OrderConsumedEvent is published when an order's ingredients are deducted
type OrderConsumedEvent struct {
	BranchID  string             `json:"branch_id"`
	Reference string             `json:"reference"`
	Materials []ConsumedMaterial `json:"materials"`
}

// AlertEvent is published when an alert is raised or resolved
type AlertEvent struct {
	AlertID           string          `json:"alert_id"`
	AlertType         string          `json:"alert_type"`
	Status            string          `json:"status"`
	MaterialID        string          `json:"material_id"`
	BranchID          string          `json:"branch_id,omitempty"`
	Message           string          `json:"message"`
	CurrentQuantity   decimal.Decimal `json:"current_quantity"`
	AffectedBranchIDs []string        `json:"affected_branch_ids"`
	ResolvedBy        string          `json:"resolved_by,omitempty"`
}

// BatchExpiredEvent is published when the refresh job marks a batch expired
type BatchExpiredEvent struct {
	BatchID    string          `json:"batch_id"`
	MaterialID string          `json:"material_id"`
	BranchID   string          `json:"branch_id"`
	ExpiryDate string          `json:"expiry_date"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// Menu Events

// RecipeIngredient is one line of a replicated recipe
type RecipeIngredient struct {
	MaterialID string          `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// RecipeUpsertedEvent carries the full recipe of a menu item
type RecipeUpsertedEvent struct {
	MenuItemID    string             `json:"menu_item_id"`
	MenuItemName  string             `json:"menu_item_name"`
	RecipeID      string             `json:"recipe_id"`
	YieldQuantity decimal.Decimal    `json:"yield_quantity"`
	Ingredients   []RecipeIngredient `json:"ingredients"`
}

// MenuItemDeletedEvent is published when a menu item is retired
type MenuItemDeletedEvent struct {
	MenuItemID string `json:"menu_item_id"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
