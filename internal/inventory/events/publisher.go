package events

import (
	"context"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

// Sender is satisfied by *messaging.Publisher.
type Sender interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes inventory-related events. A nil
// publisher drops every event, so the service runs without a broker.
type InventoryEventPublisher struct {
	publisher Sender
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a new inventory event publisher
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}

	return NewWithSender(publisher, log), nil
}

// NewWithSender wraps an existing sender
func NewWithSender(s Sender, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: s,
		logger:    log,
	}
}

// PublishStockMoved publishes the received, withdrawn or adjusted event matching the transaction type
func (p *InventoryEventPublisher) PublishStockMoved(ctx context.Context, tx *domain.Transaction, materialName string, onHand decimal.Decimal, breakdown []domain.BatchDeduction) {
	if p == nil {
		return
	}

	eventType := messaging.EventStockAdjusted
	switch tx.Type {
	case domain.TxStockIn:
		eventType = messaging.EventStockReceived
	case domain.TxStockOut:
		eventType = messaging.EventStockWithdrawn
	}

	data := messaging.StockMovedEvent{
		TransactionID: tx.ID,
		Type:          string(tx.Type),
		MaterialID:    tx.MaterialID,
		MaterialName:  materialName,
		Quantity:      tx.Quantity,
		OnHand:        onHand,
		Unit:          tx.Unit,
		Reference:     tx.Reference,
		ActorID:       tx.ActorID,
		Batches:       batchDeltas(breakdown),
	}
	if tx.BranchID != nil {
		data.BranchID = *tx.BranchID
	}
	if tx.RequestedQuantity.Valid {
		requested := tx.RequestedQuantity.Decimal
		data.RequestedQuantity = &requested
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("failed to publish stock moved event")
	}
}

// PublishOrderConsumed publishes one event for a consumed order
func (p *InventoryEventPublisher) PublishOrderConsumed(ctx context.Context, branchID, reference string, materials []messaging.ConsumedMaterial) {
	if p == nil {
		return
	}

	data := messaging.OrderConsumedEvent{
		BranchID:  branchID,
		Reference: reference,
		Materials: materials,
	}

	if err := p.publisher.Publish(ctx, messaging.EventOrderConsumed, data); err != nil {
		p.logger.Error().Err(err).Str("reference", reference).Msg("failed to publish order consumed event")
	}
}

// PublishAlertChanged publishes raised and resolved alerts. Snapshot updates are not published.
func (p *InventoryEventPublisher) PublishAlertChanged(ctx context.Context, delta domain.AlertDelta) {
	if p == nil {
		return
	}

	var eventType string
	switch delta.Action {
	case domain.DeltaCreated:
		eventType = messaging.EventAlertRaised
	case domain.DeltaResolved:
		eventType = messaging.EventAlertResolved
	default:
		return
	}

	a := delta.Alert
	data := messaging.AlertEvent{
		AlertID:           a.ID,
		AlertType:         string(a.Type),
		Status:            string(a.Status),
		MaterialID:        a.MaterialID,
		Message:           a.Message,
		CurrentQuantity:   a.CurrentQuantity,
		AffectedBranchIDs: []string(a.AffectedBranchIDs),
	}
	if a.BranchID != nil {
		data.BranchID = *a.BranchID
	}
	if a.ResolvedBy != nil {
		data.ResolvedBy = *a.ResolvedBy
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to publish alert event")
	}
}

// PublishBatchExpired publishes a batch newly marked as expired
func (p *InventoryEventPublisher) PublishBatchExpired(ctx context.Context, b domain.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchExpiredEvent{
		BatchID:    b.ID,
		MaterialID: b.MaterialID,
		BranchID:   b.BranchID,
		ExpiryDate: b.ExpiryDate.Format("2006-01-02"),
		Quantity:   b.Quantity,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchExpired, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", b.ID).Msg("failed to publish batch expired event")
	}
}

func batchDeltas(breakdown []domain.BatchDeduction) []messaging.BatchDelta {
	if len(breakdown) == 0 {
		return nil
	}
	out := make([]messaging.BatchDelta, len(breakdown))
	for i, d := range breakdown {
		out[i] = messaging.BatchDelta{
			BatchID:    d.BatchID,
			ExpiryDate: d.ExpiryDate.Format("2006-01-02"),
			Quantity:   d.Quantity,
			Remaining:  d.Remaining,
		}
	}
	return out
}
