package consumers

import (
	"context"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

const menuEventsQueue = "inventory-service.menu-events"

// MenuEventHandler replicates recipe definitions published by the menu
// service into the local recipe tables.
type MenuEventHandler struct {
	db      *database.DB
	recipes *repository.RecipeRepository
	logger  *logger.Logger
}

// NewMenuEventHandler creates a new menu event handler
func NewMenuEventHandler(db *database.DB, recipes *repository.RecipeRepository, log *logger.Logger) *MenuEventHandler {
	return &MenuEventHandler{
		db:      db,
		recipes: recipes,
		logger:  log.WithComponent("menu-events"),
	}
}

// MenuEventConsumer consumes menu events
type MenuEventConsumer struct {
	consumer *messaging.Consumer
	handler  *MenuEventHandler
}

// NewMenuEventConsumer binds the menu events queue and registers the handlers
func NewMenuEventConsumer(rmq *messaging.RabbitMQ, handler *MenuEventHandler, log *logger.Logger) (*MenuEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, menuEventsQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeMenuEvents, "menu.#"); err != nil {
		return nil, err
	}

	consumer.RegisterHandler(messaging.EventRecipeUpserted, handler.HandleRecipeUpserted)
	consumer.RegisterHandler(messaging.EventMenuItemDeleted, handler.HandleMenuItemDeleted)

	return &MenuEventConsumer{consumer: consumer, handler: handler}, nil
}

// Start starts consuming messages
func (c *MenuEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleRecipeUpserted replaces the recipe of a menu item. Events that can
// never apply are acknowledged and dropped rather than retried.
func (h *MenuEventHandler) HandleRecipeUpserted(ctx context.Context, event *messaging.Event) error {
	var data messaging.RecipeUpsertedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if data.MenuItemID == "" || !data.YieldQuantity.IsPositive() {
		h.logger.Warn().
			Str("event_id", event.ID).
			Str("menu_item_id", data.MenuItemID).
			Str("yield", data.YieldQuantity.String()).
			Msg("dropping unusable recipe event")
		return nil
	}

	rec := &domain.Recipe{
		ID:            data.RecipeID,
		MenuItemID:    data.MenuItemID,
		MenuItemName:  data.MenuItemName,
		YieldQuantity: data.YieldQuantity,
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.MenuItemName == "" {
		rec.MenuItemName = data.MenuItemID
	}

	seen := map[string]int{}
	for _, ing := range data.Ingredients {
		if ing.MaterialID == "" || !ing.Quantity.IsPositive() {
			continue
		}
		if i, ok := seen[ing.MaterialID]; ok {
			rec.Items[i].Quantity = rec.Items[i].Quantity.Add(ing.Quantity)
			continue
		}
		seen[ing.MaterialID] = len(rec.Items)
		rec.Items = append(rec.Items, domain.RecipeItem{MaterialID: ing.MaterialID, Quantity: ing.Quantity})
	}

	err := h.db.WithTx(ctx, func(ctx context.Context) error {
		return h.recipes.Upsert(ctx, rec)
	})
	if err != nil {
		return err
	}

	h.logger.Info().
		Str("menu_item_id", rec.MenuItemID).
		Str("recipe_id", rec.ID).
		Int("ingredients", len(rec.Items)).
		Msg("recipe replicated")
	return nil
}

// HandleMenuItemDeleted stops a retired menu item from being consumed.
func (h *MenuEventHandler) HandleMenuItemDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.MenuItemDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	h.logger.Info().
		Str("menu_item_id", data.MenuItemID).
		Msg("received menu item deleted event")

	return h.recipes.DeactivateMenuItem(ctx, data.MenuItemID)
}
