package repository

import (
	"context"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/lib/pq"
)

// RecipeRepository reads the replicated recipe definitions.
type RecipeRepository struct {
	db *database.DB
}

// NewRecipeRepository creates a new recipe repository
func NewRecipeRepository(db *database.DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// ByMenuItems returns the recipes of the given menu items keyed by menu item id.
// Menu items without a recipe are absent from the map.
func (r *RecipeRepository) ByMenuItems(ctx context.Context, menuItemIDs []string) (map[string]*domain.Recipe, error) {
	out := map[string]*domain.Recipe{}
	if len(menuItemIDs) == 0 {
		return out, nil
	}

	recipesQuery := `
		SELECT r.id, r.menu_item_id, mi.name AS menu_item_name, r.yield_quantity
		FROM recipes r
		JOIN menu_items mi ON mi.id = r.menu_item_id
		WHERE r.menu_item_id = ANY($1) AND mi.is_active = TRUE
	`
	recipes := []*domain.Recipe{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &recipes, recipesQuery, pq.Array(menuItemIDs)); err != nil {
		return nil, err
	}
	if len(recipes) == 0 {
		return out, nil
	}

	byID := make(map[string]*domain.Recipe, len(recipes))
	recipeIDs := make([]string, 0, len(recipes))
	for _, rec := range recipes {
		byID[rec.ID] = rec
		recipeIDs = append(recipeIDs, rec.ID)
		out[rec.MenuItemID] = rec
	}

	itemsQuery := `
		SELECT ri.recipe_id, ri.material_id, m.name AS material_name, m.unit, ri.quantity
		FROM recipe_items ri
		JOIN materials m ON m.id = ri.material_id
		WHERE ri.recipe_id = ANY($1)
		ORDER BY ri.recipe_id, ri.material_id
	`
	items := []domain.RecipeItem{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &items, itemsQuery, pq.Array(recipeIDs)); err != nil {
		return nil, err
	}
	for _, item := range items {
		if rec, ok := byID[item.RecipeID]; ok {
			rec.Items = append(rec.Items, item)
		}
	}

	return out, nil
}

// Upsert replaces the recipe of a menu item, creating the menu item when
// needed. Run it inside a transaction.
func (r *RecipeRepository) Upsert(ctx context.Context, rec *domain.Recipe) error {
	conn := r.db.Conn(ctx)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO menu_items (id, name, is_active) VALUES ($1, $2, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = TRUE`,
		rec.MenuItemID, rec.MenuItemName,
	)
	if err != nil {
		return database.MapError(err)
	}

	err = conn.QueryRowxContext(ctx, `
		INSERT INTO recipes (id, menu_item_id, yield_quantity) VALUES ($1, $2, $3)
		ON CONFLICT (menu_item_id) DO UPDATE SET yield_quantity = EXCLUDED.yield_quantity
		RETURNING id`,
		rec.ID, rec.MenuItemID, rec.YieldQuantity,
	).Scan(&rec.ID)
	if err != nil {
		return database.MapError(err)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM recipe_items WHERE recipe_id = $1`, rec.ID); err != nil {
		return database.MapError(err)
	}
	for i := range rec.Items {
		rec.Items[i].RecipeID = rec.ID
		_, err := conn.ExecContext(ctx,
			`INSERT INTO recipe_items (recipe_id, material_id, quantity) VALUES ($1, $2, $3)`,
			rec.ID, rec.Items[i].MaterialID, rec.Items[i].Quantity,
		)
		if err != nil {
			return database.MapError(err)
		}
	}
	return nil
}

// DeactivateMenuItem stops a menu item from being consumed. Its recipe is kept
// so past orders stay explainable.
func (r *RecipeRepository) DeactivateMenuItem(ctx context.Context, menuItemID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `UPDATE menu_items SET is_active = FALSE WHERE id = $1`, menuItemID)
	return database.MapError(err)
}
