package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"restaurant-system/internal/database"
	"restaurant-system/internal/models"
)

// PostgresCatalog reads dishes from the dishes table
type PostgresCatalog struct {
	db database.Querier
}

// NewPostgresCatalog creates a catalog backed by PostgreSQL
func NewPostgresCatalog(db database.Querier) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// GetDish looks up a dish of the restaurant. found is false when no such dish exists.
func (c *PostgresCatalog) GetDish(ctx context.Context, restaurantID, dishID string) (models.Dish, bool, error) {
	var (
		dish  models.Dish
		price string
	)

	err := c.db.QueryRow(ctx, database.GetDishSQL, dishID, restaurantID).
		Scan(&dish.ID, &dish.RestaurantID, &dish.Name, &price, &dish.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Dish{}, false, nil
	}
	if err != nil {
		return models.Dish{}, false, fmt.Errorf("query dish %s: %w", dishID, err)
	}

	if dish.Price, err = decimal.NewFromString(price); err != nil {
		return models.Dish{}, false, fmt.Errorf("parse price of dish %s: %w", dishID, err)
	}

	return dish, true, nil
}
