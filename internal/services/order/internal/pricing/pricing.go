// Package pricing derives order amounts from captured line items.
package pricing

import (
	"github.com/shopspring/decimal"

	"restaurant-system/internal/models"
)

// SurchargeRate is the fixed service charge applied on top of the subtotal
var SurchargeRate = decimal.RequireFromString("0.05")

// Breakdown is the result of pricing a set of line items
type Breakdown struct {
	Subtotal  decimal.Decimal
	Surcharge decimal.Decimal
	Total     decimal.Decimal
}

// Calculate prices items using their captured unit prices. It is pure and can
// be re-run on persisted line items to audit a stored total.
func Calculate(items []models.OrderItem) Breakdown {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	total := subtotal.Mul(decimal.NewFromInt(1).Add(SurchargeRate)).Round(2)

	return Breakdown{
		Subtotal:  subtotal.Round(2),
		Surcharge: total.Sub(subtotal.Round(2)),
		Total:     total,
	}
}

// Verify reports whether the stored total of an order still matches its line items
func Verify(order *models.Order) bool {
	return Calculate(order.Items).Total.Equal(order.Total)
}
