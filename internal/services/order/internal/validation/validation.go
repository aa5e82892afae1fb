package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"restaurant-system/internal/models"
)

const maxCustomerNameLength = 100

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9]{6,15}$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// ValidateOrderRequest checks the shape of a checkout. Dish references are
// resolved against the catalog by the caller.
func ValidateOrderRequest(req *models.CreateOrderRequest) error {
	if err := validateTableNumber(req.TableNumber); err != nil {
		return err
	}

	if err := validateItems(req.Items); err != nil {
		return err
	}

	if err := validateCustomerName(req.CustomerName); err != nil {
		return err
	}

	if err := validateCustomerPhone(req.CustomerPhone); err != nil {
		return err
	}

	if err := validatePaymentMethod(req.PaymentMethod); err != nil {
		return err
	}

	return nil
}

// NormalizePhone strips spaces, hyphens and parentheses from a phone number
func NormalizePhone(phone string) string {
	return phoneStripper.Replace(strings.TrimSpace(phone))
}

func validateTableNumber(table int) error {
	if table <= 0 {
		return models.ValidationError{
			Field:   "table_number",
			Message: "table number must be a positive integer",
		}
	}
	return nil
}

func validateCustomerName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ValidationError{
			Field:   "customer_name",
			Message: "customer name is required",
		}
	}

	if utf8.RuneCountInString(name) > maxCustomerNameLength {
		return models.ValidationError{
			Field:   "customer_name",
			Message: fmt.Sprintf("customer name must be at most %d characters", maxCustomerNameLength),
		}
	}
	return nil
}

func validateCustomerPhone(phone string) error {
	if !phonePattern.MatchString(NormalizePhone(phone)) {
		return models.ValidationError{
			Field:   "customer_phone",
			Message: "customer phone must contain 6 to 15 digits with an optional leading +",
		}
	}
	return nil
}

func validatePaymentMethod(method models.PaymentMethod) error {
	if !method.Valid() {
		return models.ValidationError{
			Field:   "payment_method",
			Message: "payment method must be one of: UPI, Card, Cash",
		}
	}
	return nil
}

func validateItems(items []models.OrderItemRequest) error {
	if len(items) == 0 {
		return models.ValidationError{
			Field:   "items",
			Message: "items cannot be empty",
		}
	}

	for i, item := range items {
		if err := validateItem(item, i); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(item models.OrderItemRequest, index int) error {
	if strings.TrimSpace(item.DishID) == "" {
		return models.ValidationError{
			Field:   fmt.Sprintf("items[%d].dish_id", index),
			Message: "dish id is required",
		}
	}

	if item.Quantity <= 0 {
		return models.ValidationError{
			Field:   fmt.Sprintf("items[%d].quantity", index),
			Message: "item quantity must be greater than 0",
		}
	}
	return nil
}
