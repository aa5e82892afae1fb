package statemachine

import "restaurant-system/internal/models"

// transitions is the fixed fulfillment table; served and cancelled are terminal
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusReceived:  {models.StatusPreparing, models.StatusCancelled},
	models.StatusPreparing: {models.StatusReady, models.StatusCancelled},
	models.StatusReady:     {models.StatusServed, models.StatusCancelled},
	models.StatusServed:    {},
	models.StatusCancelled: {},
}

// Initial is the status every new order starts in
const Initial = models.StatusReceived

// CanTransition reports whether current -> requested is an edge of the table
func CanTransition(current, requested models.OrderStatus) bool {
	for _, next := range transitions[current] {
		if next == requested {
			return true
		}
	}
	return false
}

// Check returns an InvalidTransitionError when current -> requested is not allowed
func Check(current, requested models.OrderStatus) error {
	if !CanTransition(current, requested) {
		return models.InvalidTransitionError{From: current, To: requested}
	}
	return nil
}

// AllowedFrom returns the statuses reachable from current in one step
func AllowedFrom(current models.OrderStatus) []models.OrderStatus {
	allowed := transitions[current]
	result := make([]models.OrderStatus, len(allowed))
	copy(result, allowed)
	return result
}

// IsTerminal reports whether no transition leaves status
func IsTerminal(status models.OrderStatus) bool {
	return len(transitions[status]) == 0
}
