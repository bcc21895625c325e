package service

import (
	"errors"

	"order-service/internal/models"
)

// Domain errors surfaced to the HTTP boundary.
var (
	ErrItemNotFound   = errors.New("service: item not found")
	ErrNotEnoughStock = errors.New("service: not enough stock")
	ErrOrderNotFound  = errors.New("service: order not found")
)

// OrderAlreadyExistsError reports a duplicate create-order request. It
// carries the previously accepted order and its current status so the caller
// can answer 200 with the original data.
type OrderAlreadyExistsError struct {
	Order  *models.Order
	Status models.Status
}

func (e *OrderAlreadyExistsError) Error() string {
	return "service: order already exists"
}
