package live

import (
	"time"

	"brightcart/internal/models"
)

// EventType enumerates the order lifecycle events flowing through the feed.
type EventType string

const (
	// EventTypeOrderPlaced is emitted when a customer places an order.
	EventTypeOrderPlaced EventType = "order_placed"
	// EventTypeOrderPaid is emitted when an order payment is confirmed.
	EventTypeOrderPaid EventType = "order_paid"
	// EventTypeOrderDelivered is emitted when an order is marked delivered.
	EventTypeOrderDelivered EventType = "order_delivered"
	// EventTypeOrderCancelled is emitted when a pending order is cancelled.
	EventTypeOrderCancelled EventType = "order_cancelled"
)

// Event is the wire representation forwarded to the feed queue and pushed to
// connected dashboard sockets.
type Event struct {
	Type       EventType   `json:"type"`
	Order      *OrderEvent `json:"order,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// OrderEvent carries the order summary a dashboard needs to render an
// activity row without a follow-up fetch.
type OrderEvent struct {
	OrderID    string       `json:"orderId"`
	UserID     string       `json:"userId"`
	Status     string       `json:"status"`
	ItemCount  int          `json:"itemCount"`
	TotalPrice models.Money `json:"totalPrice"`
}

// NewOrderEvent builds a feed event from an order snapshot.
func NewOrderEvent(eventType EventType, order models.Order) Event {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return Event{
		Type: eventType,
		Order: &OrderEvent{
			OrderID:    order.ID,
			UserID:     order.UserID,
			Status:     order.Status,
			ItemCount:  count,
			TotalPrice: order.TotalPrice,
		},
		OccurredAt: time.Now().UTC(),
	}
}
