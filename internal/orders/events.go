package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventLowStock           = "LowStock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or product_id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEvent is emitted after an order is placed or changes status.
type OrderEvent struct {
	Type           string    `json:"-"`
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	CustomerID     string    `json:"customer_id"`
	ShopID         string    `json:"shop_id"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	Status         Status    `json:"status"`
	Total          string    `json:"total"`
	ActorID        string    `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// LowStockEvent signals that a reservation took a product to or below its
// minimum stock level.
type LowStockEvent struct {
	ProductID     string    `json:"product_id"`
	ShopID        string    `json:"shop_id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	StockQuantity int       `json:"stock_quantity"`
	MinStockLevel int       `json:"min_stock_level"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev OrderEvent) error
	PublishLowStock(ctx context.Context, ev LowStockEvent) error
}

func NewOrderEvent(typ string, o *Order, previous Status, actor Actor, at time.Time) OrderEvent {
	return OrderEvent{
		Type:           typ,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		ShopID:         o.ShopID,
		PreviousStatus: previous,
		Status:         o.Status,
		Total:          o.Total.StringFixed(2),
		ActorID:        actor.ID,
		OccurredAt:     at,
	}
}
