package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotency for order placement: idem:order:place:{customer_id}:{idempotency_key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s:%s"

	// Cached order status: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Event processing dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemOrderPlaceKey(customerID, key string) string {
	return fmt.Sprintf(KeyIdemOrderPlace, customerID, key)
}

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }
