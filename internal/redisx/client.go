package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// CachedStatus is the body stored under KeyOrderStatus.
type CachedStatus struct {
	OrderID    string        `json:"order_id"`
	CustomerID string        `json:"customer_id"`
	Status     orders.Status `json:"status"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Cache is the read-side shortcut in front of the order store. The store stays
// the source of truth; every method is best effort.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func (c *Cache) Status(ctx context.Context, orderID string) (CachedStatus, bool) {
	b, err := c.rdb.Get(ctx, OrderStatusKey(orderID)).Bytes()
	if err != nil {
		return CachedStatus{}, false
	}
	var cs CachedStatus
	if err := json.Unmarshal(b, &cs); err != nil || cs.Status == "" {
		return CachedStatus{}, false
	}
	return cs, true
}

func (c *Cache) SetStatus(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(CachedStatus{OrderID: o.ID, CustomerID: o.CustomerID, Status: o.Status, UpdatedAt: o.UpdatedAt})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, OrderStatusKey(o.ID), b, TTLStatusCache).Err()
}

func (c *Cache) InvalidateStatus(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, OrderStatusKey(orderID)).Err()
}

// RememberIdempotency maps a customer's idempotency key to the order it created.
func (c *Cache) RememberIdempotency(ctx context.Context, customerID, key, orderID string) error {
	return c.rdb.Set(ctx, IdemOrderPlaceKey(customerID, key), orderID, TTLIdempotency).Err()
}

func (c *Cache) LookupIdempotency(ctx context.Context, customerID, key string) (string, bool) {
	id, err := c.rdb.Get(ctx, IdemOrderPlaceKey(customerID, key)).Result()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// Dedup marks event ids as processed for one consuming service.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

// Claim returns true when eventID was not seen before and is now taken.
func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, DedupKey(d.service, eventID), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup claim: %w", err)
	}
	return ok, nil
}

// Release forgets eventID so a redelivery is processed again.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	err := d.rdb.Del(ctx, DedupKey(d.service, eventID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis dedup release: %w", err)
	}
	return nil
}
