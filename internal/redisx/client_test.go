package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "idem:order:place:cust-1:abc", IdemOrderPlaceKey("cust-1", "abc"))
	assert.Equal(t, "order_status:o-1", OrderStatusKey("o-1"))
	assert.Equal(t, "dedup:notifier:e-1", DedupKey("notifier", "e-1"))
}

func testClient(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewCache(rdb)
}

func TestCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	o := orders.Order{ID: uuid.NewString(), CustomerID: "cust-1", Status: orders.StatusShipped, UpdatedAt: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, c.SetStatus(ctx, o))
	got, ok := c.Status(ctx, o.ID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusShipped, got.Status)
	assert.Equal(t, "cust-1", got.CustomerID)

	require.NoError(t, c.InvalidateStatus(ctx, o.ID))
	_, ok = c.Status(ctx, o.ID)
	assert.False(t, ok)

	key := uuid.NewString()
	require.NoError(t, c.RememberIdempotency(ctx, "cust-1", key, o.ID))
	id, ok := c.LookupIdempotency(ctx, "cust-1", key)
	assert.True(t, ok)
	assert.Equal(t, o.ID, id)

	_, ok = c.LookupIdempotency(ctx, "cust-2", key)
	assert.False(t, ok)
}

func TestDedupClaimOnce(t *testing.T) {
	c := testClient(t)
	d := NewDedup(c.rdb, "test")
	ctx := context.Background()
	id := uuid.NewString()

	ok, err := d.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, id))
	ok, err = d.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}
