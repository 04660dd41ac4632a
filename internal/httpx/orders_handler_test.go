package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomyLeHuy/ecommerce-platform/internal/memstore"
	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
	"github.com/TomyLeHuy/ecommerce-platform/internal/pricing"
	"github.com/TomyLeHuy/ecommerce-platform/internal/redisx"
	"github.com/TomyLeHuy/ecommerce-platform/internal/service"
)

type nopPublisher struct{}

func (nopPublisher) PublishOrderEvent(context.Context, orders.OrderEvent) error   { return nil }
func (nopPublisher) PublishLowStock(context.Context, orders.LowStockEvent) error { return nil }

type memCache struct {
	mu     sync.Mutex
	status map[string]redisx.CachedStatus
	idem   map[string]string
	hits   int
}

func newMemCache() *memCache {
	return &memCache{status: map[string]redisx.CachedStatus{}, idem: map[string]string{}}
}

func (c *memCache) Status(_ context.Context, id string) (redisx.CachedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.status[id]
	if ok {
		c.hits++
	}
	return cs, ok
}

func (c *memCache) SetStatus(_ context.Context, o orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[o.ID] = redisx.CachedStatus{OrderID: o.ID, CustomerID: o.CustomerID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	return nil
}

func (c *memCache) RememberIdempotency(_ context.Context, customerID, key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idem[redisx.IdemOrderPlaceKey(customerID, key)] = id
	return nil
}

func (c *memCache) LookupIdempotency(_ context.Context, customerID, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.idem[redisx.IdemOrderPlaceKey(customerID, key)]
	return id, ok
}

func (c *memCache) cached(id string) (redisx.CachedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.status[id]
	return cs, ok
}

func (c *memCache) forget(id, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.status, id)
	delete(c.idem, key)
}

func (c *memCache) hitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

type testServer struct {
	srv   *httptest.Server
	store *memstore.Store
	cache *memCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memstore.New()
	st.PutProduct(orders.Product{ID: "bread", ShopID: "shop-1", SKU: "BRD", Name: "Bread", Price: decimal.RequireFromString("25.00"), StockQuantity: 10, MinStockLevel: 2, IsActive: true})
	st.PutProduct(orders.Product{ID: "milk", ShopID: "shop-1", SKU: "MLK", Name: "Milk", Price: decimal.RequireFromString("10.00"), StockQuantity: 1, IsActive: true})

	calc, err := pricing.NewCalculator(pricing.DefaultConfig())
	require.NoError(t, err)
	svc, err := service.NewOrderService(service.Deps{
		Store:      st,
		Calculator: calc,
		Events:     nopPublisher{},
		Clock:      func() time.Time { return time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	cache := newMemCache()
	r := NewRouter(nil)
	(&OrdersHandler{Service: svc, Cache: cache}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: st, cache: cache}
}

func (ts *testServer) do(t *testing.T, method, path string, actor orders.Actor, body string, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != "" {
		req.Header.Set(HeaderActorID, actor.ID)
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		}
	}
	return resp, out
}

var (
	buyer = orders.Actor{ID: "cust-1", Role: orders.RoleCustomer}
	shop  = orders.Actor{ID: "merchant-1", Role: orders.RoleMerchant}
)

const placeBody = `{"items":[{"product_id":"bread","quantity":2}],
	"shipping_address":{"street":"Hauptstr. 1","city":"Berlin","postal_code":"10115"}}`

func (ts *testServer) placeOrder(t *testing.T) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/orders", buyer, placeBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	return body["id"].(string)
}

func TestPlaceOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/orders", buyer, placeBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "cust-1", body["customer_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "50.00", body["subtotal"])
	assert.Equal(t, "0.00", body["shipping_cost"])
	assert.Equal(t, "50.00", body["total"])
	assert.Equal(t, true, body["can_be_cancelled"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "25.00", items[0].(map[string]any)["unit_price"])
	assert.Len(t, body["history"], 1)

	cs, ok := ts.cache.cached(body["id"].(string))
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, cs.Status)
}

func TestPlaceOrderEndpointRejects(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/orders", orders.Actor{}, placeBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/orders", buyer, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/orders", buyer, `{"items":[{"product_id":"milk","quantity":3}],"fulfillment_method":"pickup"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_stock", body["code"])

	resp, body = ts.do(t, http.MethodPost, "/orders", buyer, `{"items":[],"fulfillment_method":"pickup"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", body["code"])

	resp, _ = ts.do(t, http.MethodPost, "/orders", buyer, `{"customer_id":"someone-else","items":[{"product_id":"bread","quantity":1}],"fulfillment_method":"pickup"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPlaceOrderEndpointReplay(t *testing.T) {
	ts := newTestServer(t)

	resp, first := ts.do(t, http.MethodPost, "/orders", buyer, placeBody, HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := ts.do(t, http.MethodPost, "/orders", buyer, placeBody, HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, true, second["replayed"])

	p, err := ts.store.GetProduct(context.Background(), "bread")
	require.NoError(t, err)
	assert.Equal(t, 8, p.StockQuantity)

	// the store answers replays when the cache has forgotten the key
	ts.cache.forget("", redisx.IdemOrderPlaceKey(buyer.ID, "key-1"))
	resp, third := ts.do(t, http.MethodPost, "/orders", buyer, placeBody, HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], third["id"])
}

func TestIdempotencyKeyIsPerCustomer(t *testing.T) {
	ts := newTestServer(t)
	other := orders.Actor{ID: "cust-2", Role: orders.RoleCustomer}

	resp, first := ts.do(t, http.MethodPost, "/orders", buyer, placeBody, HeaderIdempotencyKey, "shared")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := ts.do(t, http.MethodPost, "/orders", other, placeBody, HeaderIdempotencyKey, "shared")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, first["id"], second["id"])
	assert.Equal(t, "cust-2", second["customer_id"])
	_, replayed := second["replayed"]
	assert.False(t, replayed)

	p, err := ts.store.GetProduct(context.Background(), "bread")
	require.NoError(t, err)
	assert.Equal(t, 6, p.StockQuantity)
}

func TestReadsHideOtherCustomersOrders(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(t)
	other := orders.Actor{ID: "cust-2", Role: orders.RoleCustomer}

	t.Run("status from cache", func(t *testing.T) {
		_, ok := ts.cache.cached(id)
		require.True(t, ok)
		resp, body := ts.do(t, http.MethodGet, "/orders/"+id+"/status", other, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "order_not_found", body["code"])
	})
	t.Run("status from store", func(t *testing.T) {
		ts.cache.forget(id, "")
		resp, _ := ts.do(t, http.MethodGet, "/orders/"+id+"/status", other, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
	t.Run("history", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/orders/"+id+"/history", other, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "order_not_found", body["code"])
	})
	t.Run("merchant still reads", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/orders/"+id+"/status", shop, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "cust-1", body["customer_id"])
	})
}

func TestGetOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(t)

	resp, body := ts.do(t, http.MethodGet, "/orders/"+id, buyer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])

	resp, _ = ts.do(t, http.MethodGet, "/orders/"+id, orders.Actor{ID: "cust-2", Role: orders.RoleCustomer}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/orders/missing", shop, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "order_not_found", body["code"])
}

func TestListOrdersEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.placeOrder(t)
	ts.placeOrder(t)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/orders?shop_id=shop-1&limit=1", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderActorID, shop.ID)
	req.Header.Set(HeaderActorRole, string(shop.Role))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	_, hasHistory := list[0]["history"]
	assert.False(t, hasHistory)

	bad, _ := ts.do(t, http.MethodGet, "/orders?shop_id=shop-1&limit=0", shop, "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(t)

	resp, body := ts.do(t, http.MethodPatch, "/orders/"+id+"/status", shop, `{"status":"delivered"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", body["code"])

	resp, body = ts.do(t, http.MethodPatch, "/orders/"+id+"/status", shop, `{"status":"lost"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_status", body["code"])

	resp, _ = ts.do(t, http.MethodPatch, "/orders/"+id+"/status", buyer, `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPatch, "/orders/"+id+"/status", shop, `{"status":"confirmed","notes":"packed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])
	assert.NotEmpty(t, body["confirmed_at"])
	cs, ok := ts.cache.cached(id)
	require.True(t, ok)
	assert.Equal(t, orders.StatusConfirmed, cs.Status)
}

func TestStatusEndpointUsesCache(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(t)

	resp, body := ts.do(t, http.MethodGet, "/orders/"+id+"/status", buyer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, 1, ts.cache.hitCount())

	ts.cache.forget(id, "")
	resp, body = ts.do(t, http.MethodGet, "/orders/"+id+"/status", buyer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["order_id"])
	_, ok := ts.cache.cached(id)
	assert.True(t, ok)
}

func TestCancelEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(t)

	resp, body := ts.do(t, http.MethodPost, "/orders/"+id+"/cancel", buyer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	p, err := ts.store.GetProduct(context.Background(), "bread")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	resp, body = ts.do(t, http.MethodPost, "/orders/"+id+"/cancel", buyer, `{"reason":"again"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "order_not_cancellable", body["code"])

	hist := ts.history(t, id)
	require.Len(t, hist, 2)
	assert.Equal(t, "cancelled", hist[1]["status"])
	assert.Equal(t, "Order cancelled: No reason provided", hist[1]["notes"])
}

func (ts *testServer) history(t *testing.T, id string) []map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/orders/"+id+"/history", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderActorID, buyer.ID)
	req.Header.Set(HeaderActorRole, string(buyer.Role))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestTrackingEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(t)

	resp, _ := ts.do(t, http.MethodPatch, "/orders/"+id+"/tracking", shop, `{"tracking_number":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPatch, "/orders/"+id+"/tracking", shop, `{"tracking_number":"TRK1","tracking_url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPatch, "/orders/"+id+"/tracking", shop, `{"tracking_number":"TRK1","tracking_url":"https://track.example/TRK1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "TRK1", body["tracking_number"])
	assert.Equal(t, "https://track.example/TRK1", body["tracking_url"])
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
		slug string
	}{
		{orders.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{&orders.ProductError{ProductID: "p", Err: fmt.Errorf("%w: %w", orders.ErrProductUnavailable, orders.ErrInsufficientStock)}, http.StatusConflict, "insufficient_stock"},
		{orders.ErrProductNotFound, http.StatusUnprocessableEntity, "product_not_found"},
		{orders.ErrProductUnavailable, http.StatusConflict, "product_unavailable"},
		{orders.ErrEmptyOrder, http.StatusBadRequest, "validation_failed"},
		{orders.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
		{&orders.StatusError{OrderID: "o-1", Current: orders.StatusDelivered, Err: orders.ErrOrderNotCancellable}, http.StatusConflict, "order_not_cancellable"},
		{orders.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{orders.ErrActorNotPermitted, http.StatusForbidden, "forbidden"},
		{orders.ErrInsufficientTokenBalance, http.StatusUnprocessableEntity, "insufficient_token_balance"},
		{fmt.Errorf("%w: insert order: %w", orders.ErrStorage, errors.New("disk")), http.StatusInternalServerError, "internal"},
	} {
		code, slug := statusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.Equal(t, tc.slug, slug, tc.err.Error())
	}
}
