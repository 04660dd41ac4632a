package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
	"github.com/TomyLeHuy/ecommerce-platform/internal/pricing"
	"github.com/TomyLeHuy/ecommerce-platform/internal/service"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/shop?sslmode=disable", migrateURL("postgres://u:p@db:5432/shop?sslmode=disable"))
	assert.Equal(t, "pgx5://db/shop", migrateURL("postgresql://db/shop"))
	assert.Equal(t, "pgx5://db/shop", migrateURL("pgx5://db/shop"))
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))

	err := mapErr(&pgconn.PgError{Code: "23505", ConstraintName: "orders_customer_idempotency_key_key"})
	assert.ErrorIs(t, err, orders.ErrConflict)
	assert.Contains(t, err.Error(), "orders_customer_idempotency_key_key")

	other := errors.New("boom")
	assert.Equal(t, other, mapErr(other))
}

// testStore connects to POSTGRES_TEST_DSN and applies the migrations.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	require.NoError(t, Migrate(dsn))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, dsn, PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func TestConditionalDecrement(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := "it-" + uuid.NewString()
	_, err := s.DB.Exec(ctx, `INSERT INTO products(id, shop_id, sku, name, price, stock_quantity, min_stock_level)
		VALUES ($1, 'shop-it', $1, 'Integration', $2, 2, 1)`, id, decimal.RequireFromString("4.20"))
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		lvl, err := tx.DecrementStock(ctx, id, 2)
		require.NoError(t, err)
		assert.True(t, lvl.Applied)
		assert.Equal(t, 2, lvl.Before)
		assert.Equal(t, 0, lvl.After)

		lvl, err = tx.DecrementStock(ctx, id, 1)
		require.NoError(t, err)
		assert.False(t, lvl.Applied)
		return nil
	})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)
	assert.Equal(t, 2, p.SalesCount)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("4.20")))

	_, err = s.GetOrder(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func insertProduct(t *testing.T, s *Store, stock int) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	_, err := s.DB.Exec(context.Background(), `INSERT INTO products(id, shop_id, sku, name, price, stock_quantity, min_stock_level)
		VALUES ($1, 'shop-it', $1, 'Integration', $2, $3, 0)`, id, decimal.RequireFromString("25.00"), stock)
	require.NoError(t, err)
	return id
}

func newOrderService(t *testing.T, s *Store) *service.OrderService {
	t.Helper()
	calc, err := pricing.NewCalculator(pricing.DefaultConfig())
	require.NoError(t, err)
	svc, err := service.NewOrderService(service.Deps{Store: s, Calculator: calc})
	require.NoError(t, err)
	return svc
}

func pickup(customerID, productID string, tokens int) service.PlaceOrderCommand {
	actor := orders.Actor{ID: customerID, Role: orders.RoleCustomer}
	return service.PlaceOrderCommand{
		CustomerID:  customerID,
		Actor:       actor,
		Fulfillment: orders.FulfillmentPickup,
		Items:       []service.ItemRequest{{ProductID: productID, Quantity: 1}},
		TokensUsed:  tokens,
	}
}

// placeConcurrently starts every command at once and returns their errors.
func placeConcurrently(svc *service.OrderService, cmds ...service.PlaceOrderCommand) []error {
	errs := make([]error, len(cmds))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		wg.Add(1)
		go func(i int, cmd service.PlaceOrderCommand) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.PlaceOrder(context.Background(), cmd)
		}(i, cmd)
	}
	close(start)
	wg.Wait()
	return errs
}

func countOutcomes(t *testing.T, errs []error, target error) (ok, rejected int) {
	t.Helper()
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, target):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return ok, rejected
}

func TestPlaceOrderLastUnitConcurrent(t *testing.T) {
	s := testStore(t)
	svc := newOrderService(t, s)
	id := insertProduct(t, s, 1)

	errs := placeConcurrently(svc,
		pickup("it-"+uuid.NewString(), id, 0),
		pickup("it-"+uuid.NewString(), id, 0),
	)
	ok, short := countOutcomes(t, errs, orders.ErrInsufficientStock)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)
	assert.Equal(t, 1, p.SalesCount)
}

func TestTokenRedemptionConcurrent(t *testing.T) {
	s := testStore(t)
	svc := newOrderService(t, s)
	ctx := context.Background()
	customerID := "it-" + uuid.NewString()

	_, err := s.DB.Exec(ctx, `INSERT INTO loyalty_tokens(id, customer_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, 'earned', 10, 10, 'seed', now())`, ulid.Make().String(), customerID)
	require.NoError(t, err)

	// separate products so the orders do not queue on a product row
	errs := placeConcurrently(svc,
		pickup(customerID, insertProduct(t, s, 5), 10),
		pickup(customerID, insertProduct(t, s, 5), 10),
	)
	ok, refused := countOutcomes(t, errs, orders.ErrInsufficientTokenBalance)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)

	var spent, balance int
	require.NoError(t, s.DB.QueryRow(ctx,
		`SELECT count(*) FROM loyalty_tokens WHERE customer_id = $1 AND type = 'spent'`, customerID).Scan(&spent))
	require.NoError(t, s.DB.QueryRow(ctx,
		`SELECT balance_after FROM loyalty_tokens WHERE customer_id = $1 ORDER BY seq DESC LIMIT 1`, customerID).Scan(&balance))
	assert.Equal(t, 1, spent)
	assert.Equal(t, 0, balance)
}

func TestIdempotencyKeyPerCustomer(t *testing.T) {
	s := testStore(t)
	svc := newOrderService(t, s)
	id := insertProduct(t, s, 5)
	key := uuid.NewString()

	first := pickup("it-"+uuid.NewString(), id, 0)
	first.IdempotencyKey = key
	a, err := svc.PlaceOrder(context.Background(), first)
	require.NoError(t, err)

	second := pickup("it-"+uuid.NewString(), id, 0)
	second.IdempotencyKey = key
	b, err := svc.PlaceOrder(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, b.Replayed)
	assert.NotEqual(t, a.Order.ID, b.Order.ID)

	again, err := svc.PlaceOrder(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, a.Order.ID, again.Order.ID)
}
