package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(id, price string, stock int) orders.Product {
	return orders.Product{
		ID: id, ShopID: "shop-1", SKU: "SKU-" + id, Name: "Product " + id,
		Price: d(price), StockQuantity: stock, MinStockLevel: 5, IsActive: true,
	}
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultConfig())
	require.NoError(t, err)
	return c
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestLineSnapshot(t *testing.T) {
	c := newCalc(t)

	it, err := c.Line(product("p1", "11.90", 3), 1)
	require.NoError(t, err)
	assertMoney(t, "11.90", it.UnitPrice)
	assertMoney(t, "11.90", it.LineTotal)
	assertMoney(t, "1.90", it.TaxAmount)
	assertMoney(t, "19", it.TaxRate)
	assert.Equal(t, "SKU-p1", it.ProductSKU)
	assert.Equal(t, "Product p1", it.ProductName)
}

func TestLineUsesSalePrice(t *testing.T) {
	c := newCalc(t)
	p := product("p1", "20.00", 10)
	sale := d("15.00")
	p.SalePrice = &sale

	it, err := c.Line(p, 3)
	require.NoError(t, err)
	assertMoney(t, "15.00", it.UnitPrice)
	assertMoney(t, "45.00", it.LineTotal)
}

func TestLineTotalIsExact(t *testing.T) {
	c := newCalc(t)
	for _, tc := range []struct {
		price string
		qty   int
		want  string
	}{
		{"0.10", 3, "0.30"},
		{"19.99", 7, "139.93"},
		{"0.01", 100, "1.00"},
		{"33.33", 3, "99.99"},
	} {
		it, err := c.Line(product("p", tc.price, 1000), tc.qty)
		require.NoError(t, err)
		assertMoney(t, tc.want, it.LineTotal)
	}
}

func TestLineRejectsUnavailable(t *testing.T) {
	c := newCalc(t)

	t.Run("inactive", func(t *testing.T) {
		p := product("p1", "5.00", 10)
		p.IsActive = false
		_, err := c.Line(p, 1)
		assert.ErrorIs(t, err, orders.ErrProductUnavailable)
		var pe *orders.ProductError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "p1", pe.ProductID)
	})

	t.Run("out of stock", func(t *testing.T) {
		_, err := c.Line(product("p2", "5.00", 0), 1)
		assert.ErrorIs(t, err, orders.ErrProductUnavailable)
	})

	t.Run("not enough stock", func(t *testing.T) {
		_, err := c.Line(product("p3", "5.00", 2), 3)
		assert.ErrorIs(t, err, orders.ErrProductUnavailable)
		assert.ErrorIs(t, err, orders.ErrInsufficientStock)
		assert.Contains(t, err.Error(), "has 2 in stock, 3 requested")
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := c.Line(product("p4", "5.00", 2), 0)
		assert.ErrorIs(t, err, orders.ErrInvalidQuantity)
		assert.ErrorIs(t, err, orders.ErrValidation)
	})
}

func TestQuoteFreeShipping(t *testing.T) {
	c := newCalc(t)
	it, err := c.Line(product("p1", "25.00", 10), 2)
	require.NoError(t, err)

	q, err := c.Quote([]orders.OrderItem{it}, QuoteOptions{Fulfillment: orders.FulfillmentDelivery})
	require.NoError(t, err)
	assertMoney(t, "50.00", q.Subtotal)
	assertMoney(t, "0.00", q.ShippingCost)
	assertMoney(t, "50.00", q.Total)
	assertMoney(t, "7.98", q.TaxAmount)
}

func TestQuoteFlatShipping(t *testing.T) {
	c := newCalc(t)
	it, err := c.Line(product("p1", "10.00", 10), 1)
	require.NoError(t, err)

	q, err := c.Quote([]orders.OrderItem{it}, QuoteOptions{Fulfillment: orders.FulfillmentDelivery})
	require.NoError(t, err)
	assertMoney(t, "10.00", q.Subtotal)
	assertMoney(t, "4.99", q.ShippingCost)
	assertMoney(t, "14.99", q.Total)
}

func TestQuotePickupShipsFree(t *testing.T) {
	c := newCalc(t)
	it, err := c.Line(product("p1", "10.00", 10), 1)
	require.NoError(t, err)

	q, err := c.Quote([]orders.OrderItem{it}, QuoteOptions{Fulfillment: orders.FulfillmentPickup})
	require.NoError(t, err)
	assertMoney(t, "0", q.ShippingCost)
	assertMoney(t, "10.00", q.Total)
}

func TestQuoteSubtotalIsSumOfLines(t *testing.T) {
	c := newCalc(t)
	var items []orders.OrderItem
	for i, price := range []string{"1.11", "2.22", "3.33", "19.99"} {
		it, err := c.Line(product(string(rune('a'+i)), price, 50), i+1)
		require.NoError(t, err)
		items = append(items, it)
	}

	q, err := c.Quote(items, QuoteOptions{})
	require.NoError(t, err)

	sum, tax := decimal.Zero, decimal.Zero
	for _, it := range items {
		assert.True(t, it.LineTotal.Equal(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))))
		sum = sum.Add(it.LineTotal)
		tax = tax.Add(it.TaxAmount)
	}
	assert.True(t, q.Subtotal.Equal(sum))
	assert.True(t, q.TaxAmount.Equal(tax))
	// tax is embedded in the subtotal, never added on top
	assert.True(t, q.Total.Equal(q.Subtotal.Add(q.ShippingCost)))
}

func TestQuoteTokensAndDiscount(t *testing.T) {
	c := newCalc(t)
	it, err := c.Line(product("p1", "30.00", 10), 2)
	require.NoError(t, err)

	q, err := c.Quote([]orders.OrderItem{it}, QuoteOptions{
		DiscountAmount: d("5.00"),
		TokensUsed:     3,
		TokenBalance:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, q.TokensUsed)
	assertMoney(t, "3.00", q.TokensValue)
	assertMoney(t, "5.00", q.DiscountAmount)
	assertMoney(t, "52.00", q.Total)
}

func TestQuoteRejects(t *testing.T) {
	c := newCalc(t)
	it, err := c.Line(product("p1", "10.00", 10), 1)
	require.NoError(t, err)
	items := []orders.OrderItem{it}

	_, err = c.Quote(nil, QuoteOptions{})
	assert.ErrorIs(t, err, orders.ErrEmptyOrder)

	_, err = c.Quote(items, QuoteOptions{TokensUsed: 4, TokenBalance: 3})
	assert.ErrorIs(t, err, orders.ErrInsufficientTokenBalance)
	var tbe *orders.TokenBalanceError
	require.True(t, errors.As(err, &tbe))
	assert.Equal(t, 3, tbe.Balance)

	_, err = c.Quote(items, QuoteOptions{DiscountAmount: d("-1")})
	assert.ErrorIs(t, err, orders.ErrValidation)

	_, err = c.Quote(items, QuoteOptions{TokensUsed: 20, TokenBalance: 20})
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestCustomConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FreeShippingThreshold = d("100.00")
	cfg.FlatShippingFee = d("6.50")
	cfg.DefaultTaxRate = d("7")
	cfg.TokenValue = d("0.50")
	c, err := NewCalculator(cfg)
	require.NoError(t, err)

	it, err := c.Line(product("p1", "10.70", 10), 1)
	require.NoError(t, err)
	assertMoney(t, "0.70", it.TaxAmount)

	q, err := c.Quote([]orders.OrderItem{it}, QuoteOptions{TokensUsed: 2, TokenBalance: 2})
	require.NoError(t, err)
	assertMoney(t, "6.50", q.ShippingCost)
	assertMoney(t, "1.00", q.TokensValue)
	assertMoney(t, "16.20", q.Total)
}

func TestTokensEarned(t *testing.T) {
	c := newCalc(t)
	assert.Equal(t, 0, c.TokensEarned(d("99.99")))
	assert.Equal(t, 1, c.TokensEarned(d("100.00")))
	assert.Equal(t, 2, c.TokensEarned(d("250.00")))
	assert.Equal(t, 0, c.TokensEarned(decimal.Zero))
}

func TestNewCalculatorRejectsNegativeConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlatShippingFee = d("-1")
	_, err := NewCalculator(cfg)
	assert.Error(t, err)
}
