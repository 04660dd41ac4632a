// Package pricing computes order line snapshots and order aggregates.
//
// Prices are tax inclusive: the VAT of a line is extracted from its total and
// the order tax amount is informational only, it is never added to the total.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

// Config holds the business values the calculator works with.
type Config struct {
	FreeShippingThreshold  decimal.Decimal `envconfig:"FREE_SHIPPING_THRESHOLD" default:"50.00"`
	FlatShippingFee        decimal.Decimal `envconfig:"FLAT_SHIPPING_FEE" default:"4.99"`
	DefaultTaxRate         decimal.Decimal `envconfig:"DEFAULT_TAX_RATE" default:"19"`
	TokenValue             decimal.Decimal `envconfig:"TOKEN_VALUE" default:"1.00"`
	TokenPurchaseThreshold decimal.Decimal `envconfig:"TOKEN_PURCHASE_THRESHOLD" default:"100.00"`
}

func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold:  decimal.RequireFromString("50.00"),
		FlatShippingFee:        decimal.RequireFromString("4.99"),
		DefaultTaxRate:         decimal.NewFromInt(19),
		TokenValue:             decimal.RequireFromString("1.00"),
		TokenPurchaseThreshold: decimal.RequireFromString("100.00"),
	}
}

func (c Config) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"free shipping threshold":  c.FreeShippingThreshold,
		"flat shipping fee":        c.FlatShippingFee,
		"default tax rate":         c.DefaultTaxRate,
		"token value":              c.TokenValue,
		"token purchase threshold": c.TokenPurchaseThreshold,
	} {
		if v.IsNegative() {
			return fmt.Errorf("pricing: %s must not be negative", name)
		}
	}
	return nil
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

func (c *Calculator) Config() Config { return c.cfg }

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Line validates the product can be sold in qty units and snapshots it at its
// current sellable price.
func (c *Calculator) Line(p orders.Product, qty int) (orders.OrderItem, error) {
	if qty <= 0 {
		return orders.OrderItem{}, fmt.Errorf("%w: product %s", orders.ErrInvalidQuantity, p.ID)
	}
	if !p.IsActive {
		return orders.OrderItem{}, &orders.ProductError{
			ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.StockQuantity,
			Err: orders.ErrProductUnavailable,
		}
	}
	// also covers stock 0
	if p.StockQuantity < qty {
		return orders.OrderItem{}, &orders.ProductError{
			ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.StockQuantity,
			Err: fmt.Errorf("%w: %w", orders.ErrProductUnavailable, orders.ErrInsufficientStock),
		}
	}

	unit := p.CurrentPrice().Round(2)
	lineTotal := unit.Mul(decimal.NewFromInt(int64(qty)))
	rate := c.cfg.DefaultTaxRate
	return orders.OrderItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		ProductSKU:  p.SKU,
		UnitPrice:   unit,
		Quantity:    qty,
		LineTotal:   lineTotal,
		TaxRate:     rate,
		TaxAmount:   ExtractTax(lineTotal, rate),
	}, nil
}

// ExtractTax returns the VAT contained in a gross amount: gross × r / (1 + r),
// with r the rate as a fraction, rounded to cents.
func ExtractTax(gross, ratePercent decimal.Decimal) decimal.Decimal {
	r := ratePercent.Div(hundred)
	return gross.Mul(r).Div(one.Add(r)).Round(2)
}

type QuoteOptions struct {
	Fulfillment    orders.FulfillmentMethod
	DiscountAmount decimal.Decimal
	TokensUsed     int
	TokenBalance   int
}

type Quote struct {
	Items          []orders.OrderItem
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
	TokensUsed     int
	TokensValue    decimal.Decimal
	Total          decimal.Decimal
}

// Quote aggregates already priced lines into order totals.
func (c *Calculator) Quote(items []orders.OrderItem, opts QuoteOptions) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, orders.ErrEmptyOrder
	}
	if opts.DiscountAmount.IsNegative() {
		return Quote{}, fmt.Errorf("%w: discount must not be negative", orders.ErrValidation)
	}
	if opts.TokensUsed < 0 {
		return Quote{}, fmt.Errorf("%w: tokens must not be negative", orders.ErrValidation)
	}
	if opts.TokensUsed > opts.TokenBalance {
		return Quote{}, &orders.TokenBalanceError{Requested: opts.TokensUsed, Balance: opts.TokenBalance}
	}

	q := Quote{
		Items:          items,
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		DiscountAmount: opts.DiscountAmount.Round(2),
		TokensUsed:     opts.TokensUsed,
	}
	for _, it := range items {
		q.Subtotal = q.Subtotal.Add(it.LineTotal)
		q.TaxAmount = q.TaxAmount.Add(it.TaxAmount)
	}
	q.ShippingCost = c.Shipping(q.Subtotal, opts.Fulfillment)
	q.TokensValue = c.cfg.TokenValue.Mul(decimal.NewFromInt(int64(opts.TokensUsed))).Round(2)

	q.Total = q.Subtotal.Add(q.ShippingCost).Sub(q.DiscountAmount).Sub(q.TokensValue)
	if q.Total.IsNegative() {
		return Quote{}, fmt.Errorf("%w: discount and tokens (%s) exceed order value (%s)",
			orders.ErrValidation, q.DiscountAmount.Add(q.TokensValue).StringFixed(2),
			q.Subtotal.Add(q.ShippingCost).StringFixed(2))
	}
	return q, nil
}

func (c *Calculator) Shipping(subtotal decimal.Decimal, method orders.FulfillmentMethod) decimal.Decimal {
	if method == orders.FulfillmentPickup || subtotal.GreaterThanOrEqual(c.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return c.cfg.FlatShippingFee
}

// TokensEarned is the number of loyalty tokens a completed order of total earns.
func (c *Calculator) TokensEarned(total decimal.Decimal) int {
	if !c.cfg.TokenPurchaseThreshold.IsPositive() || !total.IsPositive() {
		return 0
	}
	return int(total.Div(c.cfg.TokenPurchaseThreshold).Floor().IntPart())
}
