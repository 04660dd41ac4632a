package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the order core. Every mutation runs
// inside InTx; returning an error from fn rolls the whole unit back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	GetProduct(ctx context.Context, id string) (Product, error)
}

type ListFilter struct {
	CustomerID string
	ShopID     string
	Status     Status
	Limit      int
}

const DefaultListLimit = 50

// StockLevel describes a product's stock around a single adjustment.
// When Applied is false the conditional decrement matched no row and After
// holds the stock observed at that moment.
type StockLevel struct {
	ProductID     string
	ShopID        string
	SKU           string
	Name          string
	Before        int
	After         int
	MinStockLevel int
	Active        bool
	Applied       bool
}

// StockTx is the part of a transaction the inventory ledger needs.
type StockTx interface {
	// DecrementStock subtracts qty and adds it to sales_count only when the
	// product is active and holds at least qty units. Unknown products yield
	// ErrProductNotFound.
	DecrementStock(ctx context.Context, productID string, qty int) (StockLevel, error)
	// IncrementStock adds qty back and lowers sales_count, never below zero.
	IncrementStock(ctx context.Context, productID string, qty int) (StockLevel, error)
}

type Tx interface {
	StockTx

	GetProduct(ctx context.Context, id string) (Product, error)

	// GetOrderForUpdate loads the order with its items and locks it until the
	// transaction ends.
	GetOrderForUpdate(ctx context.Context, id string) (Order, error)
	// FindOrderByIdempotencyKey only matches orders of the given customer;
	// keys are unique per customer.
	FindOrderByIdempotencyKey(ctx context.Context, customerID, key string) (Order, bool, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)

	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
	AppendHistory(ctx context.Context, h StatusHistory) error

	AddCustomerOrder(ctx context.Context, customerID string, total decimal.Decimal) error
	// TokenBalance returns the customer's current balance and holds the
	// customer's token ledger until the transaction ends, so concurrent
	// redemptions see each other's entries.
	TokenBalance(ctx context.Context, customerID string) (int, error)
	AppendTokenEntry(ctx context.Context, e TokenEntry) error
}
