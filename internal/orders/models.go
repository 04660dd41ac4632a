package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string
	ShopID        string
	SKU           string
	Name          string
	Price         decimal.Decimal
	SalePrice     *decimal.Decimal
	StockQuantity int
	MinStockLevel int
	MaxStockLevel *int
	SalesCount    int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CurrentPrice is the sellable price: the sale price when it undercuts the list price.
func (p Product) CurrentPrice() decimal.Decimal {
	if p.SalePrice != nil && p.SalePrice.LessThan(p.Price) {
		return *p.SalePrice
	}
	return p.Price
}

func (p Product) IsInStock() bool { return p.StockQuantity > 0 }

func (p Product) IsLowStock() bool {
	return p.StockQuantity > 0 && p.StockQuantity <= p.MinStockLevel
}

func (p Product) StockStatus() string {
	switch {
	case p.StockQuantity <= 0:
		return "out_of_stock"
	case p.IsLowStock():
		return "low_stock"
	default:
		return "in_stock"
	}
}

type FulfillmentMethod string

const (
	FulfillmentDelivery FulfillmentMethod = "delivery"
	FulfillmentPickup   FulfillmentMethod = "pickup"
)

func (m FulfillmentMethod) Valid() bool {
	return m == FulfillmentDelivery || m == FulfillmentPickup
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

const DefaultCountry = "DE"

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

type Order struct {
	ID                string
	OrderNumber       string
	CustomerID        string
	ShopID            string
	Status            Status
	FulfillmentMethod FulfillmentMethod
	ShippingAddress   Address

	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
	TokensUsed     int
	TokensValue    decimal.Decimal
	Total          decimal.Decimal

	PaymentStatus  string
	PaymentMethod  string
	CustomerNotes  string
	TrackingNumber string
	TrackingURL    string
	IdempotencyKey string

	OrderedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time

	Items   []OrderItem
	History []StatusHistory
}

func (o *Order) IsPaid() bool { return o.PaymentStatus == PaymentCompleted }

// OrderItem is a snapshot of the product at order time; it is never rewritten.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	ProductSKU  string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
	TaxRate     decimal.Decimal
	TaxAmount   decimal.Decimal
	CreatedAt   time.Time
}

type StatusHistory struct {
	ID        string
	OrderID   string
	Status    Status
	Notes     string
	ChangedBy string
	CreatedAt time.Time
}

type CustomerStats struct {
	CustomerID  string
	TotalOrders int
	TotalSpent  decimal.Decimal
}

type TokenEntryType string

const (
	TokensEarned     TokenEntryType = "earned"
	TokensSpent      TokenEntryType = "spent"
	TokensExpired    TokenEntryType = "expired"
	TokensAdjustment TokenEntryType = "admin_adjustment"
)

// TokenEntry is one row of the customer's loyalty ledger. Amount is signed.
type TokenEntry struct {
	ID           string
	CustomerID   string
	Type         TokenEntryType
	Amount       int
	BalanceAfter int
	OrderID      string
	Description  string
	CreatedAt    time.Time
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor identifies who triggers an operation. Authorization happens before the
// core is invoked; Role only gates which operations an actor kind may call.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) CanManageOrders() bool {
	switch a.Role {
	case RoleMerchant, RoleAdmin, RoleSystem:
		return true
	}
	return false
}
