package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

type memTx struct {
	st     *state
	faults map[string]error
}

var _ orders.Tx = (*memTx)(nil)

func (t *memTx) fault(op string) error {
	if err, ok := t.faults[op]; ok {
		return fmt.Errorf("memstore: %s: %w", op, err)
	}
	return nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (orders.Product, error) {
	if err := t.fault("GetProduct"); err != nil {
		return orders.Product{}, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) (orders.StockLevel, error) {
	if err := t.fault("DecrementStock"); err != nil {
		return orders.StockLevel{}, err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return orders.StockLevel{}, orders.ErrProductNotFound
	}
	lvl := level(p)
	if !p.IsActive || p.StockQuantity < qty {
		lvl.After = p.StockQuantity
		return lvl, nil
	}
	p.StockQuantity -= qty
	p.SalesCount += qty
	t.st.products[productID] = p

	lvl.After = p.StockQuantity
	lvl.Applied = true
	return lvl, nil
}

func (t *memTx) IncrementStock(_ context.Context, productID string, qty int) (orders.StockLevel, error) {
	if err := t.fault("IncrementStock"); err != nil {
		return orders.StockLevel{}, err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return orders.StockLevel{}, orders.ErrProductNotFound
	}
	lvl := level(p)
	p.StockQuantity += qty
	p.SalesCount -= qty
	if p.SalesCount < 0 {
		p.SalesCount = 0
	}
	t.st.products[productID] = p

	lvl.After = p.StockQuantity
	lvl.Applied = true
	return lvl, nil
}

func level(p orders.Product) orders.StockLevel {
	return orders.StockLevel{
		ProductID:     p.ID,
		ShopID:        p.ShopID,
		SKU:           p.SKU,
		Name:          p.Name,
		Before:        p.StockQuantity,
		MinStockLevel: p.MinStockLevel,
		Active:        p.IsActive,
	}
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id string) (orders.Order, error) {
	if err := t.fault("GetOrderForUpdate"); err != nil {
		return orders.Order{}, err
	}
	o, ok := t.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return t.st.materialize(o), nil
}

func (t *memTx) FindOrderByIdempotencyKey(_ context.Context, customerID, key string) (orders.Order, bool, error) {
	id, ok := t.st.byKey[idemKey(customerID, key)]
	if !ok {
		return orders.Order{}, false, nil
	}
	return t.st.materialize(t.st.orders[id]), true, nil
}

func idemKey(customerID, key string) string { return customerID + "\x00" + key }

func (t *memTx) OrderNumberExists(_ context.Context, number string) (bool, error) {
	_, ok := t.st.byNumber[number]
	return ok, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.fault("InsertOrder"); err != nil {
		return err
	}
	if _, ok := t.st.byNumber[o.OrderNumber]; ok {
		return fmt.Errorf("%w: order number %s", orders.ErrConflict, o.OrderNumber)
	}
	if o.IdempotencyKey != "" {
		k := idemKey(o.CustomerID, o.IdempotencyKey)
		if _, ok := t.st.byKey[k]; ok {
			return fmt.Errorf("%w: idempotency key %s", orders.ErrConflict, o.IdempotencyKey)
		}
		t.st.byKey[k] = o.ID
	}
	stored := *o
	stored.Items = append([]orders.OrderItem(nil), o.Items...)
	stored.History = nil
	t.st.orders[o.ID] = stored
	t.st.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *orders.Order) error {
	if err := t.fault("UpdateOrder"); err != nil {
		return err
	}
	existing, ok := t.st.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	existing.Status = o.Status
	existing.PaymentStatus = o.PaymentStatus
	existing.TrackingNumber = o.TrackingNumber
	existing.TrackingURL = o.TrackingURL
	existing.ConfirmedAt = o.ConfirmedAt
	existing.ShippedAt = o.ShippedAt
	existing.DeliveredAt = o.DeliveredAt
	existing.CancelledAt = o.CancelledAt
	existing.UpdatedAt = o.UpdatedAt
	t.st.orders[o.ID] = existing
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h orders.StatusHistory) error {
	if err := t.fault("AppendHistory"); err != nil {
		return err
	}
	if _, ok := t.st.orders[h.OrderID]; !ok {
		return orders.ErrOrderNotFound
	}
	t.st.history[h.OrderID] = append(t.st.history[h.OrderID], h)
	return nil
}

func (t *memTx) AddCustomerOrder(_ context.Context, customerID string, total decimal.Decimal) error {
	if err := t.fault("AddCustomerOrder"); err != nil {
		return err
	}
	c, ok := t.st.customers[customerID]
	if !ok {
		c = orders.CustomerStats{CustomerID: customerID, TotalSpent: decimal.Zero}
	}
	c.TotalOrders++
	c.TotalSpent = c.TotalSpent.Add(total)
	t.st.customers[customerID] = c
	return nil
}

func (t *memTx) TokenBalance(_ context.Context, customerID string) (int, error) {
	entries := t.st.tokens[customerID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].BalanceAfter, nil
}

func (t *memTx) AppendTokenEntry(_ context.Context, e orders.TokenEntry) error {
	if err := t.fault("AppendTokenEntry"); err != nil {
		return err
	}
	t.st.tokens[e.CustomerID] = append(t.st.tokens[e.CustomerID], e)
	return nil
}
