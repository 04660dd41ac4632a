package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/inventory"
	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
	"github.com/TomyLeHuy/ecommerce-platform/internal/pricing"
)

const maxOrderNumberAttempts = 5

type OrderService struct {
	store  orders.Store
	calc   *pricing.Calculator
	ledger *inventory.Ledger
	events orders.EventPublisher
	clock  func() time.Time
	logger *zap.Logger
}

type Deps struct {
	Store      orders.Store
	Calculator *pricing.Calculator
	Ledger     *inventory.Ledger
	// Events is optional; without it nothing is published.
	Events orders.EventPublisher
	Clock  func() time.Time
	Logger *zap.Logger
}

func NewOrderService(d Deps) (*OrderService, error) {
	if d.Store == nil || d.Calculator == nil {
		return nil, errors.New("service: store and calculator are required")
	}
	s := &OrderService{
		store:  d.Store,
		calc:   d.Calculator,
		ledger: d.Ledger,
		events: d.Events,
		clock:  d.Clock,
		logger: d.Logger,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.ledger == nil {
		s.ledger = inventory.NewLedger(inventory.Options{Notifier: d.Events, Clock: s.clock, Logger: s.logger})
	}
	return s, nil
}

type ItemRequest struct {
	ProductID string
	Quantity  int
}

type PlaceOrderCommand struct {
	CustomerID      string
	Actor           orders.Actor
	Fulfillment     orders.FulfillmentMethod
	ShippingAddress orders.Address
	CustomerNotes   string
	PaymentMethod   string
	Items           []ItemRequest
	TokensUsed      int
	DiscountAmount  decimal.Decimal
	IdempotencyKey  string
}

type PlaceOrderResult struct {
	Order orders.Order
	// Replayed is set when the idempotency key matched an existing order.
	Replayed bool
}

func (s *OrderService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// PlaceOrder validates the command, then prices, reserves and persists the
// order in one transaction. Events go out only after commit.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	items, err := normalizePlace(&cmd)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	var (
		order   orders.Order
		replay  bool
		signals []inventory.LowStockSignal
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if cmd.IdempotencyKey != "" {
			existing, ok, err := tx.FindOrderByIdempotencyKey(ctx, cmd.CustomerID, cmd.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				order, replay = existing, true
				return nil
			}
		}

		o, sigs, err := s.placeInTx(ctx, tx, cmd, items)
		if err != nil {
			return err
		}
		order, signals = o, sigs
		return nil
	})
	if err != nil && cmd.IdempotencyKey != "" && errors.Is(err, orders.ErrConflict) {
		// A concurrent request with the same key won the insert.
		if existing, ok := s.findByKey(ctx, cmd.CustomerID, cmd.IdempotencyKey); ok {
			return PlaceOrderResult{Order: existing, Replayed: true}, nil
		}
	}
	if err != nil {
		s.logger.Warn("place order failed",
			zap.String("customer_id", cmd.CustomerID),
			zap.Error(err))
		return PlaceOrderResult{}, storageErr("place order", err)
	}

	if replay {
		s.logger.Info("order replayed",
			zap.String("order_id", order.ID),
			zap.String("idempotency_key", cmd.IdempotencyKey))
		return PlaceOrderResult{Order: order, Replayed: true}, nil
	}

	s.publish(ctx, orders.NewOrderEvent(orders.EventOrderPlaced, &order, "", cmd.Actor, order.OrderedAt))
	s.ledger.Notify(ctx, signals)

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("customer_id", order.CustomerID),
		zap.String("total", order.Total.StringFixed(2)))
	return PlaceOrderResult{Order: order}, nil
}

func (s *OrderService) placeInTx(ctx context.Context, tx orders.Tx, cmd PlaceOrderCommand, items []ItemRequest) (orders.Order, []inventory.LowStockSignal, error) {
	now := s.now()

	products := make(map[string]orders.Product, len(items))
	for _, it := range items {
		p, err := tx.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, orders.ErrProductNotFound) {
				return orders.Order{}, nil, &orders.ProductError{ProductID: it.ProductID, Requested: it.Quantity, Err: orders.ErrProductNotFound}
			}
			return orders.Order{}, nil, err
		}
		products[it.ProductID] = p
	}

	shopID := products[items[0].ProductID].ShopID
	lines := make([]orders.OrderItem, 0, len(items))
	for _, it := range items {
		p := products[it.ProductID]
		if p.ShopID != shopID {
			return orders.Order{}, nil, fmt.Errorf("%w: product %s belongs to shop %s, order is for shop %s",
				orders.ErrValidation, p.ID, p.ShopID, shopID)
		}
		line, err := s.calc.Line(p, it.Quantity)
		if err != nil {
			return orders.Order{}, nil, err
		}
		lines = append(lines, line)
	}

	// Lock rows in a stable order so concurrent multi-item orders cannot deadlock.
	byID := append([]ItemRequest(nil), items...)
	sort.Slice(byID, func(i, j int) bool { return byID[i].ProductID < byID[j].ProductID })
	var signals []inventory.LowStockSignal
	for _, it := range byID {
		res, err := s.ledger.Reserve(ctx, tx, products[it.ProductID], it.Quantity)
		if err != nil {
			return orders.Order{}, nil, err
		}
		if res.LowStock != nil {
			signals = append(signals, *res.LowStock)
		}
	}

	balance := 0
	if cmd.TokensUsed > 0 {
		b, err := tx.TokenBalance(ctx, cmd.CustomerID)
		if err != nil {
			return orders.Order{}, nil, err
		}
		balance = b
	}
	quote, err := s.calc.Quote(lines, pricing.QuoteOptions{
		Fulfillment:    cmd.Fulfillment,
		DiscountAmount: cmd.DiscountAmount,
		TokensUsed:     cmd.TokensUsed,
		TokenBalance:   balance,
	})
	if err != nil {
		return orders.Order{}, nil, err
	}

	number, err := allocateOrderNumber(ctx, tx, now)
	if err != nil {
		return orders.Order{}, nil, err
	}

	o := orders.Order{
		ID:                uuid.NewString(),
		OrderNumber:       number,
		CustomerID:        cmd.CustomerID,
		ShopID:            shopID,
		Status:            orders.StatusPending,
		FulfillmentMethod: cmd.Fulfillment,
		ShippingAddress:   cmd.ShippingAddress,
		Subtotal:          quote.Subtotal,
		TaxAmount:         quote.TaxAmount,
		ShippingCost:      quote.ShippingCost,
		DiscountAmount:    quote.DiscountAmount,
		TokensUsed:        quote.TokensUsed,
		TokensValue:       quote.TokensValue,
		Total:             quote.Total,
		PaymentStatus:     orders.PaymentPending,
		PaymentMethod:     cmd.PaymentMethod,
		CustomerNotes:     cmd.CustomerNotes,
		IdempotencyKey:    cmd.IdempotencyKey,
		OrderedAt:         now,
		UpdatedAt:         now,
	}
	for _, line := range quote.Items {
		line.ID = uuid.NewString()
		line.OrderID = o.ID
		line.CreatedAt = now
		o.Items = append(o.Items, line)
	}

	if err := tx.InsertOrder(ctx, &o); err != nil {
		return orders.Order{}, nil, err
	}
	if err := tx.AppendHistory(ctx, o.Note("Order placed", cmd.Actor, now)); err != nil {
		return orders.Order{}, nil, err
	}
	if err := tx.AddCustomerOrder(ctx, o.CustomerID, o.Total); err != nil {
		return orders.Order{}, nil, err
	}
	if o.TokensUsed > 0 {
		err := tx.AppendTokenEntry(ctx, tokenEntry(o.CustomerID, orders.TokensSpent, -o.TokensUsed, balance-o.TokensUsed,
			o.ID, fmt.Sprintf("Redeemed on order %s", o.OrderNumber), now))
		if err != nil {
			return orders.Order{}, nil, err
		}
	}
	return o, signals, nil
}

// normalizePlace applies defaults and rejects malformed commands before any
// store access. Repeated product ids are merged into one line.
func normalizePlace(cmd *PlaceOrderCommand) ([]ItemRequest, error) {
	cmd.CustomerID = strings.TrimSpace(cmd.CustomerID)
	if cmd.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", orders.ErrValidation)
	}
	if len(cmd.Items) == 0 {
		return nil, orders.ErrEmptyOrder
	}
	if cmd.Fulfillment == "" {
		cmd.Fulfillment = orders.FulfillmentDelivery
	}
	if !cmd.Fulfillment.Valid() {
		return nil, fmt.Errorf("%w: unknown fulfillment method %q", orders.ErrValidation, cmd.Fulfillment)
	}
	if cmd.ShippingAddress.Country == "" {
		cmd.ShippingAddress.Country = orders.DefaultCountry
	}
	if cmd.Fulfillment == orders.FulfillmentDelivery &&
		(strings.TrimSpace(cmd.ShippingAddress.Street) == "" || strings.TrimSpace(cmd.ShippingAddress.City) == "") {
		return nil, fmt.Errorf("%w: delivery orders need a street and city", orders.ErrValidation)
	}
	if cmd.TokensUsed < 0 {
		return nil, fmt.Errorf("%w: tokens must not be negative", orders.ErrValidation)
	}
	if cmd.DiscountAmount.IsNegative() {
		return nil, fmt.Errorf("%w: discount must not be negative", orders.ErrValidation)
	}
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)

	merged := make([]ItemRequest, 0, len(cmd.Items))
	index := make(map[string]int, len(cmd.Items))
	for _, it := range cmd.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, fmt.Errorf("%w: product id is required", orders.ErrValidation)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", orders.ErrInvalidQuantity, it.ProductID)
		}
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

func allocateOrderNumber(ctx context.Context, tx orders.Tx, now time.Time) (string, error) {
	for range maxOrderNumberAttempts {
		n, err := orders.NewOrderNumber(now)
		if err != nil {
			return "", err
		}
		taken, err := tx.OrderNumberExists(ctx, n)
		if err != nil {
			return "", err
		}
		if !taken {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: no free order number after %d attempts", orders.ErrConflict, maxOrderNumberAttempts)
}

func (s *OrderService) findByKey(ctx context.Context, customerID, key string) (orders.Order, bool) {
	var (
		found orders.Order
		ok    bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var err error
		found, ok, err = tx.FindOrderByIdempotencyKey(ctx, customerID, key)
		return err
	})
	if err != nil {
		return orders.Order{}, false
	}
	return found, ok
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, storageErr("get order", err)
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error) {
	if f.CustomerID == "" && f.ShopID == "" {
		return nil, fmt.Errorf("%w: customer or shop filter is required", orders.ErrValidation)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", orders.ErrInvalidStatus, f.Status)
	}
	list, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	return list, nil
}

func (s *OrderService) OrderHistory(ctx context.Context, id string) ([]orders.StatusHistory, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.History, nil
}

func (s *OrderService) publish(ctx context.Context, ev orders.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, ev); err != nil {
		s.logger.Error("failed to publish order event",
			zap.String("event_type", ev.Type),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}

// storageErr leaves domain failures as they are and marks everything else as
// a storage failure.
func storageErr(op string, err error) error {
	if err == nil || orders.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", orders.ErrStorage, op, err)
}

func tokenEntry(customerID string, typ orders.TokenEntryType, amount, balanceAfter int, orderID, desc string, now time.Time) orders.TokenEntry {
	return orders.TokenEntry{
		ID:           newULID(now),
		CustomerID:   customerID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		OrderID:      orderID,
		Description:  desc,
		CreatedAt:    now,
	}
}
