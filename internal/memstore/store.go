// Package memstore is an in-process orders.Store. Transactions are fully
// serialized and work on a copy of the state that replaces the live state
// only on commit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error
}

type state struct {
	products  map[string]orders.Product
	orders    map[string]orders.Order
	history   map[string][]orders.StatusHistory
	customers map[string]orders.CustomerStats
	tokens    map[string][]orders.TokenEntry
	byNumber  map[string]string
	byKey     map[string]string
}

func New() *Store {
	return &Store{
		st: &state{
			products:  map[string]orders.Product{},
			orders:    map[string]orders.Order{},
			history:   map[string][]orders.StatusHistory{},
			customers: map[string]orders.CustomerStats{},
			tokens:    map[string][]orders.TokenEntry{},
			byNumber:  map[string]string{},
			byKey:     map[string]string{},
		},
		faults: map[string]error{},
	}
}

var _ orders.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &memTx{st: work, faults: s.faults}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return s.st.materialize(o), nil
}

func (s *Store) ListOrders(_ context.Context, f orders.ListFilter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = orders.DefaultListLimit
	}
	var out []orders.Order
	for _, o := range s.st.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.ShopID != "" && o.ShopID != f.ShopID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, s.st.materialize(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].OrderedAt.After(out[j].OrderedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	s.st.products[p.ID] = p
}

// GrantTokens credits tokens to a customer as an admin adjustment.
func (s *Store) GrantTokens(customerID string, amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{st: s.st}
	bal, _ := tx.TokenBalance(context.Background(), customerID)
	now := time.Now().UTC()
	_ = tx.AppendTokenEntry(context.Background(), orders.TokenEntry{
		ID:           ulid.Make().String(),
		CustomerID:   customerID,
		Type:         orders.TokensAdjustment,
		Amount:       amount,
		BalanceAfter: bal + amount,
		Description:  "granted",
		CreatedAt:    now,
	})
}

func (s *Store) Customer(id string) orders.CustomerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.customers[id]
	if !ok {
		return orders.CustomerStats{CustomerID: id, TotalSpent: decimal.Zero}
	}
	return c
}

func (s *Store) TokenEntries(customerID string) []orders.TokenEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.TokenEntry(nil), s.st.tokens[customerID]...)
}

// FailOn makes the named transaction operation (e.g. "AppendHistory") return
// err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (st *state) clone() *state {
	c := &state{
		products:  make(map[string]orders.Product, len(st.products)),
		orders:    make(map[string]orders.Order, len(st.orders)),
		history:   make(map[string][]orders.StatusHistory, len(st.history)),
		customers: make(map[string]orders.CustomerStats, len(st.customers)),
		tokens:    make(map[string][]orders.TokenEntry, len(st.tokens)),
		byNumber:  make(map[string]string, len(st.byNumber)),
		byKey:     make(map[string]string, len(st.byKey)),
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.orders {
		v.Items = append([]orders.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	for k, v := range st.history {
		c.history[k] = append([]orders.StatusHistory(nil), v...)
	}
	for k, v := range st.customers {
		c.customers[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = append([]orders.TokenEntry(nil), v...)
	}
	for k, v := range st.byNumber {
		c.byNumber[k] = v
	}
	for k, v := range st.byKey {
		c.byKey[k] = v
	}
	return c
}

func (st *state) materialize(o orders.Order) orders.Order {
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	o.History = append([]orders.StatusHistory(nil), st.history[o.ID]...)
	return o
}
