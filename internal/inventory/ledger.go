package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

// LowStockNotifier receives low-stock signals once the reserving transaction
// has committed.
type LowStockNotifier interface {
	PublishLowStock(ctx context.Context, ev orders.LowStockEvent) error
}

type LowStockSignal struct {
	Level orders.StockLevel
	At    time.Time
}

type Reservation struct {
	Level    orders.StockLevel
	LowStock *LowStockSignal
}

type Ledger struct {
	notifier LowStockNotifier
	clock    func() time.Time
	log      *zap.Logger
}

type Options struct {
	Notifier LowStockNotifier
	Clock    func() time.Time
	Logger   *zap.Logger
}

func NewLedger(opts Options) *Ledger {
	l := &Ledger{notifier: opts.Notifier, clock: opts.Clock, log: opts.Logger}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

// Reserve takes qty units of p inside tx. The decrement is conditional on the
// stock still covering qty, so concurrent reservations of the last units
// cannot both succeed.
func (l *Ledger) Reserve(ctx context.Context, tx orders.StockTx, p orders.Product, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, fmt.Errorf("%w: product %s", orders.ErrInvalidQuantity, p.ID)
	}
	if !p.IsActive {
		return Reservation{}, &orders.ProductError{
			ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.StockQuantity,
			Err: orders.ErrInsufficientStock,
		}
	}

	lvl, err := tx.DecrementStock(ctx, p.ID, qty)
	if err != nil {
		return Reservation{}, err
	}
	if !lvl.Applied {
		return Reservation{}, &orders.ProductError{
			ProductID: p.ID, Name: p.Name, Requested: qty, Available: lvl.After,
			Err: orders.ErrInsufficientStock,
		}
	}

	res := Reservation{Level: lvl}
	if lvl.Before > lvl.MinStockLevel && lvl.After <= lvl.MinStockLevel {
		res.LowStock = &LowStockSignal{Level: lvl, At: l.clock().UTC()}
	}
	return res, nil
}

// Release gives qty units back to the product. It is only used to compensate
// a reservation when an order is cancelled.
func (l *Ledger) Release(ctx context.Context, tx orders.StockTx, productID string, qty int) (orders.StockLevel, error) {
	if qty <= 0 {
		return orders.StockLevel{}, fmt.Errorf("%w: product %s", orders.ErrInvalidQuantity, productID)
	}
	return tx.IncrementStock(ctx, productID, qty)
}

// Notify forwards committed low-stock signals. Publish failures are logged;
// the stock change itself already happened.
func (l *Ledger) Notify(ctx context.Context, signals []LowStockSignal) {
	if l.notifier == nil {
		return
	}
	for _, s := range signals {
		ev := orders.LowStockEvent{
			ProductID:     s.Level.ProductID,
			ShopID:        s.Level.ShopID,
			SKU:           s.Level.SKU,
			Name:          s.Level.Name,
			StockQuantity: s.Level.After,
			MinStockLevel: s.Level.MinStockLevel,
			OccurredAt:    s.At,
		}
		if err := l.notifier.PublishLowStock(ctx, ev); err != nil {
			l.log.Warn("low stock publish failed",
				zap.String("product_id", ev.ProductID),
				zap.Int("stock_quantity", ev.StockQuantity),
				zap.Error(err))
		}
	}
}
