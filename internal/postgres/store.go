package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

// Store implements orders.Store on a pgx pool.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var _ orders.Store = (*Store)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return getOrder(ctx, s.DB, id, false)
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	return getProduct(ctx, s.DB, id)
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = orders.DefaultListLimit
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR customer_id = $1)
		  AND ($2 = '' OR shop_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY ordered_at DESC, order_number DESC
		LIMIT $4`, f.CustomerID, f.ShopID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := loadChildren(ctx, s.DB, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type pgTx struct {
	q querier
}

var _ orders.Tx = (*pgTx)(nil)

func (t *pgTx) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	return getProduct(ctx, t.q, id)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) (orders.StockLevel, error) {
	lvl := orders.StockLevel{ProductID: productID}
	err := t.q.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, sales_count = sales_count + $2, updated_at = now()
		WHERE id = $1 AND is_active AND stock_quantity >= $2
		RETURNING shop_id, sku, name, stock_quantity, min_stock_level, is_active`,
		productID, qty).Scan(&lvl.ShopID, &lvl.SKU, &lvl.Name, &lvl.After, &lvl.MinStockLevel, &lvl.Active)
	if err == nil {
		lvl.Before = lvl.After + qty
		lvl.Applied = true
		return lvl, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return orders.StockLevel{}, err
	}

	// Nothing matched: report what is there now.
	err = t.q.QueryRow(ctx, `
		SELECT shop_id, sku, name, stock_quantity, min_stock_level, is_active
		FROM products WHERE id = $1`,
		productID).Scan(&lvl.ShopID, &lvl.SKU, &lvl.Name, &lvl.After, &lvl.MinStockLevel, &lvl.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.StockLevel{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.StockLevel{}, err
	}
	lvl.Before = lvl.After
	return lvl, nil
}

func (t *pgTx) IncrementStock(ctx context.Context, productID string, qty int) (orders.StockLevel, error) {
	lvl := orders.StockLevel{ProductID: productID}
	err := t.q.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, sales_count = GREATEST(sales_count - $2, 0), updated_at = now()
		WHERE id = $1
		RETURNING shop_id, sku, name, stock_quantity, min_stock_level, is_active`,
		productID, qty).Scan(&lvl.ShopID, &lvl.SKU, &lvl.Name, &lvl.After, &lvl.MinStockLevel, &lvl.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.StockLevel{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.StockLevel{}, err
	}
	lvl.Before = lvl.After - qty
	lvl.Applied = true
	return lvl, nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (orders.Order, error) {
	return getOrder(ctx, t.q, id, true)
}

func (t *pgTx) FindOrderByIdempotencyKey(ctx context.Context, customerID, key string) (orders.Order, bool, error) {
	var id string
	err := t.q.QueryRow(ctx,
		`SELECT id FROM orders WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	o, err := getOrder(ctx, t.q, id, false)
	if err != nil {
		return orders.Order{}, false, err
	}
	return o, true, nil
}

func (t *pgTx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(
			id, order_number, customer_id, shop_id, status, fulfillment_method,
			shipping_street, shipping_city, shipping_postal_code, shipping_country,
			subtotal, tax_amount, shipping_cost, discount_amount, tokens_used, tokens_value, total,
			payment_status, payment_method, customer_notes, tracking_number, tracking_url,
			idempotency_key, ordered_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		o.ID, o.OrderNumber, o.CustomerID, o.ShopID, string(o.Status), string(o.FulfillmentMethod),
		o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.Subtotal, o.TaxAmount, o.ShippingCost, o.DiscountAmount, o.TokensUsed, o.TokensValue, o.Total,
		o.PaymentStatus, o.PaymentMethod, o.CustomerNotes, o.TrackingNumber, o.TrackingURL,
		nullable(o.IdempotencyKey), o.OrderedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}

	for i, it := range o.Items {
		_, err := t.q.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, product_name, product_sku,
				unit_price, quantity, line_total, tax_rate, tax_amount, position, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			it.ID, o.ID, it.ProductID, it.ProductName, it.ProductSKU,
			it.UnitPrice, it.Quantity, it.LineTotal, it.TaxRate, it.TaxAmount, i, it.CreatedAt,
		)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET
			status = $2, payment_status = $3, tracking_number = $4, tracking_url = $5,
			confirmed_at = $6, shipped_at = $7, delivered_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $1`,
		o.ID, string(o.Status), o.PaymentStatus, o.TrackingNumber, o.TrackingURL,
		o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h orders.StatusHistory) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_status_history(id, order_id, status, notes, changed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.OrderID, string(h.Status), h.Notes, h.ChangedBy, h.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) AddCustomerOrder(ctx context.Context, customerID string, total decimal.Decimal) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO customer_stats(customer_id, total_orders, total_spent)
		VALUES ($1, 1, $2)
		ON CONFLICT (customer_id) DO UPDATE
		SET total_orders = customer_stats.total_orders + 1,
		    total_spent = customer_stats.total_spent + EXCLUDED.total_spent`,
		customerID, total)
	return mapErr(err)
}

func (t *pgTx) TokenBalance(ctx context.Context, customerID string) (int, error) {
	// released at commit or rollback
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, tokenLockSpace, customerID); err != nil {
		return 0, err
	}
	var bal int
	err := t.q.QueryRow(ctx, `
		SELECT balance_after FROM loyalty_tokens
		WHERE customer_id = $1
		ORDER BY seq DESC
		LIMIT 1`, customerID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (t *pgTx) AppendTokenEntry(ctx context.Context, e orders.TokenEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO loyalty_tokens(id, customer_id, type, amount, balance_after, order_id, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.CustomerID, string(e.Type), e.Amount, e.BalanceAfter, nullable(e.OrderID), e.Description, e.CreatedAt)
	return mapErr(err)
}

// tokenLockSpace namespaces the advisory locks taken on a customer's token ledger.
const tokenLockSpace int32 = 7101

const orderColumns = `id, order_number, customer_id, shop_id, status, fulfillment_method,
	shipping_street, shipping_city, shipping_postal_code, shipping_country,
	subtotal, tax_amount, shipping_cost, discount_amount, tokens_used, tokens_value, total,
	payment_status, payment_method, customer_notes, tracking_number, tracking_url, idempotency_key,
	ordered_at, confirmed_at, shipped_at, delivered_at, cancelled_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		status string
		method string
		key    *string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.ShopID, &status, &method,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Subtotal, &o.TaxAmount, &o.ShippingCost, &o.DiscountAmount, &o.TokensUsed, &o.TokensValue, &o.Total,
		&o.PaymentStatus, &o.PaymentMethod, &o.CustomerNotes, &o.TrackingNumber, &o.TrackingURL, &key,
		&o.OrderedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.UpdatedAt,
	)
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.FulfillmentMethod = orders.FulfillmentMethod(method)
	if key != nil {
		o.IdempotencyKey = *key
	}
	return o, nil
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (orders.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if err := loadChildren(ctx, q, &o); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func loadChildren(ctx context.Context, q querier, o *orders.Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, product_sku,
		       unit_price, quantity, line_total, tax_rate, tax_amount, created_at
		FROM order_items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	o.Items, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.OrderItem, error) {
		var it orders.OrderItem
		err := r.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSKU,
			&it.UnitPrice, &it.Quantity, &it.LineTotal, &it.TaxRate, &it.TaxAmount, &it.CreatedAt)
		return it, err
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, order_id, status, notes, changed_by, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return err
	}
	o.History, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.StatusHistory, error) {
		var (
			h      orders.StatusHistory
			status string
		)
		err := r.Scan(&h.ID, &h.OrderID, &status, &h.Notes, &h.ChangedBy, &h.CreatedAt)
		h.Status = orders.Status(status)
		return h, err
	})
	return err
}

func getProduct(ctx context.Context, q querier, id string) (orders.Product, error) {
	var (
		p    orders.Product
		sale decimal.NullDecimal
	)
	err := q.QueryRow(ctx, `
		SELECT id, shop_id, sku, name, price, sale_price, stock_quantity, min_stock_level,
		       max_stock_level, sales_count, is_active, created_at, updated_at
		FROM products WHERE id = $1`, id).Scan(
		&p.ID, &p.ShopID, &p.SKU, &p.Name, &p.Price, &sale, &p.StockQuantity, &p.MinStockLevel,
		&p.MaxStockLevel, &p.SalesCount, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.Product{}, err
	}
	if sale.Valid {
		p.SalePrice = &sale.Decimal
	}
	return p, nil
}

// mapErr turns unique violations into orders.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", orders.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
