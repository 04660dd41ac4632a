package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

const defaultCancelReason = "No reason provided"

// CancelOrder cancels a pending or confirmed order, gives the reserved stock
// back and restores redeemed tokens. Monetary fields stay as placed.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, actor orders.Actor, reason string) (orders.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancelReason
	}

	var (
		order    orders.Order
		previous orders.Status
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if actor.Role == orders.RoleCustomer && actor.ID != o.CustomerID {
			return fmt.Errorf("%w: order %s belongs to another customer", orders.ErrActorNotPermitted, o.ID)
		}
		if !o.CanBeCancelled() {
			return &orders.StatusError{OrderID: o.ID, Current: o.Status, Err: orders.ErrOrderNotCancellable}
		}

		now := s.now()
		previous = o.Status
		h, err := o.Transition(orders.StatusCancelled, actor, "Order cancelled: "+reason, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &o); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		for _, it := range o.Items {
			if _, err := s.ledger.Release(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		if o.TokensUsed > 0 {
			bal, err := tx.TokenBalance(ctx, o.CustomerID)
			if err != nil {
				return err
			}
			err = tx.AppendTokenEntry(ctx, tokenEntry(o.CustomerID, orders.TokensAdjustment, o.TokensUsed, bal+o.TokensUsed,
				o.ID, fmt.Sprintf("Tokens restored from cancelled order %s", o.OrderNumber), now))
			if err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return orders.Order{}, storageErr("cancel order", err)
	}

	s.publish(ctx, orders.NewOrderEvent(orders.EventOrderStatusChanged, &order, previous, actor, order.UpdatedAt))
	s.logger.Info("order cancelled",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("previous_status", string(previous)),
		zap.String("actor_id", actor.ID))
	return order, nil
}

type UpdateStatusCommand struct {
	OrderID string
	Status  orders.Status
	Actor   orders.Actor
	Notes   string
}

// UpdateStatus moves the order along the lifecycle. Cancellation takes the
// CancelOrder path so stock is restored.
func (s *OrderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (orders.Order, error) {
	if !cmd.Actor.CanManageOrders() {
		return orders.Order{}, fmt.Errorf("%w: role %q cannot change order status", orders.ErrActorNotPermitted, cmd.Actor.Role)
	}
	if !cmd.Status.Valid() {
		return orders.Order{}, fmt.Errorf("%w: %q", orders.ErrInvalidStatus, cmd.Status)
	}
	if cmd.Status == orders.StatusCancelled {
		return s.CancelOrder(ctx, cmd.OrderID, cmd.Actor, cmd.Notes)
	}

	var (
		order    orders.Order
		previous orders.Status
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		now := s.now()
		previous = o.Status
		h, err := o.Transition(cmd.Status, cmd.Actor, cmd.Notes, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &o); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		if o.Status == orders.StatusDelivered {
			if err := s.awardTokens(ctx, tx, &o, now); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return orders.Order{}, storageErr("update status", err)
	}

	s.publish(ctx, orders.NewOrderEvent(orders.EventOrderStatusChanged, &order, previous, cmd.Actor, order.UpdatedAt))
	s.logger.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(order.Status)))
	return order, nil
}

func (s *OrderService) awardTokens(ctx context.Context, tx orders.Tx, o *orders.Order, now time.Time) error {
	earned := s.calc.TokensEarned(o.Total)
	if earned <= 0 {
		return nil
	}
	bal, err := tx.TokenBalance(ctx, o.CustomerID)
	if err != nil {
		return err
	}
	return tx.AppendTokenEntry(ctx, tokenEntry(o.CustomerID, orders.TokensEarned, earned, bal+earned,
		o.ID, fmt.Sprintf("Earned on order %s", o.OrderNumber), now))
}

// UpdateTracking stores the carrier reference and records it in the history
// without changing the status.
func (s *OrderService) UpdateTracking(ctx context.Context, orderID string, actor orders.Actor, number, trackingURL string) (orders.Order, error) {
	if !actor.CanManageOrders() {
		return orders.Order{}, fmt.Errorf("%w: role %q cannot update tracking", orders.ErrActorNotPermitted, actor.Role)
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return orders.Order{}, fmt.Errorf("%w: tracking number is required", orders.ErrValidation)
	}
	trackingURL = strings.TrimSpace(trackingURL)
	if trackingURL != "" {
		u, err := url.Parse(trackingURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return orders.Order{}, fmt.Errorf("%w: tracking url must be an absolute http(s) url", orders.ErrValidation)
		}
	}

	var order orders.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		o.TrackingNumber = number
		o.TrackingURL = trackingURL
		h := o.Note("Tracking number added: "+number, actor, now)
		if err := tx.UpdateOrder(ctx, &o); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return orders.Order{}, storageErr("update tracking", err)
	}
	return order, nil
}

func newULID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
