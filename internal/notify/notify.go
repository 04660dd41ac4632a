// Package notify turns order and stock events into customer and merchant
// notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/TomyLeHuy/ecommerce-platform/internal/kafka"
	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

const (
	AudienceCustomer = "customer"
	AudienceMerchant = "merchant"
)

type Notification struct {
	EventID     string
	Kind        string
	Audience    string
	RecipientID string
	Subject     string
	Body        string
	OccurredAt  time.Time
}

type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Deduper remembers processed event ids. *redisx.Dedup implements it.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Service struct {
	dedup    Deduper
	sink     Sink
	log      *zap.Logger
	attempts int
	backoff  time.Duration
}

type Options struct {
	Dedup  Deduper
	Sink   Sink
	Logger *zap.Logger
	// SendAttempts bounds delivery tries per notification; default 3.
	SendAttempts int
	// RetryBackoff is multiplied by the attempt number; default 200ms.
	RetryBackoff time.Duration
}

func NewService(opts Options) *Service {
	s := &Service{
		dedup:    opts.Dedup,
		sink:     opts.Sink,
		log:      opts.Logger,
		attempts: opts.SendAttempts,
		backoff:  opts.RetryBackoff,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.sink == nil {
		s.sink = NewLogSink(s.log)
	}
	if s.attempts <= 0 {
		s.attempts = 3
	}
	if s.backoff <= 0 {
		s.backoff = 200 * time.Millisecond
	}
	return s
}

// Handle is installed as the consumer handler. Malformed and unknown messages
// are skipped so their offsets get committed. Each notification is claimed
// separately and retried here; the consumer commits later offsets anyway, so
// a notification that fails every attempt is dropped and logged.
func (s *Service) Handle(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.log.Warn("skipping undecodable message",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		return nil
	}

	notes, err := render(env)
	if err != nil {
		s.log.Warn("skipping bad payload",
			zap.String("event_id", env.EventID),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return nil
	}
	if len(notes) == 0 {
		return nil
	}

	var failed []error
	for _, n := range notes {
		id := claimID(n)
		if !s.claim(ctx, id) {
			continue
		}
		if err := s.deliver(ctx, n); err != nil {
			s.release(ctx, id)
			s.log.Error("notification dropped",
				zap.String("event_id", n.EventID),
				zap.String("kind", n.Kind),
				zap.String("audience", n.Audience),
				zap.Error(err))
			failed = append(failed, fmt.Errorf("send %s notification for event %s: %w", n.Kind, n.EventID, err))
		}
	}
	return errors.Join(failed...)
}

// claimID keys dedup per recipient so a partial failure never resends the
// notifications that already went out.
func claimID(n Notification) string {
	return n.EventID + ":" + n.Audience + ":" + n.RecipientID
}

func (s *Service) claim(ctx context.Context, id string) bool {
	if s.dedup == nil {
		return true
	}
	fresh, err := s.dedup.Claim(ctx, id)
	if err != nil {
		// redis down: deliver rather than drop
		s.log.Warn("dedup unavailable", zap.String("claim", id), zap.Error(err))
		return true
	}
	if !fresh {
		s.log.Debug("duplicate notification", zap.String("claim", id))
	}
	return fresh
}

func (s *Service) release(ctx context.Context, id string) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.Release(ctx, id); err != nil {
		s.log.Warn("dedup release failed", zap.String("claim", id), zap.Error(err))
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = s.sink.Send(ctx, n); err == nil {
			return nil
		}
		if attempt == s.attempts {
			break
		}
		s.log.Warn("notification send failed, retrying",
			zap.String("event_id", n.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(time.Duration(attempt) * s.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func render(env orders.Envelope) ([]Notification, error) {
	note := func(kind, audience, recipient string, at time.Time, subject, body string) Notification {
		return Notification{
			EventID:     env.EventID,
			Kind:        kind,
			Audience:    audience,
			RecipientID: recipient,
			Subject:     subject,
			Body:        body,
			OccurredAt:  at,
		}
	}

	switch env.EventType {
	case orders.EventOrderPlaced:
		ev, err := kafkax.UnwrapPayload[orders.OrderEvent](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{
			note("order_placed", AudienceCustomer, ev.CustomerID, ev.OccurredAt,
				fmt.Sprintf("Order %s received", ev.OrderNumber),
				fmt.Sprintf("Thanks for your order %s. Total: %s EUR.", ev.OrderNumber, ev.Total)),
			note("order_placed", AudienceMerchant, ev.ShopID, ev.OccurredAt,
				fmt.Sprintf("New order %s", ev.OrderNumber),
				fmt.Sprintf("Order %s is waiting for confirmation. Total: %s EUR.", ev.OrderNumber, ev.Total)),
		}, nil

	case orders.EventOrderStatusChanged:
		ev, err := kafkax.UnwrapPayload[orders.OrderEvent](env.Payload)
		if err != nil {
			return nil, err
		}
		subject, ok := statusSubjects[ev.Status]
		if !ok {
			return nil, nil
		}
		return []Notification{
			note("order_"+string(ev.Status), AudienceCustomer, ev.CustomerID, ev.OccurredAt,
				fmt.Sprintf(subject, ev.OrderNumber),
				fmt.Sprintf("Order %s changed from %s to %s.", ev.OrderNumber, ev.PreviousStatus, ev.Status)),
		}, nil

	case orders.EventLowStock:
		ev, err := kafkax.UnwrapPayload[orders.LowStockEvent](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{
			note("low_stock", AudienceMerchant, ev.ShopID, ev.OccurredAt,
				fmt.Sprintf("Low stock: %s", ev.Name),
				fmt.Sprintf("%s (%s) has %d left, minimum is %d.", ev.Name, ev.SKU, ev.StockQuantity, ev.MinStockLevel)),
		}, nil
	}
	return nil, nil
}

var statusSubjects = map[orders.Status]string{
	orders.StatusConfirmed:  "Order %s confirmed",
	orders.StatusProcessing: "Order %s is being prepared",
	orders.StatusShipped:    "Order %s is on its way",
	orders.StatusDelivered:  "Order %s delivered",
	orders.StatusCancelled:  "Order %s cancelled",
	orders.StatusRefunded:   "Order %s refunded",
}

// LogSink writes notifications to the log instead of a delivery channel.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{log: logger}
}

func (l *LogSink) Send(_ context.Context, n Notification) error {
	l.log.Info("notification",
		zap.String("event_id", n.EventID),
		zap.String("kind", n.Kind),
		zap.String("audience", n.Audience),
		zap.String("recipient_id", n.RecipientID),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body))
	return nil
}
