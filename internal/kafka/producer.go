package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/logging"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

// maxDrain caps how many queued messages go into one WriteMessages call.
const maxDrain = 256

// Producer buffers messages in an inbox and hands them to an async writer
// from a single goroutine. The topic is chosen per message.
type Producer struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	done  chan struct{}
	log   *zap.Logger

	// mu guards closed and the inbox close against in-flight sends.
	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buf <= 0 {
		buf = 1024
	}
	p := &Producer{
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		log:   logger,
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   p.completed,
		ErrorLogger:  logging.NewPrintf(logger.Named("kafka-writer")),
	}
	return p
}

// completed reports async delivery results; failed messages are only logged.
func (p *Producer) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		p.log.Error("kafka write failed",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Error(err))
	}
}

func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		batch := make([]kafka.Message, 0, maxDrain)
		for m := range p.inbox {
			batch = append(batch[:0], m)
		drain:
			for len(batch) < maxDrain {
				select {
				case next, ok := <-p.inbox:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			// async: errors arrive through completed
			if err := p.w.WriteMessages(context.Background(), batch...); err != nil {
				p.completed(batch, err)
			}
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
}

// Publish enqueues one message. It blocks while the inbox is full until ctx
// is done.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now().UTC(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages. It waits for publishers already inside
// Publish, then the writer goroutine flushes what is queued and exits.
// Calling Close more than once is safe.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

func (p *Producer) WaitClosed() { <-p.done }
