package consumer

import (
	"context"
	"errors"

	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/Eursukkul/studio-booking/internal/service"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HandlerFunc processes one delivery body. Returning an error that
// service.IsRetryable accepts requeues the message.
type HandlerFunc func(ctx context.Context, body []byte) error

// errMalformed marks a payload that can never be processed.
var errMalformed = errors.New("malformed message")

// Consumer dispatches deliveries by routing key and acks manually. A
// message carrying a MessageId is recorded once handled, so a redelivery
// after a lost ack is skipped.
type Consumer struct {
	handlers map[string]HandlerFunc
	messages repository.MessageRepository
	logger   *zap.Logger
}

func NewConsumer(messages repository.MessageRepository, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{handlers: map[string]HandlerFunc{}, messages: messages, logger: logger}
}

func (c *Consumer) Handle(routingKey string, fn HandlerFunc) {
	c.handlers[routingKey] = fn
}

// RoutingKeys lists the keys with a registered handler, for queue bindings.
func (c *Consumer) RoutingKeys() []string {
	keys := make([]string, 0, len(c.handlers))
	for k := range c.handlers {
		keys = append(keys, k)
	}
	return keys
}

// Start consumes msgs in a goroutine. The returned channel closes once msgs
// is drained.
func (c *Consumer) Start(ctx context.Context, msgs <-chan amqp.Delivery) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			c.handleMessage(ctx, msg)
		}
		c.logger.Info("[Consumer] channel closed, stopping consumer")
	}()
	return done
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	log := c.logger.With(zap.String("routing_key", msg.RoutingKey), zap.String("message_id", msg.MessageId))

	fn, ok := c.handlers[msg.RoutingKey]
	if !ok {
		log.Warn("[Consumer] no handler for routing key")
		msg.Nack(false, false)
		return
	}

	if msg.MessageId != "" && c.messages != nil {
		seen, err := c.messages.IsProcessed(ctx, msg.MessageId)
		if err != nil {
			log.Error("[Consumer] dedup lookup failed", zap.Error(err))
			msg.Nack(false, true) // requeue
			return
		}
		if seen {
			log.Info("[Consumer] duplicate delivery skipped")
			msg.Ack(false)
			return
		}
	}

	if err := fn(ctx, msg.Body); err != nil {
		switch {
		case errors.Is(err, errMalformed):
			log.Error("[Consumer] dropping malformed message", zap.Error(err))
			msg.Nack(false, false)
		case service.IsRetryable(err):
			log.Error("[Consumer] handler failed, requeueing", zap.Error(err))
			msg.Nack(false, true) // requeue
		default:
			log.Warn("[Consumer] message rejected by business rule", zap.Error(err))
			msg.Nack(false, false)
		}
		return
	}

	if msg.MessageId != "" && c.messages != nil {
		if err := c.messages.MarkProcessed(ctx, msg.MessageId, msg.RoutingKey); err != nil {
			log.Warn("[Consumer] mark processed failed", zap.Error(err))
		}
	}
	msg.Ack(false)
}
