package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"service-dispatch/internal/shared/apperrors"
	"service-dispatch/internal/shared/middleware"
	"service-dispatch/internal/shared/mq"
	"service-dispatch/internal/shared/util"
)

const (
	TelemetryExchange = "telemetry_topic"
	LocationQueue     = "provider_locations"
	StatusQueue       = "provider_status"
)

// DeclareTelemetry sets up the telemetry exchange and both queues.
func DeclareTelemetry(ch *amqp091.Channel) error {
	if err := mq.DeclareTopic(ch, TelemetryExchange); err != nil {
		return err
	}
	if err := mq.DeclareQueue(ch, LocationQueue, TelemetryExchange, "provider.location.*"); err != nil {
		return err
	}
	return mq.DeclareQueue(ch, StatusQueue, TelemetryExchange, "provider.status.*")
}

// AMQPConsumer feeds provider_locations and provider_status into the tracker
// with manual acknowledgement.
type AMQPConsumer struct {
	tracker Tracker
	channel *amqp091.Channel
	log     *util.Logger
	wg      sync.WaitGroup
}

func NewAMQPConsumer(tracker Tracker, ch *amqp091.Channel, log *util.Logger) *AMQPConsumer {
	return &AMQPConsumer{tracker: tracker, channel: ch, log: log}
}

func (c *AMQPConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(16, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	for queue, k := range map[string]kind{LocationQueue: kindLocation, StatusQueue: kindStatus} {
		msgs, err := c.channel.Consume(
			queue,
			"",
			false, // manual acknowledgment
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}

		c.wg.Add(1)
		go func(queue string, k kind, msgs <-chan amqp091.Delivery) {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					c.handle(ctx, k, msg)
				}
			}
		}(queue, k, msgs)
		c.log.OK("AMQPConsumer.Start", queue+" consumer started")
	}
	return nil
}

// Wait blocks until both consume loops have stopped.
func (c *AMQPConsumer) Wait() {
	c.wg.Wait()
}

// handle acks accepted samples, drops samples that can never succeed and
// requeues the rest.
func (c *AMQPConsumer) handle(ctx context.Context, k kind, msg amqp091.Delivery) {
	instance := "AMQPConsumer.handle"
	if msg.MessageId != "" {
		ctx = middleware.WithRequestID(ctx, msg.MessageId)
	}
	_, err := apply(ctx, c.tracker, k, "", msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.log.Error(instance, "ack", ackErr)
		}
	case apperrors.IsRecoverable(err):
		c.log.Warn(instance, fmt.Sprintf("dropping %s message %s: %v", k, middleware.GetRequestID(ctx), err))
		_ = msg.Nack(false, false)
	default:
		c.log.Error(instance, fmt.Sprintf("%s message %s failed, requeueing", k, middleware.GetRequestID(ctx)), err)
		_ = msg.Nack(false, !msg.Redelivered)
	}
}
