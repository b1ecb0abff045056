package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"service-dispatch/internal/shared/models"
	"service-dispatch/internal/shared/util"
)

const (
	connectAttempts = 10
	connectBackoff  = 3 * time.Second
)

// ConnectToRMQ dials the broker, retrying while it starts up.
func ConnectToRMQ(ctx context.Context, cfg *models.RabbitMQConfig, log *util.Logger) (*amqp091.Connection, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL())
		if err == nil {
			go watchClose(conn, log)
			return conn, nil
		}
		lastErr = err
		log.Warn("mq.ConnectToRMQ", fmt.Sprintf("RabbitMQ not ready, retrying... (%d/%d)", i+1, connectAttempts))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", lastErr)
}

func watchClose(conn *amqp091.Connection, log *util.Logger) {
	err, ok := <-conn.NotifyClose(make(chan *amqp091.Error, 1))
	if ok && err != nil {
		log.Error("mq.watchClose", "RabbitMQ connection lost", err)
	}
}

// DeclareTopic declares a durable topic exchange.
func DeclareTopic(ch *amqp091.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// DeclareQueue declares a durable queue bound to exchange under every key.
// With an empty exchange the queue is reachable through the default exchange.
func DeclareQueue(ch *amqp091.Channel, queue, exchange string, keys ...string) error {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if exchange == "" {
		return nil
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", rk, exchange, err)
		}
	}
	return nil
}

type Publisher struct {
	ch *amqp091.Channel
	mu sync.Mutex
}

func NewPublisher(ch *amqp091.Channel) *Publisher {
	return &Publisher{ch: ch}
}

func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Publish(ctx, exchange, routingKey, body)
}
