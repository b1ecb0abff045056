package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"service-dispatch/internal/shared/util"
)

// RelayExchange fans room events out to every service instance.
const RelayExchange = "dispatch.rooms"

type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Relay publishes through the broker so subscribers connected to any
// instance receive the event. Each instance delivers to its own hub.
type Relay struct {
	pub publisher
	hub *Hub
	log *util.Logger
}

func NewRelay(pub publisher, hub *Hub, log *util.Logger) *Relay {
	return &Relay{pub: pub, hub: hub, log: log}
}

func (r *Relay) Publish(ctx context.Context, room, event string, payload interface{}) error {
	msg, err := NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(ctx, RelayExchange, room, msg); err != nil {
		return fmt.Errorf("relay %s to %s: %w", event, room, err)
	}
	return nil
}

// DeclareRelay sets up the fanout exchange and an exclusive queue for this
// instance, returning the queue name.
func DeclareRelay(ch *amqp091.Channel) (string, error) {
	if err := ch.ExchangeDeclare(RelayExchange, "fanout", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare relay exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare relay queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", RelayExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind relay queue: %w", err)
	}
	return q.Name, nil
}

// Run consumes relayed events until ctx is done or the channel closes.
func (r *Relay) Run(ctx context.Context, ch *amqp091.Channel, queue string) error {
	msgs, err := ch.ConsumeWithContext(ctx, queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume relay queue: %w", err)
	}
	r.log.Info("Relay.Run", "relaying room events from "+queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(d.Body)
		}
	}
}

func (r *Relay) handle(body []byte) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Room == "" {
		r.log.Warn("Relay.handle", "discarding malformed relay message")
		return
	}
	r.hub.Deliver(env.Room, body)
}
