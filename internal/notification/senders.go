package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/models"
	"service-dispatch/internal/shared/util"
)

// Sender delivers a message over one external channel.
type Sender interface {
	Send(ctx context.Context, recipientID, message string) error
}

type jsonPublisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error
}

// NewSenders builds the channel capability map from configuration.
// Channels configured as "none" are left out, so delivery is skipped.
func NewSenders(cfg models.NotificationsConfig, pub jsonPublisher, log *util.Logger) (map[domain.Channel]Sender, error) {
	senders := make(map[domain.Channel]Sender)
	for channel, ch := range map[domain.Channel]models.ChannelConfig{
		domain.ChannelSMS:      cfg.SMS,
		domain.ChannelWhatsApp: cfg.WhatsApp,
		domain.ChannelEmail:    cfg.Email,
	} {
		switch ch.Sender {
		case "none":
		case "", "log":
			senders[channel] = LogSender{Channel: channel, Log: log}
		case "webhook":
			senders[channel] = NewWebhookSender(channel, ch.URL)
		case "amqp":
			if pub == nil {
				return nil, fmt.Errorf("%s: amqp sender needs rabbitmq", channel)
			}
			senders[channel] = AMQPSender{Channel: channel, Exchange: cfg.Exchange, Pub: pub}
		default:
			return nil, fmt.Errorf("%s: unknown sender %q", channel, ch.Sender)
		}
	}
	return senders, nil
}

// LogSender is the development sender.
type LogSender struct {
	Channel domain.Channel
	Log     *util.Logger
}

func (s LogSender) Send(ctx context.Context, recipientID, message string) error {
	s.Log.Info("LogSender.Send", fmt.Sprintf("send %s to %s: %s", s.Channel, recipientID, message))
	return nil
}

type WebhookSender struct {
	channel domain.Channel
	url     string
	client  *http.Client
}

func NewWebhookSender(channel domain.Channel, url string) WebhookSender {
	return WebhookSender{channel: channel, url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s WebhookSender) Send(ctx context.Context, recipientID, message string) error {
	body, err := json.Marshal(map[string]string{
		"channel":   string(s.channel),
		"recipient": recipientID,
		"message":   message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request: " + resp.Status)
	}
	return nil
}

// AMQPSender hands the message to a delivery worker through the broker.
type AMQPSender struct {
	Channel  domain.Channel
	Exchange string
	Pub      jsonPublisher
}

type OutboundMessage struct {
	Channel     domain.Channel `json:"channel"`
	RecipientID string         `json:"recipientId"`
	Message     string         `json:"message"`
	QueuedAt    time.Time      `json:"queuedAt"`
}

func (s AMQPSender) Send(ctx context.Context, recipientID, message string) error {
	return s.Pub.PublishJSON(ctx, s.Exchange, "notification."+string(s.Channel), OutboundMessage{
		Channel:     s.Channel,
		RecipientID: recipientID,
		Message:     message,
		QueuedAt:    time.Now().UTC(),
	})
}
