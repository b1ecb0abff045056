package notification

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"sync"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/apperrors"
	"service-dispatch/internal/shared/util"
)

// EventNotification is the room event carrying a persisted notification.
const EventNotification = "notification"

var (
	deliveriesSent   = expvar.NewInt("notification_deliveries_total")
	deliveriesFailed = expvar.NewInt("notification_deliveries_failed_total")
)

// Message is one notification to send. An empty Channel means in-app only.
type Message struct {
	Text      string
	Type      string
	Channel   domain.Channel
	BookingID *string
	// ProviderChannel overrides Channel for the provider copy sent by
	// SendBookingNotification.
	ProviderChannel domain.Channel
}

type NotificationEvent struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Channel   domain.Channel `json:"channel"`
	BookingID *string        `json:"bookingId,omitempty"`
	SentAt    time.Time      `json:"sentAt"`
}

// Gateway persists notifications, pushes them to the recipient's room and
// hands them to external channels in the background.
type Gateway struct {
	store           domain.NotificationStore
	broadcaster     domain.Broadcaster
	senders         map[domain.Channel]Sender
	deliveryTimeout time.Duration
	log             *util.Logger
	now             func() time.Time

	wg sync.WaitGroup
}

func NewGateway(store domain.NotificationStore, broadcaster domain.Broadcaster, senders map[domain.Channel]Sender, deliveryTimeout time.Duration, log *util.Logger) *Gateway {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	return &Gateway{
		store:           store,
		broadcaster:     broadcaster,
		senders:         senders,
		deliveryTimeout: deliveryTimeout,
		log:             log,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) SendToUser(ctx context.Context, userID string, msg Message) (*domain.Notification, error) {
	return g.send(ctx, domain.RecipientUser, userID, domain.UserRoom(userID), msg)
}

func (g *Gateway) SendToProvider(ctx context.Context, providerID string, msg Message) (*domain.Notification, error) {
	return g.send(ctx, domain.RecipientProvider, providerID, domain.ProviderRoom(providerID), msg)
}

// SendBookingNotification notifies the user and, when set, the provider.
// Both sends are attempted even if the first fails.
func (g *Gateway) SendBookingNotification(ctx context.Context, userID, providerID string, msg Message) error {
	_, userErr := g.SendToUser(ctx, userID, msg)
	if providerID == "" {
		return userErr
	}
	providerMsg := msg
	if msg.ProviderChannel != "" {
		providerMsg.Channel = msg.ProviderChannel
	}
	_, providerErr := g.SendToProvider(ctx, providerID, providerMsg)
	return errors.Join(userErr, providerErr)
}

func (g *Gateway) send(ctx context.Context, kind domain.RecipientKind, recipientID, room string, msg Message) (*domain.Notification, error) {
	instance := "Gateway.send"
	if recipientID == "" {
		return nil, apperrors.Validation("recipientId", "is required")
	}
	if msg.Text == "" {
		return nil, apperrors.Validation("message", "is required")
	}
	if msg.Channel == "" {
		msg.Channel = domain.ChannelApp
	}

	n := domain.Notification{
		ID:            util.GenerateUUID(),
		RecipientKind: kind,
		RecipientID:   recipientID,
		BookingID:     msg.BookingID,
		Message:       msg.Text,
		Type:          msg.Type,
		Channel:       msg.Channel,
		SentAt:        g.now(),
	}
	if err := g.store.CreateNotification(ctx, n); err != nil {
		g.log.Error(instance, fmt.Sprintf("persist notification for %s %s", kind, recipientID), err)
		return nil, err
	}

	event := NotificationEvent{ID: n.ID, Message: n.Message, Type: n.Type, Channel: n.Channel, BookingID: n.BookingID, SentAt: n.SentAt}
	if err := g.broadcaster.Publish(ctx, room, EventNotification, event); err != nil {
		// the persisted record is the durable copy
		g.log.Warn(instance, fmt.Sprintf("broadcast notification %s to %s failed: %v", n.ID, room, err))
	}

	g.deliverExternal(n)
	return &n, nil
}

func (g *Gateway) deliverExternal(n domain.Notification) {
	if n.Channel == domain.ChannelApp {
		return
	}
	sender, ok := g.senders[n.Channel]
	if !ok {
		g.log.Warn("Gateway.deliverExternal", fmt.Sprintf("no sender for channel %s, notification %s stays in-app", n.Channel, n.ID))
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.deliveryTimeout)
		defer cancel()

		if err := sender.Send(ctx, n.RecipientID, n.Message); err != nil {
			deliveriesFailed.Add(1)
			g.log.Error("Gateway.deliverExternal", fmt.Sprintf("%s delivery of %s to %s", n.Channel, n.ID, n.RecipientID), err)
			return
		}
		deliveriesSent.Add(1)
	}()
}

func (g *Gateway) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	if notificationID == "" {
		return nil, apperrors.Validation("id", "is required")
	}
	return g.store.GetNotification(ctx, notificationID)
}

func (g *Gateway) MarkRead(ctx context.Context, notificationID string) (*domain.Notification, error) {
	if notificationID == "" {
		return nil, apperrors.Validation("id", "is required")
	}
	return g.store.MarkNotificationRead(ctx, notificationID, g.now())
}

func (g *Gateway) ListForRecipient(ctx context.Context, kind domain.RecipientKind, recipientID string, limit int) ([]domain.Notification, error) {
	if kind != domain.RecipientUser && kind != domain.RecipientProvider {
		return nil, apperrors.Validation("recipientKind", "must be user or provider")
	}
	if recipientID == "" {
		return nil, apperrors.Validation("recipientId", "is required")
	}
	return g.store.ListNotifications(ctx, kind, recipientID, limit)
}

// Wait blocks until in-flight external deliveries finish.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
