package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/notification"
	"service-dispatch/internal/shared/apperrors"
	"service-dispatch/internal/shared/util"
)

const (
	EventBookingStatusUpdated  = "bookingStatusUpdated"
	EventProviderLocation      = "providerLocationUpdated"
	EventProviderStatusUpdated = "providerStatusUpdated"

	notificationTypeBooking  = "BOOKING"
	notificationTypeProvider = "PROVIDER"

	// a release that loses a race is retried against the fresh row
	releaseAttempts = 3
)

// Notifier is the part of the notification gateway dispatch relies on.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (*domain.Notification, error)
	SendToProvider(ctx context.Context, providerID string, msg notification.Message) (*domain.Notification, error)
	SendBookingNotification(ctx context.Context, userID, providerID string, msg notification.Message) error
}

type DispatchStore interface {
	domain.BookingStore
	domain.ProviderStore
}

type BookingStatusEvent struct {
	BookingID  string        `json:"bookingId"`
	Status     domain.Status `json:"status"`
	ProviderID *string       `json:"providerId"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ReleaseOutcome reports what happened to one booking during a pause cascade.
type ReleaseOutcome struct {
	BookingID      string        `json:"bookingId"`
	UserID         string        `json:"userId"`
	PreviousStatus domain.Status `json:"previousStatus"`
	Released       bool          `json:"released"`
	Error          string        `json:"error,omitempty"`
}

type PauseResult struct {
	Provider  *domain.Provider `json:"provider"`
	Outcomes  []ReleaseOutcome `json:"affectedBookings"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// Channels picks the external channel per recipient kind. The in-app
// record is written regardless; an empty channel means in-app only.
type Channels struct {
	User     domain.Channel
	Provider domain.Channel
}

// Coordinator owns provider assignment and the pause cascade.
type Coordinator struct {
	store       DispatchStore
	notifier    Notifier
	broadcaster domain.Broadcaster
	channels    Channels
	logger      *util.Logger
	now         func() time.Time
}

func NewCoordinator(store DispatchStore, notifier Notifier, broadcaster domain.Broadcaster, channels Channels, logger *util.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		notifier:    notifier,
		broadcaster: broadcaster,
		channels:    channels,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, apperrors.Validation("bookingId", "is required")
	}
	return c.store.GetBooking(ctx, bookingID)
}

func (c *Coordinator) AssignProvider(ctx context.Context, bookingID, providerID string) (*domain.Booking, error) {
	instance := "Coordinator.AssignProvider"
	if bookingID == "" {
		return nil, apperrors.Validation("bookingId", "is required")
	}
	if providerID == "" {
		return nil, apperrors.Validation("providerId", "is required")
	}

	booking, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	provider, err := c.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !provider.Verified {
		c.logger.Warn(instance, fmt.Sprintf("provider %s is not verified", providerID))
		return nil, &apperrors.UnverifiedProviderError{ProviderID: providerID}
	}

	next, err := domain.Assign(*booking, providerID, c.now())
	if err != nil {
		return nil, err
	}
	updated, err := c.store.UpdateBooking(ctx, next, booking.Status, booking.Version, c.event("PROVIDER_ASSIGNED", *booking, next, &providerID))
	if err != nil {
		c.logger.Warn(instance, fmt.Sprintf("assign %s to %s rejected: %v", providerID, bookingID, err))
		return nil, err
	}
	c.logger.OK(instance, fmt.Sprintf("booking %s assigned to provider %s", bookingID, providerID))

	c.publishStatus(ctx, *updated)
	c.notifyUser(ctx, instance, updated.UserID, updated.ID,
		fmt.Sprintf("%s has been assigned to your booking", providerName(provider)))
	c.notifyProvider(ctx, instance, providerID, &updated.ID,
		fmt.Sprintf("You have been assigned to booking %s at %s", updated.ID, updated.Address))

	return updated, nil
}

// UpdateBookingStatus applies a caller-requested transition.
func (c *Coordinator) UpdateBookingStatus(ctx context.Context, bookingID string, status domain.Status) (*domain.Booking, error) {
	instance := "Coordinator.UpdateBookingStatus"
	if bookingID == "" {
		return nil, apperrors.Validation("bookingId", "is required")
	}

	booking, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	next, err := domain.ApplyTransition(*booking, status, c.now())
	if err != nil {
		return nil, err
	}
	updated, err := c.store.UpdateBooking(ctx, next, booking.Status, booking.Version, c.event("STATUS_CHANGED", *booking, next, booking.ProviderID))
	if err != nil {
		return nil, err
	}
	c.logger.OK(instance, fmt.Sprintf("booking %s %s -> %s", bookingID, booking.Status, updated.Status))

	c.publishStatus(ctx, *updated)

	providerID := ""
	if booking.ProviderID != nil {
		providerID = *booking.ProviderID
	}
	err = c.notifier.SendBookingNotification(ctx, updated.UserID, providerID, notification.Message{
		Text:            fmt.Sprintf("Booking %s is now %s", updated.ID, updated.Status),
		Type:            notificationTypeBooking,
		Channel:         c.channels.User,
		BookingID:       &updated.ID,
		ProviderChannel: c.channels.Provider,
	})
	if err != nil {
		c.logger.Error(instance, "status notification failed", err)
	}
	return updated, nil
}

// PauseProvider takes the provider offline and releases its active bookings.
func (c *Coordinator) PauseProvider(ctx context.Context, providerID, reason string) (*PauseResult, error) {
	instance := "Coordinator.PauseProvider"
	if providerID == "" {
		return nil, apperrors.Validation("providerId", "is required")
	}

	_, provider, err := c.store.SetProviderOnline(ctx, providerID, false)
	if err != nil {
		return nil, err
	}

	return c.cascade(ctx, instance, provider, reason), nil
}

// ProviderWentOffline runs the same cascade after telemetry flipped the
// provider offline.
func (c *Coordinator) ProviderWentOffline(ctx context.Context, provider *domain.Provider) *PauseResult {
	return c.cascade(ctx, "Coordinator.ProviderWentOffline", provider, "you went offline")
}

func (c *Coordinator) cascade(ctx context.Context, instance string, provider *domain.Provider, reason string) *PauseResult {
	result := c.releaseBookings(ctx, provider)
	c.logger.Info(instance, fmt.Sprintf("provider %s paused: %d released, %d failed", provider.ID, result.Succeeded, result.Failed))

	text := "Your account has been paused"
	if reason != "" {
		text += ": " + reason
	}
	c.notifyProvider(ctx, instance, provider.ID, nil, text)
	return result
}

func (c *Coordinator) releaseBookings(ctx context.Context, provider *domain.Provider) *PauseResult {
	instance := "Coordinator.releaseBookings"
	result := &PauseResult{Provider: provider, Outcomes: []ReleaseOutcome{}}

	bookings, err := c.store.ListActiveBookingsByProvider(ctx, provider.ID)
	if err != nil {
		c.logger.Error(instance, "list active bookings for "+provider.ID, err)
		result.Failed++
		result.Outcomes = append(result.Outcomes, ReleaseOutcome{Error: apperrors.PublicMessage(err)})
		return result
	}

	for _, b := range bookings {
		outcome := ReleaseOutcome{BookingID: b.ID, UserID: b.UserID, PreviousStatus: b.Status}
		released, err := c.releaseOne(ctx, b, provider.ID)
		switch {
		case err != nil:
			c.logger.Error(instance, "release booking "+b.ID, err)
			outcome.Error = apperrors.PublicMessage(err)
			result.Failed++
		case released == nil:
			// no longer held by this provider
			outcome.Released = false
		default:
			outcome.Released = true
			result.Succeeded++
			c.publishStatus(ctx, *released)
			c.notifyUser(ctx, instance, released.UserID, released.ID,
				"Your provider is no longer available. We are looking for a new one.")
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result
}

// releaseOne returns nil without error when the booking moved on and no
// longer holds the provider.
func (c *Coordinator) releaseOne(ctx context.Context, b domain.Booking, providerID string) (*domain.Booking, error) {
	var lastErr error
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := c.store.GetBooking(ctx, b.ID)
			if err != nil {
				return nil, err
			}
			b = *fresh
		}
		if !b.Status.IsActive() || !b.HasProvider(providerID) {
			return nil, nil
		}
		next, err := domain.Release(b, c.now())
		if err != nil {
			return nil, err
		}
		updated, err := c.store.UpdateBooking(ctx, next, b.Status, b.Version, c.event("PROVIDER_RELEASED", b, next, &providerID))
		if err == nil {
			return updated, nil
		}
		var lost *apperrors.InvalidTransitionError
		if !errors.As(err, &lost) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Coordinator) ActivateProvider(ctx context.Context, providerID string) (*domain.Provider, error) {
	if providerID == "" {
		return nil, apperrors.Validation("providerId", "is required")
	}
	_, provider, err := c.store.SetProviderOnline(ctx, providerID, true)
	if err != nil {
		return nil, err
	}
	c.logger.OK("Coordinator.ActivateProvider", "provider "+providerID+" is online")
	return provider, nil
}

func (c *Coordinator) VerifyProvider(ctx context.Context, providerID string, verified bool, tier *string) (*domain.Provider, error) {
	instance := "Coordinator.VerifyProvider"
	if providerID == "" {
		return nil, apperrors.Validation("providerId", "is required")
	}
	provider, err := c.store.UpdateProviderVerification(ctx, providerID, verified, tier)
	if err != nil {
		return nil, err
	}

	text := "Your account has been verified"
	if !verified {
		text = "Your account verification has been revoked"
	}
	if provider.Tier != "" {
		text += fmt.Sprintf(" (tier: %s)", provider.Tier)
	}
	c.notifyProvider(ctx, instance, providerID, nil, text)
	return provider, nil
}

func (c *Coordinator) event(kind string, from, to domain.Booking, providerID *string) domain.BookingEvent {
	return domain.BookingEvent{
		BookingID:  from.ID,
		EventType:  kind,
		FromStatus: from.Status,
		ToStatus:   to.Status,
		ProviderID: providerID,
		CreatedAt:  to.UpdatedAt,
	}
}

func (c *Coordinator) publishStatus(ctx context.Context, b domain.Booking) {
	err := c.broadcaster.Publish(ctx, domain.BookingRoom(b.ID), EventBookingStatusUpdated, BookingStatusEvent{
		BookingID:  b.ID,
		Status:     b.Status,
		ProviderID: b.ProviderID,
		Timestamp:  b.UpdatedAt,
	})
	if err != nil {
		c.logger.Warn("Coordinator.publishStatus", fmt.Sprintf("broadcast for booking %s failed: %v", b.ID, err))
	}
}

// Notification failures never undo a committed booking write.
func (c *Coordinator) notifyUser(ctx context.Context, instance, userID, bookingID, text string) {
	_, err := c.notifier.SendToUser(ctx, userID, notification.Message{
		Text: text, Type: notificationTypeBooking, Channel: c.channels.User, BookingID: &bookingID,
	})
	if err != nil {
		c.logger.Error(instance, "notify user "+userID, err)
	}
}

func (c *Coordinator) notifyProvider(ctx context.Context, instance, providerID string, bookingID *string, text string) {
	kind := notificationTypeProvider
	if bookingID != nil {
		kind = notificationTypeBooking
	}
	_, err := c.notifier.SendToProvider(ctx, providerID, notification.Message{
		Text: text, Type: kind, Channel: c.channels.Provider, BookingID: bookingID,
	})
	if err != nil {
		c.logger.Error(instance, "notify provider "+providerID, err)
	}
}

func providerName(p *domain.Provider) string {
	if p.Name == "" {
		return "A provider"
	}
	return p.Name
}
