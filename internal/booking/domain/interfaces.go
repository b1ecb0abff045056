package domain

import (
	"context"
	"time"
)

// BookingStore reads and conditionally writes bookings.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)
	// UpdateBooking writes next only if the stored row still has the
	// expected status and version. A lost race yields
	// *apperrors.InvalidTransitionError and leaves the row untouched.
	// The event is appended in the same transaction.
	UpdateBooking(ctx context.Context, next Booking, expected Status, expectedVersion int64, event BookingEvent) (*Booking, error)
	ListActiveBookingsByProvider(ctx context.Context, providerID string) ([]Booking, error)
	ListBookingEvents(ctx context.Context, bookingID string) ([]BookingEvent, error)
}

type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (*Provider, error)
	// SetProviderOnline is a single atomic write; it returns the flag
	// as it was before the write.
	SetProviderOnline(ctx context.Context, id string, online bool) (wasOnline bool, p *Provider, err error)
	UpdateProviderVerification(ctx context.Context, id string, verified bool, tier *string) (*Provider, error)
	// UpdateProviderLocation stores the latest position. The online flag
	// is written only when online is non-nil.
	UpdateProviderLocation(ctx context.Context, id string, lat, lng float64, at time.Time, online *bool) (wasOnline bool, p *Provider, err error)
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (*Notification, error)
	ListNotifications(ctx context.Context, kind RecipientKind, recipientID string, limit int) ([]Notification, error)
}

// Store is the entity store as a whole.
type Store interface {
	BookingStore
	ProviderStore
	CustomerStore
	NotificationStore
}

// Broadcaster publishes a named event to every subscriber of a room.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload interface{}) error
}

// LocationCache keeps the latest sample per provider for fast reads.
type LocationCache interface {
	SetLocation(ctx context.Context, s LocationSample) error
	GetLocation(ctx context.Context, providerID string) (*LocationSample, error)
}

// LocationArchive receives every accepted sample.
type LocationArchive interface {
	Append(ctx context.Context, s LocationSample) error
}

// Estimator turns a provider position and a destination into a travel estimate.
type Estimator interface {
	Estimate(from, to Point) Estimate
}

type Estimate struct {
	Duration   time.Duration
	DistanceKm float64
}
