package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/apperrors"
	"service-dispatch/internal/shared/util"
	"service-dispatch/internal/shared/validation"
)

type TrackingStore interface {
	domain.BookingStore
	domain.ProviderStore
	domain.CustomerStore
}

// offlineHandler is satisfied by *Coordinator.
type offlineHandler interface {
	ProviderWentOffline(ctx context.Context, provider *domain.Provider) *PauseResult
}

type LocationUpdate struct {
	ProviderID string   `json:"providerId"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	IsOnline   *bool    `json:"isOnline,omitempty"`
}

type StatusUpdate struct {
	ProviderID string `json:"providerId"`
	IsOnline   *bool  `json:"isOnline"`
	Status     string `json:"status,omitempty"`
}

// TrackingAck is returned for every accepted telemetry message.
type TrackingAck struct {
	ProviderID       string    `json:"providerId"`
	IsOnline         bool      `json:"isOnline"`
	ActiveBookings   int       `json:"activeBookings"`
	ReleasedBookings int       `json:"releasedBookings"`
	Timestamp        time.Time `json:"timestamp"`
}

type ProviderLocationEvent struct {
	ProviderID string    `json:"providerId"`
	BookingID  string    `json:"bookingId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	IsOnline   bool      `json:"isOnline"`
	Timestamp  time.Time `json:"timestamp"`
}

type ProviderStatusEvent struct {
	ProviderID string    `json:"providerId"`
	BookingID  string    `json:"bookingId"`
	IsOnline   bool      `json:"isOnline"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type TrackedProvider struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Phone    string        `json:"phone"`
	Verified bool          `json:"verified"`
	IsOnline bool          `json:"isOnline"`
	Location *domain.Point `json:"location"`
}

type TrackingInfo struct {
	BookingID string           `json:"bookingId"`
	Status    domain.Status    `json:"status"`
	Provider  *TrackedProvider `json:"provider"`
	Customer  *domain.Customer `json:"customer"`
	Address   string           `json:"address"`
	ETA       *ETA             `json:"eta"`
}

type TrackerOptions struct {
	Cache     domain.LocationCache
	Archive   domain.LocationArchive
	Estimator domain.Estimator
	// MinUpdateInterval downsamples the archive per provider. Zero archives
	// every sample.
	MinUpdateInterval time.Duration
}

// Tracker ingests provider telemetry and fans it out to active bookings.
type Tracker struct {
	store       TrackingStore
	offline     offlineHandler
	broadcaster domain.Broadcaster
	cache       domain.LocationCache
	archive     domain.LocationArchive
	estimator   domain.Estimator
	limiter     *intervalLimiter
	logger      *util.Logger
	now         func() time.Time
}

func NewTracker(store TrackingStore, offline offlineHandler, broadcaster domain.Broadcaster, opts TrackerOptions, logger *util.Logger) *Tracker {
	estimator := opts.Estimator
	if estimator == nil {
		estimator = HaversineEstimator{SpeedKmh: DefaultAverageSpeedKmh}
	}
	return &Tracker{
		store:       store,
		offline:     offline,
		broadcaster: broadcaster,
		cache:       opts.Cache,
		archive:     opts.Archive,
		estimator:   estimator,
		limiter:     newIntervalLimiter(opts.MinUpdateInterval),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) UpdateLocation(ctx context.Context, in LocationUpdate) (*TrackingAck, error) {
	instance := "Tracker.UpdateLocation"
	if err := validation.ValidateStringNotEmpty(in.ProviderID, "providerId"); err != nil {
		return nil, err
	}
	if err := validation.RequireCoordinates(in.Lat, in.Lng); err != nil {
		return nil, err
	}

	now := t.now()
	lat, lng := *in.Lat, *in.Lng
	wasOnline, provider, err := t.store.UpdateProviderLocation(ctx, in.ProviderID, lat, lng, now, in.IsOnline)
	if err != nil {
		return nil, err
	}

	sample := domain.LocationSample{ProviderID: provider.ID, Lat: lat, Lng: lng, Timestamp: now, IsOnline: provider.IsOnline}
	// samples that carry an online flag are always archived
	t.remember(ctx, sample, in.IsOnline != nil)

	bookings, err := t.store.ListActiveBookingsByProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		t.publish(ctx, b.ID, EventProviderLocation, ProviderLocationEvent{
			ProviderID: provider.ID,
			BookingID:  b.ID,
			Lat:        lat,
			Lng:        lng,
			IsOnline:   provider.IsOnline,
			Timestamp:  now,
		})
	}

	ack := &TrackingAck{ProviderID: provider.ID, IsOnline: provider.IsOnline, ActiveBookings: len(bookings), Timestamp: now}
	if wasOnline && !provider.IsOnline {
		t.logger.Info(instance, "provider "+provider.ID+" went offline with a location sample")
		ack.ReleasedBookings = t.offline.ProviderWentOffline(ctx, provider).Succeeded
	}
	return ack, nil
}

func (t *Tracker) UpdateStatus(ctx context.Context, in StatusUpdate) (*TrackingAck, error) {
	instance := "Tracker.UpdateStatus"
	if err := validation.ValidateStringNotEmpty(in.ProviderID, "providerId"); err != nil {
		return nil, err
	}
	if in.IsOnline == nil {
		return nil, apperrors.Validation("isOnline", "is required")
	}

	now := t.now()
	wasOnline, provider, err := t.store.SetProviderOnline(ctx, in.ProviderID, *in.IsOnline)
	if err != nil {
		return nil, err
	}
	t.logger.Info(instance, fmt.Sprintf("provider %s online=%t (was %t)", provider.ID, provider.IsOnline, wasOnline))

	message := in.Status
	if message == "" {
		message = "Provider is offline"
		if provider.IsOnline {
			message = "Provider is online"
		}
	}

	bookings, err := t.store.ListActiveBookingsByProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		t.publish(ctx, b.ID, EventProviderStatusUpdated, ProviderStatusEvent{
			ProviderID: provider.ID,
			BookingID:  b.ID,
			IsOnline:   provider.IsOnline,
			Message:    message,
			Timestamp:  now,
		})
	}

	ack := &TrackingAck{ProviderID: provider.ID, IsOnline: provider.IsOnline, ActiveBookings: len(bookings), Timestamp: now}
	if wasOnline && !provider.IsOnline {
		ack.ReleasedBookings = t.offline.ProviderWentOffline(ctx, provider).Succeeded
	}
	return ack, nil
}

func (t *Tracker) TrackingInfo(ctx context.Context, bookingID string) (*TrackingInfo, error) {
	instance := "Tracker.TrackingInfo"
	if err := validation.ValidateStringNotEmpty(bookingID, "bookingId"); err != nil {
		return nil, err
	}
	booking, err := t.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	info := &TrackingInfo{BookingID: booking.ID, Status: booking.Status, Address: booking.Address}

	customer, err := t.store.GetCustomer(ctx, booking.UserID)
	var nf *apperrors.NotFoundError
	switch {
	case errors.As(err, &nf):
		t.logger.Warn(instance, "customer missing for booking "+booking.ID)
	case err != nil:
		return nil, err
	default:
		info.Customer = customer
	}

	if booking.ProviderID == nil {
		return info, nil
	}
	provider, err := t.store.GetProvider(ctx, *booking.ProviderID)
	if err != nil {
		return nil, err
	}
	tracked := &TrackedProvider{
		ID:       provider.ID,
		Name:     provider.Name,
		Phone:    provider.Phone,
		Verified: provider.Verified,
		IsOnline: provider.IsOnline,
	}
	if loc, ok := t.providerLocation(ctx, provider); ok {
		tracked.Location = &loc
		if dest, ok := booking.Destination(); ok {
			eta := newETA(t.now(), t.estimator.Estimate(loc, dest))
			info.ETA = &eta
		}
	}
	info.Provider = tracked
	return info, nil
}

func (t *Tracker) ETA(ctx context.Context, bookingID string) (*ETA, error) {
	if err := validation.ValidateStringNotEmpty(bookingID, "bookingId"); err != nil {
		return nil, err
	}
	booking, err := t.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.ProviderID == nil {
		return nil, apperrors.Validation("providerId", "no provider assigned to booking")
	}
	dest, ok := booking.Destination()
	if !ok {
		return nil, apperrors.Validation("address", "booking has no coordinates")
	}
	provider, err := t.store.GetProvider(ctx, *booking.ProviderID)
	if err != nil {
		return nil, err
	}
	loc, ok := t.providerLocation(ctx, provider)
	if !ok {
		return nil, apperrors.Validation("location", "provider location unknown")
	}
	eta := newETA(t.now(), t.estimator.Estimate(loc, dest))
	return &eta, nil
}

// providerLocation prefers the cache and falls back to the stored position.
func (t *Tracker) providerLocation(ctx context.Context, p *domain.Provider) (domain.Point, bool) {
	if t.cache != nil {
		sample, err := t.cache.GetLocation(ctx, p.ID)
		if err != nil {
			t.logger.Warn("Tracker.providerLocation", err.Error())
		} else if sample != nil {
			return domain.Point{Lat: sample.Lat, Lng: sample.Lng}, true
		}
	}
	return p.Location()
}

// remember refreshes the cache with every sample. The archive keeps at most
// one sample per provider per MinUpdateInterval unless force is set.
func (t *Tracker) remember(ctx context.Context, s domain.LocationSample, force bool) {
	instance := "Tracker.remember"
	if t.cache != nil {
		if err := t.cache.SetLocation(ctx, s); err != nil {
			t.logger.Warn(instance, err.Error())
		}
	}
	if t.archive == nil {
		return
	}
	if !t.limiter.Allow(s.ProviderID, s.Timestamp) && !force {
		return
	}
	if err := t.archive.Append(ctx, s); err != nil {
		t.logger.Warn(instance, err.Error())
	}
}

func (t *Tracker) publish(ctx context.Context, bookingID, event string, payload interface{}) {
	if err := t.broadcaster.Publish(ctx, domain.BookingRoom(bookingID), event, payload); err != nil {
		t.logger.Warn("Tracker.publish", fmt.Sprintf("%s for booking %s: %v", event, bookingID, err))
	}
}
