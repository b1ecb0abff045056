package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/apperrors"
)

type testStore interface {
	domain.Store
	Seeder
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }
func boolp(v bool) *bool     { return &v }

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, s testStore) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateCustomer(ctx, domain.Customer{ID: "u1", Name: "Aigerim", Phone: "+77010000001"}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	for _, p := range []domain.Provider{
		{ID: "p1", Name: "Plumber One", Verified: true, Tier: "gold"},
		{ID: "p2", Name: "Plumber Two", Verified: false},
	} {
		if err := s.CreateProvider(ctx, p); err != nil {
			t.Fatalf("seed provider: %v", err)
		}
	}
	if err := s.CreateBooking(ctx, domain.Booking{
		ID: "b1", UserID: "u1", ServiceID: "s1", Status: domain.StatusConfirmed, Address: "Abay 10",
		AddressLat: f64(43.25), AddressLng: f64(76.92), CreatedAt: t0, UpdatedAt: t0,
	}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

// runStoreSuite exercises the store contract shared by every backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) testStore) {
	t.Run("GetBookingRoundTrip", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		b, err := s.GetBooking(context.Background(), "b1")
		if err != nil {
			t.Fatalf("GetBooking: %v", err)
		}
		if b.Status != domain.StatusConfirmed || b.ProviderID != nil || b.Address != "Abay 10" {
			t.Fatalf("unexpected booking %+v", b)
		}
		if b.AddressLat == nil || *b.AddressLat != 43.25 || !b.CreatedAt.Equal(t0) {
			t.Fatalf("coordinates or time lost: %+v", b)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var nf *apperrors.NotFoundError
		if _, err := s.GetBooking(ctx, "nope"); !errors.As(err, &nf) {
			t.Fatalf("GetBooking err=%v, want NotFoundError", err)
		}
		if _, err := s.GetProvider(ctx, "nope"); !errors.As(err, &nf) {
			t.Fatalf("GetProvider err=%v, want NotFoundError", err)
		}
		if _, _, err := s.SetProviderOnline(ctx, "nope", true); !errors.As(err, &nf) {
			t.Fatalf("SetProviderOnline err=%v, want NotFoundError", err)
		}
		if _, err := s.MarkNotificationRead(ctx, "nope", t0); !errors.As(err, &nf) {
			t.Fatalf("MarkNotificationRead err=%v, want NotFoundError", err)
		}
	})

	t.Run("ConditionalUpdate", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()
		b, _ := s.GetBooking(ctx, "b1")

		next, _ := domain.Assign(*b, "p1", t0.Add(time.Minute))
		event := domain.BookingEvent{BookingID: "b1", EventType: "PROVIDER_ASSIGNED", FromStatus: b.Status, ToStatus: next.Status, ProviderID: str("p1"), CreatedAt: t0}
		updated, err := s.UpdateBooking(ctx, next, b.Status, b.Version, event)
		if err != nil {
			t.Fatalf("UpdateBooking: %v", err)
		}
		if updated.Version != b.Version+1 || !updated.HasProvider("p1") {
			t.Fatalf("unexpected update %+v", updated)
		}

		// stale version loses
		_, err = s.UpdateBooking(ctx, next, b.Status, b.Version, event)
		var ite *apperrors.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("stale write err=%v, want InvalidTransitionError", err)
		}
		if ite.From != string(domain.StatusProviderAssigned) {
			t.Fatalf("lost race should report current status, got %q", ite.From)
		}

		events, err := s.ListBookingEvents(ctx, "b1")
		if err != nil || len(events) != 1 || events[0].ProviderID == nil || *events[0].ProviderID != "p1" {
			t.Fatalf("events=%+v err=%v", events, err)
		}
	})

	t.Run("ConcurrentConditionalUpdateHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()
		b, _ := s.GetBooking(ctx, "b1")

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next, _ := domain.Assign(*b, "p1", t0)
				_, err := s.UpdateBooking(ctx, next, b.Status, b.Version, domain.BookingEvent{
					BookingID: "b1", EventType: "PROVIDER_ASSIGNED", FromStatus: b.Status, ToStatus: next.Status, CreatedAt: t0,
				})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			var ite *apperrors.InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("loser err=%v, want InvalidTransitionError", err)
			}
		}
		if wins != 1 {
			t.Fatalf("wins=%d, want 1", wins)
		}
	})

	t.Run("ActiveBookingsByProvider", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()
		b, _ := s.GetBooking(ctx, "b1")
		next, _ := domain.Assign(*b, "p1", t0)
		if _, err := s.UpdateBooking(ctx, next, b.Status, b.Version, domain.BookingEvent{BookingID: "b1", EventType: "x", FromStatus: b.Status, ToStatus: next.Status, CreatedAt: t0}); err != nil {
			t.Fatal(err)
		}

		active, err := s.ListActiveBookingsByProvider(ctx, "p1")
		if err != nil || len(active) != 1 || active[0].ID != "b1" {
			t.Fatalf("active=%+v err=%v", active, err)
		}
		none, err := s.ListActiveBookingsByProvider(ctx, "p2")
		if err != nil || len(none) != 0 {
			t.Fatalf("p2 active=%+v err=%v", none, err)
		}
	})

	t.Run("ProviderOnlineAndLocation", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		was, p, err := s.SetProviderOnline(ctx, "p1", true)
		if err != nil || was || !p.IsOnline {
			t.Fatalf("SetProviderOnline was=%v p=%+v err=%v", was, p, err)
		}

		// location without a flag leaves is_online alone
		was, p, err = s.UpdateProviderLocation(ctx, "p1", 43.2, 76.9, t0, nil)
		if err != nil || !was || !p.IsOnline {
			t.Fatalf("UpdateProviderLocation was=%v p=%+v err=%v", was, p, err)
		}
		if p.CurrentLat == nil || *p.CurrentLat != 43.2 || p.LocationUpdatedAt == nil || !p.LocationUpdatedAt.Equal(t0) {
			t.Fatalf("location not stored: %+v", p)
		}

		was, p, err = s.UpdateProviderLocation(ctx, "p1", 43.3, 76.8, t0.Add(time.Second), boolp(false))
		if err != nil || !was || p.IsOnline {
			t.Fatalf("explicit offline was=%v p=%+v err=%v", was, p, err)
		}

		p, err = s.UpdateProviderVerification(ctx, "p2", true, nil)
		if err != nil || !p.Verified || p.Tier != "" {
			t.Fatalf("verify p=%+v err=%v", p, err)
		}
		p, err = s.UpdateProviderVerification(ctx, "p2", true, str("silver"))
		if err != nil || p.Tier != "silver" {
			t.Fatalf("tier p=%+v err=%v", p, err)
		}
	})

	t.Run("Notifications", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, id := range []string{"n1", "n2", "n3"} {
			err := s.CreateNotification(ctx, domain.Notification{
				ID: id, RecipientKind: domain.RecipientUser, RecipientID: "u1", BookingID: str("b1"),
				Message: "hello", Type: "BOOKING", Channel: domain.ChannelApp, SentAt: t0.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("CreateNotification: %v", err)
			}
		}

		list, err := s.ListNotifications(ctx, domain.RecipientUser, "u1", 2)
		if err != nil || len(list) != 2 || list[0].ID != "n3" {
			t.Fatalf("list=%+v err=%v", list, err)
		}

		n, err := s.MarkNotificationRead(ctx, "n1", t0.Add(time.Hour))
		if err != nil || n.ReadAt == nil || !n.ReadAt.Equal(t0.Add(time.Hour)) {
			t.Fatalf("read n=%+v err=%v", n, err)
		}
		n, err = s.MarkNotificationRead(ctx, "n1", t0.Add(2*time.Hour))
		if err != nil || !n.ReadAt.Equal(t0.Add(time.Hour)) {
			t.Fatalf("second read must keep first time, n=%+v err=%v", n, err)
		}
		got, err := s.GetNotification(ctx, "n1")
		if err != nil || got.ReadAt == nil || got.RecipientID != "u1" {
			t.Fatalf("GetNotification n=%+v err=%v", got, err)
		}
		var nf *apperrors.NotFoundError
		if _, err := s.GetNotification(ctx, "nope"); !errors.As(err, &nf) {
			t.Fatalf("GetNotification missing err=%v", err)
		}
	})
}
