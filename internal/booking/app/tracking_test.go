package app

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/apperrors"
)

func TestUpdateLocationBroadcastsPerActiveBooking(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.customer(t, "u2")
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusProviderAssigned)
	h.heldBooking(t, "b2", "u2", "p1", domain.StatusInProgress)
	h.heldBooking(t, "b3", "u2", "p2", domain.StatusEnRoute)
	h.booking(t, "b4", "u1", domain.StatusConfirmed)

	ack, err := h.tracker.UpdateLocation(context.Background(), LocationUpdate{ProviderID: "p1", Lat: f64(43.24), Lng: f64(76.91)})
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if ack.ActiveBookings != 2 || !ack.IsOnline {
		t.Fatalf("ack=%+v", ack)
	}

	events := h.broadcaster.named(EventProviderLocation)
	if len(events) != 2 {
		t.Fatalf("got %d location events, want 2", len(events))
	}
	rooms := map[string]bool{}
	for _, e := range events {
		rooms[e.room] = true
		var payload ProviderLocationEvent
		if err := json.Unmarshal(e.payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Lat != 43.24 || payload.Lng != 76.91 || payload.ProviderID != "p1" {
			t.Fatalf("payload=%+v", payload)
		}
	}
	if !rooms["booking:b1"] || !rooms["booking:b2"] {
		t.Fatalf("rooms=%v", rooms)
	}

	p, _ := h.store.GetProvider(context.Background(), "p1")
	if p.CurrentLat == nil || *p.CurrentLat != 43.24 {
		t.Fatalf("location not stored: %+v", p)
	}
}

func TestUpdateLocationValidation(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)

	tests := []struct {
		name string
		in   LocationUpdate
	}{
		{"missing provider", LocationUpdate{Lat: f64(1), Lng: f64(1)}},
		{"missing lat", LocationUpdate{ProviderID: "p1", Lng: f64(1)}},
		{"missing lng", LocationUpdate{ProviderID: "p1", Lat: f64(1)}},
		{"lat out of range", LocationUpdate{ProviderID: "p1", Lat: f64(91), Lng: f64(1)}},
		{"lng out of range", LocationUpdate{ProviderID: "p1", Lat: f64(1), Lng: f64(-181)}},
		{"nan", LocationUpdate{ProviderID: "p1", Lat: f64(math.NaN()), Lng: f64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.tracker.UpdateLocation(context.Background(), tt.in)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err=%v, want ValidationError", err)
			}
		})
	}
	if n := len(h.broadcaster.named(EventProviderLocation)); n != 0 {
		t.Fatalf("rejected samples broadcast %d events", n)
	}
}

func TestUpdateLocationNeverSetsOnlineImplicitly(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	ctx := context.Background()

	if _, err := h.coordinator.PauseProvider(ctx, "p1", ""); err != nil {
		t.Fatal(err)
	}
	ack, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43), Lng: f64(76)})
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if ack.IsOnline {
		t.Fatal("location update re-marked a paused provider online")
	}

	ack, err = h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43), Lng: f64(76), IsOnline: boolp(true)})
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if !ack.IsOnline {
		t.Fatal("explicit isOnline=true was ignored")
	}
}

func TestUpdateLocationOfflineTriggersCascade(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusEnRoute)

	ack, err := h.tracker.UpdateLocation(context.Background(), LocationUpdate{ProviderID: "p1", Lat: f64(43), Lng: f64(76), IsOnline: boolp(false)})
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if ack.ReleasedBookings != 1 {
		t.Fatalf("ack=%+v", ack)
	}
	if b := h.mustBooking(t, "b1"); b.ProviderID != nil || b.Status != domain.StatusPendingConfirmation {
		t.Fatalf("booking not released: %+v", b)
	}
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusEnRoute)
	ctx := context.Background()

	var ve *apperrors.ValidationError
	if _, err := h.tracker.UpdateStatus(ctx, StatusUpdate{ProviderID: "p1"}); !errors.As(err, &ve) {
		t.Fatalf("missing isOnline err=%v", err)
	}

	// already online: no transition, no cascade
	ack, err := h.tracker.UpdateStatus(ctx, StatusUpdate{ProviderID: "p1", IsOnline: boolp(true), Status: "on my way"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if ack.ReleasedBookings != 0 || ack.ActiveBookings != 1 {
		t.Fatalf("ack=%+v", ack)
	}
	events := h.broadcaster.named(EventProviderStatusUpdated)
	if len(events) != 1 || events[0].room != "booking:b1" || !strings.Contains(string(events[0].payload), "on my way") {
		t.Fatalf("status events=%+v", events)
	}

	ack, err = h.tracker.UpdateStatus(ctx, StatusUpdate{ProviderID: "p1", IsOnline: boolp(false)})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if ack.ReleasedBookings != 1 {
		t.Fatalf("offline ack=%+v", ack)
	}
	if b := h.mustBooking(t, "b1"); b.ProviderID != nil {
		t.Fatalf("booking still references offline provider: %+v", b)
	}
	if n := len(h.notifications(t, domain.RecipientUser, "u1")); n != 1 {
		t.Fatalf("user notifications=%d, want 1", n)
	}

	// a second offline report is not a transition
	ack, err = h.tracker.UpdateStatus(ctx, StatusUpdate{ProviderID: "p1", IsOnline: boolp(false)})
	if err != nil || ack.ReleasedBookings != 0 {
		t.Fatalf("repeat offline ack=%+v err=%v", ack, err)
	}
	if n := len(h.notifications(t, domain.RecipientProvider, "p1")); n != 1 {
		t.Fatalf("provider notified %d times, want 1", n)
	}
}

type recordingArchive struct{ samples []domain.LocationSample }

func (r *recordingArchive) Append(ctx context.Context, s domain.LocationSample) error {
	r.samples = append(r.samples, s)
	return nil
}

func TestArchiveIsDownsampledPerProvider(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusEnRoute)
	now := t0
	archive := &recordingArchive{}
	h.tracker.archive = archive
	h.tracker.limiter = newIntervalLimiter(3 * time.Second)
	h.tracker.now = func() time.Time { return now }
	ctx := context.Background()
	sample := LocationUpdate{ProviderID: "p1", Lat: f64(43), Lng: f64(76)}

	if _, err := h.tracker.UpdateLocation(ctx, sample); err != nil {
		t.Fatalf("first sample: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43.5), Lng: f64(76.5)}); err != nil {
		t.Fatalf("second sample inside interval: %v", err)
	}
	if _, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p2", Lat: f64(43), Lng: f64(76)}); err != nil {
		t.Fatalf("other provider: %v", err)
	}

	// every sample is stored and broadcast
	events := h.broadcaster.named(EventProviderLocation)
	if len(events) != 2 || !strings.Contains(string(events[1].payload), `"lat":43.5`) {
		t.Fatalf("location events=%+v", events)
	}
	p, err := h.store.GetProvider(ctx, "p1")
	if err != nil || *p.CurrentLat != 43.5 {
		t.Fatalf("provider=%+v err=%v", p, err)
	}
	if len(archive.samples) != 2 || archive.samples[0].ProviderID != "p1" || archive.samples[1].ProviderID != "p2" {
		t.Fatalf("archived=%+v", archive.samples)
	}

	now = now.Add(3 * time.Second)
	if _, err := h.tracker.UpdateLocation(ctx, sample); err != nil {
		t.Fatalf("sample after interval: %v", err)
	}
	if len(archive.samples) != 3 {
		t.Fatalf("archived %d samples, want 3", len(archive.samples))
	}
}

func TestOfflineSampleInsideIntervalStillCascades(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusEnRoute)
	now := t0
	archive := &recordingArchive{}
	h.tracker.archive = archive
	h.tracker.limiter = newIntervalLimiter(3 * time.Second)
	h.tracker.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43), Lng: f64(76)}); err != nil {
		t.Fatalf("first sample: %v", err)
	}
	now = now.Add(500 * time.Millisecond)
	ack, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43), Lng: f64(76), IsOnline: boolp(false)})
	if err != nil {
		t.Fatalf("offline sample: %v", err)
	}
	if ack.IsOnline || ack.ReleasedBookings != 1 {
		t.Fatalf("ack=%+v", ack)
	}
	p, err := h.store.GetProvider(ctx, "p1")
	if err != nil || p.IsOnline {
		t.Fatalf("provider still online: %+v err=%v", p, err)
	}
	if b := h.mustBooking(t, "b1"); b.ProviderID != nil || b.Status != domain.StatusPendingConfirmation {
		t.Fatalf("booking not released: %+v", b)
	}
	if len(archive.samples) != 2 || archive.samples[1].IsOnline {
		t.Fatalf("offline sample not archived: %+v", archive.samples)
	}
}

type memoryCache struct {
	samples map[string]domain.LocationSample
}

func (m *memoryCache) SetLocation(ctx context.Context, s domain.LocationSample) error {
	m.samples[s.ProviderID] = s
	return nil
}

func (m *memoryCache) GetLocation(ctx context.Context, id string) (*domain.LocationSample, error) {
	s, ok := m.samples[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type failingArchive struct{ calls int }

func (f *failingArchive) Append(ctx context.Context, s domain.LocationSample) error {
	f.calls++
	return errors.New("broker unavailable")
}

func TestTrackingInfo(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.booking(t, "b-wait", "u1", domain.StatusConfirmed)
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusEnRoute)
	cache := &memoryCache{samples: map[string]domain.LocationSample{}}
	archive := &failingArchive{}
	h.tracker.cache = cache
	h.tracker.archive = archive
	ctx := context.Background()

	info, err := h.tracker.TrackingInfo(ctx, "b-wait")
	if err != nil {
		t.Fatalf("TrackingInfo: %v", err)
	}
	if info.Provider != nil || info.ETA != nil || info.Customer == nil || info.Customer.ID != "u1" {
		t.Fatalf("unassigned info=%+v", info)
	}

	info, err = h.tracker.TrackingInfo(ctx, "b1")
	if err != nil {
		t.Fatalf("TrackingInfo: %v", err)
	}
	if info.Provider == nil || info.Provider.Location != nil || info.ETA != nil {
		t.Fatalf("no location yet, info=%+v", info)
	}

	if _, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43.2389), Lng: f64(76.8897)}); err != nil {
		t.Fatalf("UpdateLocation with failing archive: %v", err)
	}
	if archive.calls != 1 {
		t.Fatalf("archive calls=%d", archive.calls)
	}
	if _, ok := cache.samples["p1"]; !ok {
		t.Fatal("sample not cached")
	}

	info, err = h.tracker.TrackingInfo(ctx, "b1")
	if err != nil {
		t.Fatalf("TrackingInfo: %v", err)
	}
	if info.Status != domain.StatusEnRoute || info.Address != "Abay 10" || info.Provider.Name != "Dana" {
		t.Fatalf("info=%+v", info)
	}
	if info.Provider.Location == nil || info.ETA == nil || info.ETA.Minutes < 1 {
		t.Fatalf("eta missing: %+v", info)
	}

	var nf *apperrors.NotFoundError
	if _, err := h.tracker.TrackingInfo(ctx, "nope"); !errors.As(err, &nf) {
		t.Fatalf("missing booking err=%v", err)
	}
}

func TestETA(t *testing.T) {
	h := newHarness(t)
	seedDispatch(t, h)
	h.booking(t, "b-wait", "u1", domain.StatusConfirmed)
	h.heldBooking(t, "b1", "u1", "p1", domain.StatusEnRoute)
	ctx := context.Background()

	var ve *apperrors.ValidationError
	if _, err := h.tracker.ETA(ctx, "b-wait"); !errors.As(err, &ve) {
		t.Fatalf("unassigned booking err=%v", err)
	}
	if _, err := h.tracker.ETA(ctx, "b1"); !errors.As(err, &ve) {
		t.Fatalf("unknown location err=%v", err)
	}

	if _, err := h.tracker.UpdateLocation(ctx, LocationUpdate{ProviderID: "p1", Lat: f64(43.2389), Lng: f64(76.8897)}); err != nil {
		t.Fatal(err)
	}
	eta, err := h.tracker.ETA(ctx, "b1")
	if err != nil {
		t.Fatalf("ETA: %v", err)
	}
	if eta.Distance <= 0 || eta.Minutes < 1 || eta.Time == "" {
		t.Fatalf("eta=%+v", eta)
	}
}

func TestHaversineEstimator(t *testing.T) {
	from := domain.Point{Lat: 43.2567, Lng: 76.9286}
	to := domain.Point{Lat: 43.2567, Lng: 77.1286}

	slow := HaversineEstimator{SpeedKmh: 20}.Estimate(from, to)
	fast := HaversineEstimator{SpeedKmh: 80}.Estimate(from, to)
	ratio := float64(slow.Duration) / float64(fast.Duration)
	if slow.DistanceKm != fast.DistanceKm || math.Abs(ratio-4) > 1e-6 {
		t.Fatalf("slow=%+v fast=%+v", slow, fast)
	}

	fallback := HaversineEstimator{}.Estimate(from, to)
	want := HaversineEstimator{SpeedKmh: DefaultAverageSpeedKmh}.Estimate(from, to)
	if fallback != want {
		t.Fatalf("zero speed should fall back to %v km/h", DefaultAverageSpeedKmh)
	}

	same := HaversineEstimator{}.Estimate(from, from)
	if eta := newETA(t0, same); eta.Minutes != 1 || eta.Time != "1 min" {
		t.Fatalf("zero distance eta=%+v", eta)
	}
}

func TestHumanMinutes(t *testing.T) {
	tests := map[int]string{1: "1 min", 12: "12 mins", 60: "1 h", 95: "1 h 35 mins"}
	for in, want := range tests {
		if got := humanMinutes(in); got != want {
			t.Errorf("humanMinutes(%d)=%q, want %q", in, got, want)
		}
	}
}
