package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/booking/repo"
	"service-dispatch/internal/notification"
	"service-dispatch/internal/shared/db"
	"service-dispatch/internal/shared/util"
)

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool     { return &v }

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type event struct {
	room, name string
	payload    json.RawMessage
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingBroadcaster) Publish(ctx context.Context, room, name string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{room: room, name: name, payload: raw})
	return nil
}

func (r *recordingBroadcaster) named(name string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store       *repo.SQLiteRepo
	broadcaster *recordingBroadcaster
	gateway     *notification.Gateway
	coordinator *Coordinator
	tracker     *Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sqlDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	store := repo.NewSQLiteRepo(sqlDB)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := util.NewWithWriter(io.Discard)
	b := &recordingBroadcaster{}
	gw := notification.NewGateway(store, b, nil, time.Second, log)
	coord := NewCoordinator(store, gw, b, Channels{}, log)
	tracker := NewTracker(store, coord, b, TrackerOptions{}, log)
	return &harness{store: store, broadcaster: b, gateway: gw, coordinator: coord, tracker: tracker}
}

func (h *harness) customer(t *testing.T, id string) {
	t.Helper()
	if err := h.store.CreateCustomer(context.Background(), domain.Customer{ID: id, Name: "Customer " + id}); err != nil {
		t.Fatalf("create customer: %v", err)
	}
}

func (h *harness) provider(t *testing.T, p domain.Provider) {
	t.Helper()
	if err := h.store.CreateProvider(context.Background(), p); err != nil {
		t.Fatalf("create provider: %v", err)
	}
}

func (h *harness) booking(t *testing.T, id, userID string, status domain.Status) {
	t.Helper()
	h.heldBooking(t, id, userID, "", status)
}

// heldBooking creates a booking that already references providerID.
func (h *harness) heldBooking(t *testing.T, id, userID, providerID string, status domain.Status) {
	t.Helper()
	b := domain.Booking{
		ID: id, UserID: userID, ServiceID: "cleaning", Status: status, Address: "Abay 10",
		AddressLat: f64(43.2567), AddressLng: f64(76.9286), CreatedAt: t0, UpdatedAt: t0,
	}
	if providerID != "" {
		b.ProviderID = &providerID
	}
	if status == domain.StatusCompleted {
		b.CompletedAt = &t0
	}
	err := h.store.CreateBooking(context.Background(), b)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
}

func (h *harness) mustBooking(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := h.store.GetBooking(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBooking(%s): %v", id, err)
	}
	return b
}

func (h *harness) notifications(t *testing.T, kind domain.RecipientKind, id string) []domain.Notification {
	t.Helper()
	list, err := h.store.ListNotifications(context.Background(), kind, id, 100)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	return list
}
