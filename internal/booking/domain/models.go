package domain

import "time"

type Status string

const (
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusConfirmed           Status = "CONFIRMED"
	StatusProviderAssigned    Status = "PROVIDER_ASSIGNED"
	StatusEnRoute             Status = "EN_ROUTE"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusCompleted           Status = "COMPLETED"
	StatusCanceled            Status = "CANCELED"
	StatusDisputed            Status = "DISPUTED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPendingConfirmation,
	StatusConfirmed,
	StatusProviderAssigned,
	StatusEnRoute,
	StatusInProgress,
	StatusCompleted,
	StatusCanceled,
	StatusDisputed,
}

// ActiveStatuses are the statuses in which a booking holds a provider.
var ActiveStatuses = []Status{StatusProviderAssigned, StatusEnRoute, StatusInProgress}

type Booking struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ProviderID  *string    `json:"providerId"`
	ServiceID   string     `json:"serviceId"`
	Status      Status     `json:"status"`
	Address     string     `json:"address"`
	AddressLat  *float64   `json:"addressLat,omitempty"`
	AddressLng  *float64   `json:"addressLng,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Version     int64      `json:"version"`
}

// Destination returns the booking address coordinates when known.
func (b Booking) Destination() (Point, bool) {
	if b.AddressLat == nil || b.AddressLng == nil {
		return Point{}, false
	}
	return Point{Lat: *b.AddressLat, Lng: *b.AddressLng}, true
}

func (b Booking) HasProvider(providerID string) bool {
	return b.ProviderID != nil && *b.ProviderID == providerID
}

type Provider struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Phone             string     `json:"phone"`
	Verified          bool       `json:"verified"`
	IsOnline          bool       `json:"isOnline"`
	CurrentLat        *float64   `json:"currentLat"`
	CurrentLng        *float64   `json:"currentLng"`
	LocationUpdatedAt *time.Time `json:"locationUpdatedAt"`
	Tier              string     `json:"tier"`
	Version           int64      `json:"version"`
}

func (p Provider) Location() (Point, bool) {
	if p.CurrentLat == nil || p.CurrentLng == nil {
		return Point{}, false
	}
	return Point{Lat: *p.CurrentLat, Lng: *p.CurrentLng}, true
}

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type RecipientKind string

const (
	RecipientUser     RecipientKind = "user"
	RecipientProvider RecipientKind = "provider"
)

// Channel is where a notification is delivered besides the in-app record.
type Channel string

const (
	ChannelApp      Channel = "app"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

type Notification struct {
	ID            string        `json:"id"`
	RecipientKind RecipientKind `json:"recipientKind"`
	RecipientID   string        `json:"recipientId"`
	BookingID     *string       `json:"bookingId"`
	Message       string        `json:"message"`
	Type          string        `json:"type"`
	Channel       Channel       `json:"channel"`
	SentAt        time.Time     `json:"sentAt"`
	ReadAt        *time.Time    `json:"readAt"`
}

type LocationSample struct {
	ProviderID string    `json:"providerId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Timestamp  time.Time `json:"timestamp"`
	IsOnline   bool      `json:"isOnline"`
}

// BookingEvent is one audit row written alongside every booking write.
type BookingEvent struct {
	BookingID  string    `json:"bookingId"`
	EventType  string    `json:"eventType"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	ProviderID *string   `json:"providerId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Room names for the event broadcaster.
func BookingRoom(bookingID string) string   { return "booking:" + bookingID }
func UserRoom(userID string) string         { return "user:" + userID }
func ProviderRoom(providerID string) string { return "provider:" + providerID }
