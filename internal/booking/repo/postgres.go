package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/apperrors"
)

const (
	bookingColumns = `id, user_id, provider_id, service_id, status, address, address_lat, address_lng,
		created_at, updated_at, completed_at, version`
	providerColumns = `id, name, phone, verified, is_online, current_lat, current_lng,
		location_updated_at, tier, version`
	notificationColumns = `id, recipient_kind, recipient_id, booking_id, message, type, channel, sent_at, read_at`
)

// PostgresRepo is the primary entity store.
type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaPostgres); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.ProviderID, &b.ServiceID, &status, &b.Address,
		&b.AddressLat, &b.AddressLng, &b.CreatedAt, &b.UpdatedAt, &b.CompletedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	b.Status = domain.Status(status)
	return &b, nil
}

func scanPgProvider(row rowScanner) (*domain.Provider, error) {
	var p domain.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Verified, &p.IsOnline, &p.CurrentLat, &p.CurrentLng,
		&p.LocationUpdatedAt, &p.Tier, &p.Version)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPgNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n             domain.Notification
		kind, channel string
	)
	err := row.Scan(&n.ID, &kind, &n.RecipientID, &n.BookingID, &n.Message, &n.Type, &channel, &n.SentAt, &n.ReadAt)
	if err != nil {
		return nil, err
	}
	n.RecipientKind = domain.RecipientKind(kind)
	n.Channel = domain.Channel(channel)
	return &n, nil
}

func getPgBooking(ctx context.Context, q pgQuerier, id string) (*domain.Booking, error) {
	b, err := scanPgBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("booking", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get booking", err)
	}
	return b, nil
}

func (r *PostgresRepo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return getPgBooking(ctx, r.db, id)
}

func (r *PostgresRepo) CreateBooking(ctx context.Context, b domain.Booking) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.UserID, b.ProviderID, b.ServiceID, string(b.Status), b.Address, b.AddressLat, b.AddressLng,
		b.CreatedAt, b.UpdatedAt, b.CompletedAt, b.Version)
	if err != nil {
		return fmt.Errorf("insert booking failed: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpdateBooking(ctx context.Context, next domain.Booking, expected domain.Status, expectedVersion int64, event domain.BookingEvent) (*domain.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	updated, err := scanPgBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $1, provider_id = $2, updated_at = $3, completed_at = $4, version = version + 1
		WHERE id = $5 AND status = $6 AND version = $7
		RETURNING `+bookingColumns,
		string(next.Status), next.ProviderID, next.UpdatedAt, next.CompletedAt,
		next.ID, string(expected), expectedVersion,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := getPgBooking(ctx, tx, next.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, lostRace(current, next.Status)
	}
	if err != nil {
		return nil, apperrors.Internal("update booking", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_events (booking_id, event_type, from_status, to_status, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.BookingID, event.EventType, string(event.FromStatus), string(event.ToStatus), event.ProviderID, event.CreatedAt)
	if err != nil {
		return nil, apperrors.Internal("insert booking_event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Internal("commit booking update", err)
	}
	return updated, nil
}

func (r *PostgresRepo) ListActiveBookingsByProvider(ctx context.Context, providerID string) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE provider_id = $1 AND status IN `+activeStatusList+`
		ORDER BY created_at, id
	`, providerID)
	if err != nil {
		return nil, apperrors.Internal("list active bookings", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanPgBooking(rows)
		if err != nil {
			return nil, apperrors.Internal("scan booking", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("list active bookings", err)
	}
	return out, nil
}

func (r *PostgresRepo) ListBookingEvents(ctx context.Context, bookingID string) ([]domain.BookingEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT booking_id, event_type, from_status, to_status, provider_id, created_at
		FROM booking_events WHERE booking_id = $1 ORDER BY id
	`, bookingID)
	if err != nil {
		return nil, apperrors.Internal("list booking events", err)
	}
	defer rows.Close()

	var out []domain.BookingEvent
	for rows.Next() {
		var (
			e        domain.BookingEvent
			from, to string
		)
		if err := rows.Scan(&e.BookingID, &e.EventType, &from, &to, &e.ProviderID, &e.CreatedAt); err != nil {
			return nil, apperrors.Internal("scan booking event", err)
		}
		e.FromStatus, e.ToStatus = domain.Status(from), domain.Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func getPgProvider(ctx context.Context, q pgQuerier, id string) (*domain.Provider, error) {
	p, err := scanPgProvider(q.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("provider", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get provider", err)
	}
	return p, nil
}

func (r *PostgresRepo) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	return getPgProvider(ctx, r.db, id)
}

func (r *PostgresRepo) CreateProvider(ctx context.Context, p domain.Provider) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.Name, p.Phone, p.Verified, p.IsOnline, p.CurrentLat, p.CurrentLng, p.LocationUpdatedAt, p.Tier, p.Version)
	if err != nil {
		return fmt.Errorf("insert provider failed: %w", err)
	}
	return nil
}

// lockProviderOnline reads the online flag under a row lock.
func lockProviderOnline(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	var online bool
	err := tx.QueryRow(ctx, `SELECT is_online FROM providers WHERE id = $1 FOR UPDATE`, id).Scan(&online)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperrors.NotFound("provider", id)
	}
	if err != nil {
		return false, apperrors.Internal("lock provider", err)
	}
	return online, nil
}

func (r *PostgresRepo) SetProviderOnline(ctx context.Context, id string, online bool) (bool, *domain.Provider, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	was, err := lockProviderOnline(ctx, tx, id)
	if err != nil {
		return false, nil, err
	}
	p, err := scanPgProvider(tx.QueryRow(ctx, `
		UPDATE providers SET is_online = $2, version = version + 1
		WHERE id = $1
		RETURNING `+providerColumns, id, online))
	if err != nil {
		return false, nil, apperrors.Internal("set provider online", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, apperrors.Internal("commit provider online", err)
	}
	return was, p, nil
}

func (r *PostgresRepo) UpdateProviderVerification(ctx context.Context, id string, verified bool, tier *string) (*domain.Provider, error) {
	p, err := scanPgProvider(r.db.QueryRow(ctx, `
		UPDATE providers SET verified = $2, tier = COALESCE($3, tier), version = version + 1
		WHERE id = $1
		RETURNING `+providerColumns, id, verified, tier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("provider", id)
	}
	if err != nil {
		return nil, apperrors.Internal("update provider verification", err)
	}
	return p, nil
}

func (r *PostgresRepo) UpdateProviderLocation(ctx context.Context, id string, lat, lng float64, at time.Time, online *bool) (bool, *domain.Provider, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	was, err := lockProviderOnline(ctx, tx, id)
	if err != nil {
		return false, nil, err
	}
	p, err := scanPgProvider(tx.QueryRow(ctx, `
		UPDATE providers
		SET current_lat = $2, current_lng = $3, location_updated_at = $4,
		    is_online = COALESCE($5, is_online), version = version + 1
		WHERE id = $1
		RETURNING `+providerColumns, id, lat, lng, at, online))
	if err != nil {
		return false, nil, apperrors.Internal("update provider location", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, apperrors.Internal("commit provider location", err)
	}
	return was, p, nil
}

func (r *PostgresRepo) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.db.QueryRow(ctx, `SELECT id, name, phone FROM customers WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("customer", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get customer", err)
	}
	return &c, nil
}

func (r *PostgresRepo) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := r.db.Exec(ctx, `INSERT INTO customers (id, name, phone) VALUES ($1, $2, $3)`, c.ID, c.Name, c.Phone)
	if err != nil {
		return fmt.Errorf("insert customer failed: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, string(n.RecipientKind), n.RecipientID, n.BookingID, n.Message, n.Type, string(n.Channel), n.SentAt, n.ReadAt)
	if err != nil {
		return apperrors.Internal("insert notification", err)
	}
	return nil
}

func (r *PostgresRepo) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := scanPgNotification(r.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("notification", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get notification", err)
	}
	return n, nil
}

// MarkNotificationRead keeps the first read time on repeated calls.
func (r *PostgresRepo) MarkNotificationRead(ctx context.Context, id string, at time.Time) (*domain.Notification, error) {
	n, err := scanPgNotification(r.db.QueryRow(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING `+notificationColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("notification", id)
	}
	if err != nil {
		return nil, apperrors.Internal("mark notification read", err)
	}
	return n, nil
}

func (r *PostgresRepo) ListNotifications(ctx context.Context, kind domain.RecipientKind, recipientID string, limit int) ([]domain.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_kind = $1 AND recipient_id = $2
		ORDER BY sent_at DESC, id
		LIMIT $3
	`, string(kind), recipientID, limit)
	if err != nil {
		return nil, apperrors.Internal("list notifications", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanPgNotification(rows)
		if err != nil {
			return nil, apperrors.Internal("scan notification", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func lostRace(current *domain.Booking, to domain.Status) error {
	return &apperrors.InvalidTransitionError{
		From:   string(current.Status),
		To:     string(to),
		Reason: "booking was modified concurrently",
	}
}

var _ domain.Store = (*PostgresRepo)(nil)
