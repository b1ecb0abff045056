package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/apperrors"
)

// SQLiteRepo is the embedded entity store used in development and tests.
// The handle must be limited to one open connection.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(db *sql.DB) *SQLiteRepo {
	return &SQLiteRepo{db: db}
}

func (r *SQLiteRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQLite); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// deref passes nil pointers to the driver as NULL.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func scanSQLiteBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b                domain.Booking
		status           string
		created, updated int64
		completed        sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.UserID, &b.ProviderID, &b.ServiceID, &status, &b.Address,
		&b.AddressLat, &b.AddressLng, &created, &updated, &completed, &b.Version)
	if err != nil {
		return nil, err
	}
	b.Status = domain.Status(status)
	b.CreatedAt, b.UpdatedAt = fromNanos(created), fromNanos(updated)
	b.CompletedAt = fromNullNanos(completed)
	return &b, nil
}

func scanSQLiteProvider(row rowScanner) (*domain.Provider, error) {
	var (
		p       domain.Provider
		located sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Verified, &p.IsOnline, &p.CurrentLat, &p.CurrentLng,
		&located, &p.Tier, &p.Version)
	if err != nil {
		return nil, err
	}
	p.LocationUpdatedAt = fromNullNanos(located)
	return &p, nil
}

func scanSQLiteNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n             domain.Notification
		kind, channel string
		sent          int64
		read          sql.NullInt64
	)
	err := row.Scan(&n.ID, &kind, &n.RecipientID, &n.BookingID, &n.Message, &n.Type, &channel, &sent, &read)
	if err != nil {
		return nil, err
	}
	n.RecipientKind = domain.RecipientKind(kind)
	n.Channel = domain.Channel(channel)
	n.SentAt = fromNanos(sent)
	n.ReadAt = fromNullNanos(read)
	return &n, nil
}

func getSQLiteBooking(ctx context.Context, q sqlQuerier, id string) (*domain.Booking, error) {
	b, err := scanSQLiteBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("booking", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get booking", err)
	}
	return b, nil
}

func (r *SQLiteRepo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return getSQLiteBooking(ctx, r.db, id)
}

func (r *SQLiteRepo) CreateBooking(ctx context.Context, b domain.Booking) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, deref(b.ProviderID), b.ServiceID, string(b.Status), b.Address, deref(b.AddressLat), deref(b.AddressLng),
		nanos(b.CreatedAt), nanos(b.UpdatedAt), nullNanos(b.CompletedAt), b.Version)
	if err != nil {
		return fmt.Errorf("insert booking failed: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) UpdateBooking(ctx context.Context, next domain.Booking, expected domain.Status, expectedVersion int64, event domain.BookingEvent) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	updated, err := scanSQLiteBooking(tx.QueryRowContext(ctx, `
		UPDATE bookings
		SET status = ?, provider_id = ?, updated_at = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND version = ?
		RETURNING `+bookingColumns,
		string(next.Status), deref(next.ProviderID), nanos(next.UpdatedAt), nullNanos(next.CompletedAt),
		next.ID, string(expected), expectedVersion,
	))
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := getSQLiteBooking(ctx, tx, next.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, lostRace(current, next.Status)
	}
	if err != nil {
		return nil, apperrors.Internal("update booking", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO booking_events (booking_id, event_type, from_status, to_status, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.BookingID, event.EventType, string(event.FromStatus), string(event.ToStatus), deref(event.ProviderID), nanos(event.CreatedAt))
	if err != nil {
		return nil, apperrors.Internal("insert booking_event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("commit booking update", err)
	}
	return updated, nil
}

func (r *SQLiteRepo) ListActiveBookingsByProvider(ctx context.Context, providerID string) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE provider_id = ? AND status IN `+activeStatusList+`
		ORDER BY created_at, id
	`, providerID)
	if err != nil {
		return nil, apperrors.Internal("list active bookings", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanSQLiteBooking(rows)
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

func (r *SQLiteRepo) ListBookingEvents(ctx context.Context, bookingID string) ([]domain.BookingEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT booking_id, event_type, from_status, to_status, provider_id, created_at
		FROM booking_events WHERE booking_id = ? ORDER BY id
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
			created  int64
		)
		if err := rows.Scan(&e.BookingID, &e.EventType, &from, &to, &e.ProviderID, &created); err != nil {
			return nil, apperrors.Internal("scan booking event", err)
		}
		e.FromStatus, e.ToStatus = domain.Status(from), domain.Status(to)
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	p, err := scanSQLiteProvider(r.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("provider", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get provider", err)
	}
	return p, nil
}

func (r *SQLiteRepo) CreateProvider(ctx context.Context, p domain.Provider) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Phone, p.Verified, p.IsOnline, deref(p.CurrentLat), deref(p.CurrentLng),
		nullNanos(p.LocationUpdatedAt), p.Tier, p.Version)
	if err != nil {
		return fmt.Errorf("insert provider failed: %w", err)
	}
	return nil
}

// updateProviderTx reads the previous online flag and applies one UPDATE
// inside a single transaction. SQLite serializes writers, so the read and
// write cannot interleave with another writer.
func (r *SQLiteRepo) updateProviderTx(ctx context.Context, id, op, set string, args ...any) (bool, *domain.Provider, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	var was bool
	err = tx.QueryRowContext(ctx, `SELECT is_online FROM providers WHERE id = ?`, id).Scan(&was)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, apperrors.NotFound("provider", id)
	}
	if err != nil {
		return false, nil, apperrors.Internal(op, err)
	}

	p, err := scanSQLiteProvider(tx.QueryRowContext(ctx,
		`UPDATE providers SET `+set+`, version = version + 1 WHERE id = ? RETURNING `+providerColumns,
		append(args, id)...))
	if err != nil {
		return false, nil, apperrors.Internal(op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, nil, apperrors.Internal(op, err)
	}
	return was, p, nil
}

func (r *SQLiteRepo) SetProviderOnline(ctx context.Context, id string, online bool) (bool, *domain.Provider, error) {
	return r.updateProviderTx(ctx, id, "set provider online", `is_online = ?`, online)
}

func (r *SQLiteRepo) UpdateProviderLocation(ctx context.Context, id string, lat, lng float64, at time.Time, online *bool) (bool, *domain.Provider, error) {
	return r.updateProviderTx(ctx, id, "update provider location",
		`current_lat = ?, current_lng = ?, location_updated_at = ?, is_online = COALESCE(?, is_online)`,
		lat, lng, nanos(at), deref(online))
}

func (r *SQLiteRepo) UpdateProviderVerification(ctx context.Context, id string, verified bool, tier *string) (*domain.Provider, error) {
	p, err := scanSQLiteProvider(r.db.QueryRowContext(ctx, `
		UPDATE providers SET verified = ?, tier = COALESCE(?, tier), version = version + 1
		WHERE id = ?
		RETURNING `+providerColumns, verified, deref(tier), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("provider", id)
	}
	if err != nil {
		return nil, apperrors.Internal("update provider verification", err)
	}
	return p, nil
}

func (r *SQLiteRepo) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.db.QueryRowContext(ctx, `SELECT id, name, phone FROM customers WHERE id = ?`, id).Scan(&c.ID, &c.Name, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("customer", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get customer", err)
	}
	return &c, nil
}

func (r *SQLiteRepo) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO customers (id, name, phone) VALUES (?, ?, ?)`, c.ID, c.Name, c.Phone)
	if err != nil {
		return fmt.Errorf("insert customer failed: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, string(n.RecipientKind), n.RecipientID, deref(n.BookingID), n.Message, n.Type, string(n.Channel),
		nanos(n.SentAt), nullNanos(n.ReadAt))
	if err != nil {
		return apperrors.Internal("insert notification", err)
	}
	return nil
}

func (r *SQLiteRepo) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := scanSQLiteNotification(r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("notification", id)
	}
	if err != nil {
		return nil, apperrors.Internal("get notification", err)
	}
	return n, nil
}

func (r *SQLiteRepo) MarkNotificationRead(ctx context.Context, id string, at time.Time) (*domain.Notification, error) {
	n, err := scanSQLiteNotification(r.db.QueryRowContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, ?)
		WHERE id = ?
		RETURNING `+notificationColumns, nanos(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("notification", id)
	}
	if err != nil {
		return nil, apperrors.Internal("mark notification read", err)
	}
	return n, nil
}

func (r *SQLiteRepo) ListNotifications(ctx context.Context, kind domain.RecipientKind, recipientID string, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_kind = ? AND recipient_id = ?
		ORDER BY sent_at DESC, id
		LIMIT ?
	`, string(kind), recipientID, limit)
	if err != nil {
		return nil, apperrors.Internal("list notifications", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanSQLiteNotification(rows)
		if err != nil {
			return nil, apperrors.Internal("scan notification", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

var _ domain.Store = (*SQLiteRepo)(nil)
