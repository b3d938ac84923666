package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const (
	slotColumns = `id, provider_id, service_date, start_time, end_time, duration_minutes, price,
		is_available, is_booked, booking_id, created_at, updated_at`
	bookingColumns = `id, customer_id, provider_id, slot_id, status, payment_status, total_amount,
		service_date, start_time, end_time, duration_minutes, notes, cancellation_reason,
		created_at, updated_at, cancelled_at, completed_at`
)

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.DurationMinutes,
		&s.Price,
		&s.IsAvailable,
		&s.IsBooked,
		&s.BookingID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.CustomerID,
		&b.ProviderID,
		&b.SlotID,
		&b.Status,
		&b.PaymentStatus,
		&b.TotalAmount,
		&b.ServiceDate,
		&b.StartTime,
		&b.EndTime,
		&b.DurationMinutes,
		&b.Notes,
		&b.CancellationReason,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.CancelledAt,
		&b.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Providers and customers

const (
	providerColumns = `id, name, service_type, city, area, rating, hourly_rate, is_active,
		total_bookings, created_at, updated_at`
	customerColumns = `id, name, email, phone, created_at, updated_at`
)

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.ServiceType,
		&p.City,
		&p.Area,
		&p.Rating,
		&p.HourlyRate,
		&p.IsActive,
		&p.TotalBookings,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := scanProvider(r.queryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, err
}

func (r *PgRepository) ListProviders(ctx context.Context, f ProviderFilter) ([]Provider, error) {
	f = f.Normalize()

	// Empty filters collapse to TRUE so one statement serves every combination.
	rows, err := r.query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE is_active
		  AND ($1 = '' OR service_type = $1)
		  AND ($2 = '' OR city ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR area ILIKE '%' || $3 || '%')
		  AND rating >= $4
		  AND ($5 = 0 OR hourly_rate <= $5)
		ORDER BY rating DESC, total_bookings DESC, id
		LIMIT $6
	`, f.ServiceType, escapeLike(f.City), escapeLike(f.Area), f.MinRating, f.MaxHourlyRate, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	result := []Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListServiceTypes(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, `
		SELECT DISTINCT service_type
		FROM providers
		WHERE is_active AND service_type <> ''
		ORDER BY service_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list service types: %w", err)
	}
	types, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list service types: %w", err)
	}
	return types, nil
}

func (r *PgRepository) IncrementProviderBookings(ctx context.Context, providerID uuid.UUID, at time.Time) error {
	tag, err := r.exec(ctx, `
		UPDATE providers
		SET total_bookings = total_bookings + 1,
		    updated_at = $2
		WHERE id = $1
	`, providerID, at)
	if err != nil {
		return fmt.Errorf("increment provider bookings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *PgRepository) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, err := scanCustomer(r.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrCustomerNotFound) {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, err
}

func (r *PgRepository) UpsertCustomerByEmail(ctx context.Context, c Customer) (*Customer, error) {
	stored, err := scanCustomer(r.queryRow(ctx, `
		INSERT INTO customers (id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+customerColumns,
		c.ID, c.Name, c.Email, c.Phone, c.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return stored, nil
}

// Slots

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.queryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, err
}

func (r *PgRepository) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.queryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, id))
	if err != nil && !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("get slot for update: %w", err)
	}
	return s, err
}

func (r *PgRepository) MarkSlotBooked(ctx context.Context, slotID, bookingID uuid.UUID, at time.Time) error {
	tag, err := r.exec(ctx, `
		UPDATE slots
		SET is_available = FALSE,
		    is_booked = TRUE,
		    booking_id = $2,
		    updated_at = $3
		WHERE id = $1
		  AND is_available
		  AND NOT is_booked
	`, slotID, bookingID, at)
	if err != nil {
		if isCheckViolation(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID, bookingID uuid.UUID, at time.Time) error {
	tag, err := r.exec(ctx, `
		UPDATE slots
		SET is_available = TRUE,
		    is_booked = FALSE,
		    booking_id = NULL,
		    updated_at = $3
		WHERE id = $1
		  AND booking_id = $2
	`, slotID, bookingID, at)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := r.query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND service_date = $2
		  AND is_available
		  AND NOT is_booked
		ORDER BY start_time
	`, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Bookings

func (r *PgRepository) CreateBooking(ctx context.Context, b Booking) error {
	_, err := r.exec(ctx, `
		INSERT INTO bookings (id, customer_id, provider_id, slot_id, status, payment_status, total_amount,
		                      service_date, start_time, end_time, duration_minutes, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`,
		b.ID,
		b.CustomerID,
		b.ProviderID,
		b.SlotID,
		b.Status,
		b.PaymentStatus,
		b.TotalAmount,
		b.ServiceDate,
		b.StartTime,
		b.EndTime,
		b.DurationMinutes,
		b.Notes,
		b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, err
}

func (r *PgRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if err != nil && !errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("get booking for update: %w", err)
	}
	return b, err
}

func (r *PgRepository) MarkBookingCancelled(ctx context.Context, id uuid.UUID, reason *string, at time.Time) (*Booking, error) {
	b, err := scanBooking(r.queryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    payment_status = 'refunded',
		    cancellation_reason = $2,
		    cancelled_at = $3,
		    updated_at = $3
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+bookingColumns,
		id, reason, at))
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	return b, nil
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Booking, error) {
	b, err := scanBooking(r.queryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = $4,
		    completed_at = CASE WHEN $2 = 'completed' THEN $4 ELSE completed_at END
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, to, from, at))
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	return b, nil
}

func (r *PgRepository) ListBookingsByCustomer(ctx context.Context, customerID uuid.UUID, opts ListOptions) ([]Booking, error) {
	return r.listBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE customer_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, customerID, opts.Limit, opts.Offset)
}

func (r *PgRepository) FindConfirmedThrough(ctx context.Context, date time.Time) ([]Booking, error) {
	y, m, d := date.Date()
	return r.listBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed'
		  AND service_date <= $1
		ORDER BY service_date, end_time
	`, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func (r *PgRepository) listBookings(ctx context.Context, sql string, args ...any) ([]Booking, error) {
	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	result := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.BookingID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *PgRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PgRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *PgRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
