package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stolik/internal/domain"
	"stolik/internal/models"
)

const bookingColumns = `id, user_id, restaurant_id, table_id, party_size,
                 booking_at, arrival_at, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                               models.Booking
		bookingAt, createdAt, updatedAt int64
		arrivalAt                       sql.NullInt64
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.RestaurantID, &b.TableID, &b.PartySize,
		&bookingAt, &arrivalAt, &createdAt, &updatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.BookingAt = fromUnix(bookingAt)
	b.CreatedAt = fromUnix(createdAt)
	b.UpdatedAt = fromUnix(updatedAt)
	if arrivalAt.Valid {
		at := fromUnix(arrivalAt.Int64)
		b.ArrivalAt = &at
	}
	return &b, nil
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// QueryBookings returns bookings matching every set field of the filter,
// ordered by booking instant and id. Range bounds are inclusive.
func (db *DB) QueryBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.RestaurantID != nil {
		where = append(where, "restaurant_id = ?")
		args = append(args, *filter.RestaurantID)
	}
	if filter.TableID != nil {
		where = append(where, "table_id = ?")
		args = append(args, *filter.TableID)
	}
	if filter.BookingFrom != nil {
		where = append(where, "booking_at >= ?")
		args = append(args, toUnix(*filter.BookingFrom))
	}
	if filter.BookingTo != nil {
		where = append(where, "booking_at <= ?")
		args = append(args, toUnix(*filter.BookingTo))
	}
	if filter.ArrivalFrom != nil {
		where = append(where, "arrival_at >= ?")
		args = append(args, toUnix(*filter.ArrivalFrom))
	}
	if filter.ArrivalTo != nil {
		where = append(where, "arrival_at <= ?")
		args = append(args, toUnix(*filter.ArrivalTo))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY booking_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// ClaimedTables returns ids of tables held by bookings of the restaurant whose
// instant lies strictly inside the window. excludeID of 0 excludes nothing.
func (db *DB) ClaimedTables(ctx context.Context, restaurantID int64, window models.Window, excludeID int64) ([]int64, error) {
	query := `SELECT DISTINCT table_id FROM bookings
              WHERE restaurant_id = ? AND booking_at > ? AND booking_at < ? AND id != ?
              ORDER BY table_id`
	rows, err := db.QueryContext(ctx, query, restaurantID, toUnix(window.From), toUnix(window.To), excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get claimed tables: %w", err)
	}
	defer rows.Close()

	var tables []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan table id: %w", err)
		}
		tables = append(tables, id)
	}
	return tables, rows.Err()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func tableTaken(ctx context.Context, q queryRower, booking *models.Booking, occupation time.Duration) (bool, error) {
	window := models.NewWindow(booking.BookingAt, occupation)
	var count int
	query := `SELECT COUNT(*) FROM bookings
              WHERE restaurant_id = ? AND table_id = ? AND booking_at > ? AND booking_at < ? AND id != ?`
	err := q.QueryRowContext(ctx, query, booking.RestaurantID, booking.TableID,
		toUnix(window.From), toUnix(window.To), booking.ID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateBookingWithLock inserts the booking unless another booking claims the
// same table inside the conflict window.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking, occupation time.Duration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Check the table inside transaction
	taken, err := tableTaken(ctx, tx, booking, occupation)
	if err != nil {
		return fmt.Errorf("failed to check table in tx: %w", err)
	}
	if taken {
		return domain.ErrTableTaken
	}

	// 2. Create booking
	queryInsert := `INSERT INTO bookings (
				user_id, restaurant_id, table_id, party_size,
				booking_at, arrival_at, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, NULL, ?, ?, 1)`
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, queryInsert,
		booking.UserID,
		booking.RestaurantID,
		booking.TableID,
		booking.PartySize,
		toUnix(booking.BookingAt),
		toUnix(now),
		toUnix(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.ArrivalAt = nil
	booking.CreatedAt = fromUnix(toUnix(now))
	booking.UpdatedAt = booking.CreatedAt
	booking.Version = 1
	return nil
}

// UpdateBookingWithLock stores new party size, instant and table of a booking
// that has not been checked in. The write is conditional on booking.Version.
func (db *DB) UpdateBookingWithLock(ctx context.Context, booking *models.Booking, occupation time.Duration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	taken, err := tableTaken(ctx, tx, booking, occupation)
	if err != nil {
		return fmt.Errorf("failed to check table in tx: %w", err)
	}
	if taken {
		return domain.ErrTableTaken
	}

	now := time.Now().UTC()
	query := `UPDATE bookings
              SET party_size = ?, booking_at = ?, table_id = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ? AND arrival_at IS NULL`
	result, err := tx.ExecContext(ctx, query,
		booking.PartySize, toUnix(booking.BookingAt), booking.TableID, toUnix(now),
		booking.ID, booking.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking in tx: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking update: %w", err)
	}

	booking.Version++
	booking.UpdatedAt = fromUnix(toUnix(now))
	return nil
}

// SetArrival marks the check-in time once. A second call fails with ErrArrivalAlreadySet.
func (db *DB) SetArrival(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE bookings SET arrival_at = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND arrival_at IS NULL`
	result, err := db.ExecContext(ctx, query, toUnix(at), toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set arrival: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	if _, err := db.GetBooking(ctx, id); err != nil {
		return err
	}
	return domain.ErrArrivalAlreadySet
}

func (db *DB) DeleteBookingWithVersion(ctx context.Context, id, version int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}
