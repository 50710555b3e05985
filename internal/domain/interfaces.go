package domain

import (
	"context"
	"time"

	"stolik/internal/models"
)

// BookingStore is the persistence contract of the booking engine.
// CreateBookingWithLock and UpdateBookingWithLock repeat the table conflict
// check inside the write transaction and return ErrTableTaken on a lost race.
type BookingStore interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	QueryBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	ClaimedTables(ctx context.Context, restaurantID int64, window models.Window, excludeID int64) ([]int64, error)
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, occupation time.Duration) error
	UpdateBookingWithLock(ctx context.Context, booking *models.Booking, occupation time.Duration) error
	SetArrival(ctx context.Context, id int64, at time.Time) error
	DeleteBookingWithVersion(ctx context.Context, id, version int64) error
	Ping(ctx context.Context) error
}

// Directory provides read-only restaurant data owned by another service.
type Directory interface {
	GetProfile(ctx context.Context, restaurantID int64) (*models.RestaurantProfile, error)
	GetTables(ctx context.Context, restaurantID int64) ([]models.Table, error)
}

// Locker serializes work per key. The returned release func is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
