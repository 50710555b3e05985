package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stolik/internal/domain"
	"stolik/internal/events"
	"stolik/internal/metrics"
	"stolik/internal/models"

	"github.com/rs/zerolog"
)

// TableFinder is the allocation step of create and edit.
type TableFinder interface {
	FindTable(ctx context.Context, restaurantID int64, partySize int, instant time.Time, excludeID int64) (Allocation, error)
}

type CreateBookingInput struct {
	UserID          int64  `json:"user_id"`
	RestaurantID    int64  `json:"restaurant_id"`
	PartySize       int    `json:"number_of_people"`
	BookingDatetime string `json:"booking_datetime"`
}

// EditBookingInput carries the fields to change; nil means keep.
type EditBookingInput struct {
	PartySize       *int    `json:"number_of_people"`
	BookingDatetime *string `json:"booking_datetime"`
}

type BookingService struct {
	store    domain.BookingStore
	tables   TableFinder
	locker   domain.Locker
	eventBus domain.EventPublisher
	location *time.Location
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
}

type Option func(*BookingService)

// WithLocker serializes create and edit per restaurant.
func WithLocker(locker domain.Locker, ttl, wait time.Duration) Option {
	return func(s *BookingService) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

func WithEventPublisher(publisher domain.EventPublisher) Option {
	return func(s *BookingService) {
		s.eventBus = publisher
	}
}

// WithLocation sets where zone-less datetimes are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(s *BookingService) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(store domain.BookingStore, tables TableFinder, logger *zerolog.Logger, opts ...Option) *BookingService {
	s := &BookingService{
		store:    store,
		tables:   tables,
		location: time.UTC,
		lockTTL:  models.DefaultLockTTL * time.Second,
		lockWait: models.DefaultLockWait * time.Second,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (booking *models.Booking, err error) {
	defer func() { recordOutcome("create", err) }()

	if in.UserID <= 0 {
		return nil, validationError("user_id", "must be a positive id")
	}
	if in.RestaurantID <= 0 {
		return nil, validationError("restaurant_id", "must be a positive id")
	}
	if in.PartySize < 1 {
		return nil, validationError("number_of_people", "must be at least 1")
	}
	instant, err := s.futureInstant(in.BookingDatetime)
	if err != nil {
		return nil, err
	}

	release, err := s.lockRestaurant(ctx, in.RestaurantID)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		alloc, err := s.tables.FindTable(ctx, in.RestaurantID, in.PartySize, instant, 0)
		if err != nil {
			return nil, allocationError(err)
		}

		booking = &models.Booking{
			UserID:       in.UserID,
			RestaurantID: in.RestaurantID,
			TableID:      alloc.TableID,
			PartySize:    in.PartySize,
			BookingAt:    instant,
		}
		err = s.store.CreateBookingWithLock(ctx, booking, alloc.Occupation)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrTableTaken) {
			return nil, storeError(err)
		}
		if attempt > 0 {
			return nil, newError(KindConflict, "table was taken concurrently", err)
		}
		s.logger.Info().Int64("restaurant_id", in.RestaurantID).Int64("table_id", alloc.TableID).Msg("Table taken concurrently, retrying allocation")
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("restaurant_id", booking.RestaurantID).
		Int64("table_id", booking.TableID).
		Int("party_size", booking.PartySize).
		Time("booking_at", booking.BookingAt).
		Msg("Booking created")
	s.publishEvent(models.EventBookingCreated, booking)
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return booking, nil
}

func (s *BookingService) QueryBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if filter.BookingFrom != nil && filter.BookingTo != nil && filter.BookingFrom.After(*filter.BookingTo) {
		return nil, validationError("begin", "must not be after end")
	}
	if filter.ArrivalFrom != nil && filter.ArrivalTo != nil && filter.ArrivalFrom.After(*filter.ArrivalTo) {
		return nil, validationError("arrival_begin", "must not be after arrival_end")
	}

	bookings, err := s.store.QueryBookings(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return bookings, nil
}

// EditBooking changes party size and/or instant, re-allocating the table.
func (s *BookingService) EditBooking(ctx context.Context, id int64, in EditBookingInput) (booking *models.Booking, err error) {
	defer func() { recordOutcome("edit", err) }()

	current, err := s.mutableBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	partySize := current.PartySize
	if in.PartySize != nil {
		if *in.PartySize < 1 {
			return nil, validationError("number_of_people", "must be at least 1")
		}
		partySize = *in.PartySize
	}
	instant := current.BookingAt
	if in.BookingDatetime != nil {
		if instant, err = s.futureInstant(*in.BookingDatetime); err != nil {
			return nil, err
		}
	}
	if partySize == current.PartySize && instant.Equal(current.BookingAt) {
		return nil, newError(KindNoOp, "no changes were requested", nil)
	}

	release, err := s.lockRestaurant(ctx, current.RestaurantID)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if current, err = s.mutableBooking(ctx, id); err != nil {
				return nil, err
			}
		}

		alloc, err := s.tables.FindTable(ctx, current.RestaurantID, partySize, instant, current.ID)
		if err != nil {
			return nil, allocationError(err)
		}

		updated := *current
		updated.PartySize = partySize
		updated.BookingAt = instant
		updated.TableID = alloc.TableID

		err = s.store.UpdateBookingWithLock(ctx, &updated, alloc.Occupation)
		if err == nil {
			booking = &updated
			break
		}
		if !errors.Is(err, domain.ErrTableTaken) && !errors.Is(err, domain.ErrConcurrentModification) {
			return nil, storeError(err)
		}
		if attempt > 0 {
			return nil, newError(KindConflict, "booking changed concurrently", err)
		}
		s.logger.Info().Err(err).Int64("booking_id", id).Msg("Edit lost a race, retrying")
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("table_id", booking.TableID).
		Int("party_size", booking.PartySize).
		Time("booking_at", booking.BookingAt).
		Msg("Booking updated")
	s.publishEvent(models.EventBookingUpdated, booking)
	return booking, nil
}

// MarkArrival records the check-in time. It succeeds once per booking.
func (s *BookingService) MarkArrival(ctx context.Context, id int64) (booking *models.Booking, err error) {
	defer func() { recordOutcome("arrival", err) }()

	booking, err = s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if booking.Arrived() {
		return nil, newError(KindImmutable, "arrival already marked", nil)
	}

	at := s.now()
	if err := s.store.SetArrival(ctx, id, at); err != nil {
		if errors.Is(err, domain.ErrArrivalAlreadySet) {
			return nil, newError(KindImmutable, "arrival already marked", err)
		}
		return nil, storeError(err)
	}
	booking.ArrivalAt = &at
	booking.Version++

	s.logger.Info().Int64("booking_id", id).Time("arrival_at", at).Msg("Arrival marked")
	s.publishEvent(models.EventBookingArrivalMarked, booking)
	return booking, nil
}

// DeleteBooking removes a booking that is still upcoming and not checked in.
func (s *BookingService) DeleteBooking(ctx context.Context, id int64) (err error) {
	defer func() { recordOutcome("delete", err) }()

	for attempt := 0; ; attempt++ {
		booking, err := s.mutableBooking(ctx, id)
		if err != nil {
			return err
		}

		err = s.store.DeleteBookingWithVersion(ctx, id, booking.Version)
		if err == nil {
			s.logger.Info().Int64("booking_id", id).Msg("Booking deleted")
			s.publishEvent(models.EventBookingDeleted, booking)
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return storeError(err)
		}
		if attempt > 0 {
			return newError(KindConflict, "booking changed concurrently", err)
		}
	}
}

// mutableBooking loads a booking that may still be edited or deleted.
func (s *BookingService) mutableBooking(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if booking.Arrived() {
		return nil, newError(KindImmutable, "checked-in bookings cannot be changed", nil)
	}
	if booking.Started(s.now()) {
		return nil, newError(KindImmutable, "past bookings cannot be changed", nil)
	}
	return booking, nil
}

func (s *BookingService) futureInstant(value string) (time.Time, error) {
	instant, err := models.ParseInstant(value, s.location)
	if err != nil {
		return time.Time{}, validationError("booking_datetime", "%v", err)
	}
	if !instant.After(s.now()) {
		return time.Time{}, validationError("booking_datetime", "must be in the future")
	}
	return instant, nil
}

func (s *BookingService) lockRestaurant(ctx context.Context, restaurantID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := s.locker.Lock(lockCtx, fmt.Sprintf("restaurant:%d", restaurantID), s.lockTTL)
	if err != nil {
		s.logger.Warn().Err(err).Int64("restaurant_id", restaurantID).Msg("Failed to lock restaurant")
		return nil, newError(KindUpstream, "restaurant is busy, try again", err)
	}
	return release, nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.PublishJSON(eventType, events.NewBookingPayload(booking)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func allocationError(err error) error {
	switch {
	case errors.Is(err, ErrRestaurantClosed):
		return newError(KindConflict, "restaurant is closed at the requested time", err)
	case errors.Is(err, ErrNoFreeTable):
		return newError(KindConflict, "no table available for the requested time", err)
	case errors.Is(err, domain.ErrDirectoryUnavailable):
		return newError(KindUpstream, "restaurant directory unavailable, try again", err)
	default:
		return storeError(err)
	}
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrBookingNotFound) {
		return newError(KindNotFound, "booking not found", err)
	}
	return newError(KindStoreFailure, "booking store failure", err)
}

func recordOutcome(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.IncBooking(operation, outcome)
}
