package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"stolik/internal/database"
	"stolik/internal/directory"
	"stolik/internal/domain"
	"stolik/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupAllocatorDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// allDayRestaurant is open 0-23 except on Sundays with a two hour occupation.
func allDayRestaurant(id int64, tables ...models.Table) (models.RestaurantProfile, []models.Table) {
	for i := range tables {
		tables[i].RestaurantID = id
	}
	return models.RestaurantProfile{
		ID:              id,
		Openings:        []models.OpeningInterval{{OpenHour: 0, CloseHour: 23}},
		ClosedWeekdays:  []int{7},
		OccupationHours: 2,
	}, tables
}

func newTestAllocator(dir domain.Directory, store domain.BookingStore) *Allocator {
	logger := zerolog.Nop()
	return NewAllocator(NewAvailabilityResolver(dir, time.UTC, &logger), dir, store, &logger)
}

func TestAllocator_FixtureSizes(t *testing.T) {
	db := setupAllocatorDB(t)
	allocator := newTestAllocator(loadFixtureDirectory(t), db)
	ctx := context.Background()
	at := time.Date(2020, 11, 17, 11, 30, 0, 0, time.UTC)

	cases := []struct {
		party int
		table int64
	}{
		{party: 1, table: 6},
		{party: 2, table: 6},
		{party: 3, table: 5},
		{party: 4, table: 5},
		{party: 5, table: 4},
	}
	for _, tc := range cases {
		alloc, err := allocator.FindTable(ctx, 3, tc.party, at, 0)
		require.NoError(t, err, tc.party)
		assert.Equal(t, tc.table, alloc.TableID, tc.party)
		assert.Equal(t, time.Hour, alloc.Occupation)
	}

	_, err := allocator.FindTable(ctx, 3, 6, at, 0)
	assert.ErrorIs(t, err, ErrNoFreeTable)
}

func TestAllocator_Scenarios(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2030, 1, 1, 20, 0, 0, 0, time.UTC) // Tuesday

	newEnv := func(t *testing.T) (*database.DB, *Allocator) {
		db := setupAllocatorDB(t)
		dir := directory.NewStatic(directory.Fixtures{})
		dir.Put(allDayRestaurant(1,
			models.Table{ID: 1, Capacity: 2},
			models.Table{ID: 2, Capacity: 4},
			models.Table{ID: 3, Capacity: 4},
		))
		return db, newTestAllocator(dir, db)
	}
	book := func(t *testing.T, db *database.DB, tableID int64, when time.Time) *models.Booking {
		b := &models.Booking{UserID: 1, RestaurantID: 1, TableID: tableID, PartySize: 3, BookingAt: when}
		require.NoError(t, db.CreateBookingWithLock(ctx, b, 2*time.Hour))
		return b
	}

	t.Run("SmallestFitThenNext", func(t *testing.T) {
		db, allocator := newEnv(t)

		alloc, err := allocator.FindTable(ctx, 1, 3, at, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), alloc.TableID)
		book(t, db, alloc.TableID, at)

		alloc, err = allocator.FindTable(ctx, 1, 3, at.Add(time.Hour), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), alloc.TableID)
		book(t, db, alloc.TableID, at.Add(time.Hour))

		_, err = allocator.FindTable(ctx, 1, 3, at.Add(90*time.Minute), 0)
		assert.ErrorIs(t, err, ErrNoFreeTable)

		// The two-seat table is still free for a couple
		alloc, err = allocator.FindTable(ctx, 1, 2, at.Add(90*time.Minute), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), alloc.TableID)
	})

	t.Run("WindowEdgesDoNotConflict", func(t *testing.T) {
		db, allocator := newEnv(t)
		book(t, db, 2, at)

		for _, when := range []time.Time{at.Add(2 * time.Hour), at.Add(-2 * time.Hour)} {
			alloc, err := allocator.FindTable(ctx, 1, 3, when, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(2), alloc.TableID, when)
		}

		alloc, err := allocator.FindTable(ctx, 1, 3, at.Add(2*time.Hour-time.Minute), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), alloc.TableID)
	})

	t.Run("ExcludesOwnBooking", func(t *testing.T) {
		db, allocator := newEnv(t)
		mine := book(t, db, 2, at)
		book(t, db, 3, at)

		_, err := allocator.FindTable(ctx, 1, 3, at.Add(time.Hour), 0)
		assert.ErrorIs(t, err, ErrNoFreeTable)

		alloc, err := allocator.FindTable(ctx, 1, 3, at.Add(time.Hour), mine.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), alloc.TableID)
	})

	t.Run("ClosedWeekday", func(t *testing.T) {
		_, allocator := newEnv(t)
		sunday := at.AddDate(0, 0, 5)
		_, err := allocator.FindTable(ctx, 1, 2, sunday, 0)
		assert.ErrorIs(t, err, ErrRestaurantClosed)
	})

	t.Run("OutsideOpeningHours", func(t *testing.T) {
		_, allocator := newEnv(t)
		_, err := allocator.FindTable(ctx, 1, 2, time.Date(2030, 1, 1, 23, 30, 0, 0, time.UTC), 0)
		assert.ErrorIs(t, err, ErrRestaurantClosed)
	})

	t.Run("TooLargeParty", func(t *testing.T) {
		_, allocator := newEnv(t)
		_, err := allocator.FindTable(ctx, 1, 5, at, 0)
		assert.ErrorIs(t, err, ErrNoFreeTable)
	})
}

func TestAllocator_TieBreakByID(t *testing.T) {
	db := setupAllocatorDB(t)
	dir := directory.NewStatic(directory.Fixtures{})
	dir.Put(allDayRestaurant(1,
		models.Table{ID: 9, Capacity: 4},
		models.Table{ID: 4, Capacity: 4},
		models.Table{ID: 7, Capacity: 6},
	))
	allocator := newTestAllocator(dir, db)

	alloc, err := allocator.FindTable(context.Background(), 1, 3, time.Date(2030, 1, 1, 20, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), alloc.TableID)
}

func TestAllocator_Failures(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2030, 1, 1, 20, 0, 0, 0, time.UTC)

	t.Run("UnknownRestaurant", func(t *testing.T) {
		allocator := newTestAllocator(directory.NewStatic(directory.Fixtures{}), setupAllocatorDB(t))
		_, err := allocator.FindTable(ctx, 42, 2, at, 0)
		assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
	})

	t.Run("NoTables", func(t *testing.T) {
		dir := directory.NewStatic(directory.Fixtures{})
		dir.Put(allDayRestaurant(1))
		allocator := newTestAllocator(dir, setupAllocatorDB(t))
		_, err := allocator.FindTable(ctx, 1, 2, at, 0)
		assert.ErrorIs(t, err, ErrNoFreeTable)
	})

	t.Run("NoOccupationTime", func(t *testing.T) {
		dir := directory.NewStatic(directory.Fixtures{})
		profile, tables := allDayRestaurant(1, models.Table{ID: 1, Capacity: 6})
		profile.OccupationHours = 0
		dir.Put(profile, tables)
		store := new(mockStore)

		_, err := newTestAllocator(dir, store).FindTable(ctx, 1, 2, at, 0)
		assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
		store.AssertNotCalled(t, "ClaimedTables", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		dir := directory.NewStatic(directory.Fixtures{})
		dir.Put(allDayRestaurant(1, models.Table{ID: 1, Capacity: 2}))
		store := new(mockStore)
		store.On("ClaimedTables", ctx, int64(1), models.NewWindow(at, 2*time.Hour), int64(0)).
			Return([]int64(nil), errors.New("disk I/O error")).Once()

		_, err := newTestAllocator(dir, store).FindTable(ctx, 1, 2, at, 0)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoFreeTable)
		assert.NotErrorIs(t, err, domain.ErrDirectoryUnavailable)
		store.AssertExpectations(t)
	})
}
