package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stolik/internal/domain"
	"stolik/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrNoFreeTable      = errors.New("no free table")
	ErrRestaurantClosed = errors.New("restaurant closed")
)

// Allocation is the chosen table and the occupation used for the conflict window.
type Allocation struct {
	TableID    int64
	Occupation time.Duration
}

// Allocator picks the smallest free table that seats a party.
type Allocator struct {
	resolver  *AvailabilityResolver
	directory domain.Directory
	store     domain.BookingStore
	logger    *zerolog.Logger
}

func NewAllocator(resolver *AvailabilityResolver, directory domain.Directory, store domain.BookingStore, logger *zerolog.Logger) *Allocator {
	return &Allocator{resolver: resolver, directory: directory, store: store, logger: logger}
}

// FindTable returns a table for partySize at instant. Bookings with id excludeID
// are ignored, so an edited booking never conflicts with itself.
func (a *Allocator) FindTable(ctx context.Context, restaurantID int64, partySize int, instant time.Time, excludeID int64) (Allocation, error) {
	availability, profile := a.resolver.Check(ctx, restaurantID, instant)
	switch availability {
	case Unavailable:
		return Allocation{}, domain.ErrDirectoryUnavailable
	case Closed:
		return Allocation{}, ErrRestaurantClosed
	}

	occupation := profile.Occupation()
	if occupation <= 0 {
		// Нулевое окно не пересекается ни с чем, такой профиль считаем битым
		return Allocation{}, fmt.Errorf("%w: restaurant %d has no occupation time", domain.ErrDirectoryUnavailable, restaurantID)
	}

	tables, err := a.directory.GetTables(ctx, restaurantID)
	if err != nil {
		if !errors.Is(err, domain.ErrDirectoryUnavailable) {
			err = fmt.Errorf("%w: get tables: %v", domain.ErrDirectoryUnavailable, err)
		}
		return Allocation{}, err
	}
	if len(tables) == 0 {
		return Allocation{}, ErrNoFreeTable
	}

	claimed, err := a.store.ClaimedTables(ctx, restaurantID, models.NewWindow(instant, occupation), excludeID)
	if err != nil {
		return Allocation{}, fmt.Errorf("claimed tables: %w", err)
	}

	tableID, ok := smallestFit(tables, claimed, partySize)
	if !ok {
		a.logger.Debug().
			Int64("restaurant_id", restaurantID).
			Int("party_size", partySize).
			Int("claimed", len(claimed)).
			Msg("No free table")
		return Allocation{}, ErrNoFreeTable
	}
	return Allocation{TableID: tableID, Occupation: occupation}, nil
}

// smallestFit picks the unclaimed table with the least sufficient capacity,
// breaking ties by the smallest id.
func smallestFit(tables []models.Table, claimed []int64, partySize int) (int64, bool) {
	taken := make(map[int64]bool, len(claimed))
	for _, id := range claimed {
		taken[id] = true
	}

	candidates := make([]models.Table, 0, len(tables))
	for _, t := range tables {
		if t.Capacity >= partySize && !taken[t.ID] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Capacity != candidates[j].Capacity {
			return candidates[i].Capacity < candidates[j].Capacity
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID, true
}
