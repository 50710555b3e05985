package service

import (
	"context"
	"time"

	"stolik/internal/domain"
	"stolik/internal/models"

	"github.com/rs/zerolog"
)

type Availability int

const (
	Unavailable Availability = iota
	Open
	Closed
)

func (a Availability) String() string {
	switch a {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unavailable"
	}
}

// AvailabilityResolver decides whether a restaurant accepts guests at an instant.
// Opening hours are evaluated in the restaurant's timezone, or in the default
// location when the profile has none.
type AvailabilityResolver struct {
	directory domain.Directory
	location  *time.Location
	logger    *zerolog.Logger
}

func NewAvailabilityResolver(directory domain.Directory, location *time.Location, logger *zerolog.Logger) *AvailabilityResolver {
	if location == nil {
		location = time.UTC
	}
	return &AvailabilityResolver{directory: directory, location: location, logger: logger}
}

func (r *AvailabilityResolver) IsOpen(ctx context.Context, restaurantID int64, instant time.Time) Availability {
	availability, _ := r.Check(ctx, restaurantID, instant)
	return availability
}

// Check resolves availability and also returns the profile it was computed from.
// The profile is nil when the directory could not be reached.
func (r *AvailabilityResolver) Check(ctx context.Context, restaurantID int64, instant time.Time) (Availability, *models.RestaurantProfile) {
	profile, err := r.directory.GetProfile(ctx, restaurantID)
	if err != nil {
		r.logger.Warn().Err(err).Int64("restaurant_id", restaurantID).Msg("Restaurant profile unavailable")
		return Unavailable, nil
	}
	return evaluate(profile, instant.In(profile.Location(r.location))), profile
}

func evaluate(profile *models.RestaurantProfile, local time.Time) Availability {
	if profile.ClosedOn(models.ISOWeekday(local)) {
		return Closed
	}
	minute := models.MinuteOfDay(local)
	for _, interval := range profile.Openings {
		if interval.Contains(minute) {
			return Open
		}
	}
	return Closed
}
