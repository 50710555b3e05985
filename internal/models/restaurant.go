package models

import (
	"math"
	"time"
)

// OpeningInterval is a same-day opening period given in whole hours.
// CloseHour earlier than OpenHour means the interval runs past midnight.
type OpeningInterval struct {
	OpenHour  int `json:"open_hour" yaml:"open_hour"`
	CloseHour int `json:"close_hour" yaml:"close_hour"`
}

// Contains checks a minute-of-day value against the interval, both ends inclusive.
func (i OpeningInterval) Contains(minuteOfDay int) bool {
	open, closing := i.OpenHour*60, i.CloseHour*60
	if closing < open {
		return minuteOfDay >= open || minuteOfDay <= closing
	}
	return minuteOfDay >= open && minuteOfDay <= closing
}

type RestaurantProfile struct {
	ID              int64             `json:"id" yaml:"id"`
	Openings        []OpeningInterval `json:"openings" yaml:"openings"`
	ClosedWeekdays  []int             `json:"closed_weekdays" yaml:"closed_weekdays"`
	OccupationHours float64           `json:"occupation_hours" yaml:"occupation_hours"`
	Timezone        string            `json:"timezone,omitempty" yaml:"timezone"`
}

// Occupation converts OccupationHours to a duration rounded to the minute.
func (p *RestaurantProfile) Occupation() time.Duration {
	return time.Duration(math.Round(p.OccupationHours*60)) * time.Minute
}

// ClosedOn reports whether the ISO weekday (1=Monday … 7=Sunday) is a closing day.
func (p *RestaurantProfile) ClosedOn(weekday int) bool {
	for _, d := range p.ClosedWeekdays {
		if d == weekday {
			return true
		}
	}
	return false
}

// Location returns the profile timezone or fallback when it is empty or unknown.
func (p *RestaurantProfile) Location(fallback *time.Location) *time.Location {
	if p.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

type Table struct {
	ID           int64 `json:"id" yaml:"id"`
	RestaurantID int64 `json:"restaurant_id" yaml:"restaurant_id"`
	Capacity     int   `json:"capacity" yaml:"capacity"`
}

// ISOWeekday maps time.Weekday to 1=Monday … 7=Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// MinuteOfDay returns minutes since local midnight of t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
