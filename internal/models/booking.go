package models

import (
	"fmt"
	"time"
)

type Booking struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	RestaurantID int64      `json:"restaurant_id"`
	TableID      int64      `json:"table_id"`
	PartySize    int        `json:"number_of_people"`
	BookingAt    time.Time  `json:"booking_datetime"`
	ArrivalAt    *time.Time `json:"entrance_datetime"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// State returns the derived lifecycle state of the booking.
func (b *Booking) State() string {
	if b.ArrivalAt != nil {
		return StateArrived
	}
	return StateConfirmed
}

// Arrived reports whether the guests have already been checked in.
func (b *Booking) Arrived() bool {
	return b.ArrivalAt != nil
}

// Started reports whether the booked instant is not in the future anymore.
func (b *Booking) Started(now time.Time) bool {
	return !b.BookingAt.After(now)
}

func (b *Booking) URL() string {
	return fmt.Sprintf("/bookings/%d", b.ID)
}

// BookingFilter описывает условия выборки бронирований. Пустые поля не участвуют в фильтре.
type BookingFilter struct {
	UserID       *int64
	RestaurantID *int64
	TableID      *int64
	BookingFrom  *time.Time
	BookingTo    *time.Time
	ArrivalFrom  *time.Time
	ArrivalTo    *time.Time
}

// Window is the conflict window around a requested booking instant.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow builds the symmetric window [at-occupation, at+occupation].
func NewWindow(at time.Time, occupation time.Duration) Window {
	return Window{From: at.Add(-occupation), To: at.Add(occupation)}
}

// Contains reports whether t lies strictly inside the window.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.From) && t.Before(w.To)
}
