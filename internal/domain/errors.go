package domain

import "errors"

var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrTableTaken             = errors.New("table already taken for this time")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrArrivalAlreadySet      = errors.New("arrival already marked")
	ErrDirectoryUnavailable   = errors.New("restaurant directory unavailable")
	ErrLockTimeout            = errors.New("timed out waiting for lock")
)
