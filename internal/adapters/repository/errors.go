package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrUnavailable = errors.New("store unavailable")
	ErrClosed      = errors.New("store closed")
	ErrFixtures    = errors.New("invalid fixtures")
)
