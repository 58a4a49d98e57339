package domain

import "time"

// Account is a synchronized user account. Settings is a versioned field;
// UpdateSeq backs the per-account event sequence.
type Account struct {
	ID              string
	Settings        string
	SettingsVersion int64
	UpdateSeq       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
