package domain

import "time"

// Entry is one account-scoped key/value pair with a write version.
type Entry struct {
	AccountID string    `json:"accountId"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
