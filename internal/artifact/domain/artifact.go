package domain

import "time"

// Artifact is an account-scoped document with independently versioned
// header and body columns.
type Artifact struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	Header        string    `json:"header"`
	HeaderVersion int64     `json:"headerVersion"`
	Body          string    `json:"body"`
	BodyVersion   int64     `json:"bodyVersion"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
