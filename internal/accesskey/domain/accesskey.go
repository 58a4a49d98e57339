package domain

import "time"

// AccessKey is a long-lived machine credential. The secret is stored as a
// bcrypt hash and is never returned after issuance. The payload column holds
// caller-managed state attached to the key, guarded by a write version.
type AccessKey struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	Label          string    `json:"label"`
	SecretHash     string    `json:"-"`
	Payload        string    `json:"payload"`
	PayloadVersion int64     `json:"payloadVersion"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
