package domain

import "time"

// Machine is a long-lived host record scoped to an account. Machines are
// created implicitly by the first state write that references them.
type Machine struct {
	AccountID          string     `json:"accountId"`
	ID                 string     `json:"id"`
	Metadata           string     `json:"metadata"`
	MetadataVersion    int64      `json:"metadataVersion"`
	DaemonState        string     `json:"daemonState"`
	DaemonStateVersion int64      `json:"daemonStateVersion"`
	Active             bool       `json:"active"`
	LastActiveAt       *time.Time `json:"lastActiveAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Heartbeat identifies one coalesced machine liveness observation.
type Heartbeat struct {
	AccountID string
	ID        string
	At        time.Time
}
