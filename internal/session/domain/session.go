package domain

import "time"

// Session is one synchronized work session of an account. Metadata and
// AgentState are versioned fields mutated concurrently by UI clients and
// machine daemons.
type Session struct {
	ID                string
	AccountID         string
	Tag               string
	Metadata          string
	MetadataVersion   int64
	AgentState        string
	AgentStateVersion int64
	Active            bool
	LastActiveAt      *time.Time // nil until first heartbeat flush
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
