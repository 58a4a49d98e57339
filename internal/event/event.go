// Package event defines the wire shapes pushed to connected clients: Update
// envelopes carrying a per-account sequence number, and ephemeral events
// that are never persisted and never sequenced.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Update body kinds (the `t` discriminator).
const (
	KindNewSession      = "new-session"
	KindUpdateSession   = "update-session"
	KindUpdateMachine   = "update-machine"
	KindUpdateAccount   = "update-account"
	KindKVUpdate        = "kv-update"
	KindUpdateAccessKey = "update-access-key"
	KindNewArtifact     = "new-artifact"
	KindUpdateArtifact  = "update-artifact"
	KindDeleteArtifact  = "delete-artifact"
)

// Ephemeral event types.
const (
	EphemeralSessionActivity = "activity"
	EphemeralMachineActivity = "machine-activity"
	EphemeralUsage           = "usage"
)

// VersionedString is a versioned string value used for optimistic
// concurrency.
type VersionedString struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// Update is the persistent-intent event envelope. ID is random and used by
// clients for de-duplication; Seq is the account-scoped update sequence.
type Update struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Body      Body   `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// NewUpdate builds an envelope for body with a fresh random id and the given
// sequence number. createdAt is wall-clock milliseconds since epoch.
func NewUpdate(seq int64, body Body, at time.Time) Update {
	return Update{
		ID:        uuid.NewString(),
		Seq:       seq,
		Body:      body,
		CreatedAt: at.UnixMilli(),
	}
}

// Body is the closed set of update payloads. Every variant carries its `t`
// discriminator, set by its constructor.
type Body interface {
	UpdateKind() string
}

// NewSessionBody announces a freshly created session.
type NewSessionBody struct {
	T         string          `json:"t"`
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Metadata  VersionedString `json:"metadata"`
	CreatedAt int64           `json:"createdAt"`
}

func NewSession(id, tag string, metadata VersionedString, at time.Time) *NewSessionBody {
	return &NewSessionBody{T: KindNewSession, ID: id, Tag: tag, Metadata: metadata, CreatedAt: at.UnixMilli()}
}

func (*NewSessionBody) UpdateKind() string { return KindNewSession }

// UpdateSessionBody carries new versions of a session's mutable fields; nil
// fields were untouched.
type UpdateSessionBody struct {
	T          string           `json:"t"`
	ID         string           `json:"id"`
	Metadata   *VersionedString `json:"metadata,omitempty"`
	AgentState *VersionedString `json:"agentState,omitempty"`
}

func UpdateSession(id string, metadata, agentState *VersionedString) *UpdateSessionBody {
	return &UpdateSessionBody{T: KindUpdateSession, ID: id, Metadata: metadata, AgentState: agentState}
}

func (*UpdateSessionBody) UpdateKind() string { return KindUpdateSession }

// UpdateMachineBody carries new versions of a machine's mutable fields.
type UpdateMachineBody struct {
	T           string           `json:"t"`
	MachineID   string           `json:"machineId"`
	Metadata    *VersionedString `json:"metadata,omitempty"`
	DaemonState *VersionedString `json:"daemonState,omitempty"`
}

func UpdateMachine(machineID string, metadata, daemonState *VersionedString) *UpdateMachineBody {
	return &UpdateMachineBody{T: KindUpdateMachine, MachineID: machineID, Metadata: metadata, DaemonState: daemonState}
}

func (*UpdateMachineBody) UpdateKind() string { return KindUpdateMachine }

// UpdateAccountBody carries a new version of the account settings.
type UpdateAccountBody struct {
	T        string          `json:"t"`
	Settings VersionedString `json:"settings"`
}

func UpdateAccount(settings VersionedString) *UpdateAccountBody {
	return &UpdateAccountBody{T: KindUpdateAccount, Settings: settings}
}

func (*UpdateAccountBody) UpdateKind() string { return KindUpdateAccount }

// KVUpdateBody announces a key-value change. Value is nil for deletes.
type KVUpdateBody struct {
	T       string  `json:"t"`
	Key     string  `json:"key"`
	Value   *string `json:"value"`
	Version int64   `json:"version"`
}

func KVUpdate(key string, value *string, version int64) *KVUpdateBody {
	return &KVUpdateBody{T: KindKVUpdate, Key: key, Value: value, Version: version}
}

func (*KVUpdateBody) UpdateKind() string { return KindKVUpdate }

// UpdateAccessKeyBody carries a new version of an access key payload.
type UpdateAccessKeyBody struct {
	T       string          `json:"t"`
	ID      string          `json:"id"`
	Payload VersionedString `json:"payload"`
}

func UpdateAccessKey(id string, payload VersionedString) *UpdateAccessKeyBody {
	return &UpdateAccessKeyBody{T: KindUpdateAccessKey, ID: id, Payload: payload}
}

func (*UpdateAccessKeyBody) UpdateKind() string { return KindUpdateAccessKey }

// NewArtifactBody announces a created artifact.
type NewArtifactBody struct {
	T      string          `json:"t"`
	ID     string          `json:"id"`
	Header VersionedString `json:"header"`
	Body   VersionedString `json:"body"`
}

func NewArtifact(id string, header, body VersionedString) *NewArtifactBody {
	return &NewArtifactBody{T: KindNewArtifact, ID: id, Header: header, Body: body}
}

func (*NewArtifactBody) UpdateKind() string { return KindNewArtifact }

// UpdateArtifactBody carries new versions of an artifact's fields.
type UpdateArtifactBody struct {
	T      string           `json:"t"`
	ID     string           `json:"id"`
	Header *VersionedString `json:"header,omitempty"`
	Body   *VersionedString `json:"body,omitempty"`
}

func UpdateArtifact(id string, header, body *VersionedString) *UpdateArtifactBody {
	return &UpdateArtifactBody{T: KindUpdateArtifact, ID: id, Header: header, Body: body}
}

func (*UpdateArtifactBody) UpdateKind() string { return KindUpdateArtifact }

// DeleteArtifactBody announces an artifact deletion.
type DeleteArtifactBody struct {
	T  string `json:"t"`
	ID string `json:"id"`
}

func DeleteArtifact(id string) *DeleteArtifactBody {
	return &DeleteArtifactBody{T: KindDeleteArtifact, ID: id}
}

func (*DeleteArtifactBody) UpdateKind() string { return KindDeleteArtifact }

// Ephemeral is the closed set of transient events: no id, no seq, no
// durability. Used for presence and usage signals.
type Ephemeral interface {
	EphemeralKind() string
}

// SessionActivityBody reports session presence.
type SessionActivityBody struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Active   bool   `json:"active"`
	ActiveAt int64  `json:"activeAt"`
	Thinking bool   `json:"thinking"`
}

func SessionActivity(sessionID string, active, thinking bool, at time.Time) *SessionActivityBody {
	return &SessionActivityBody{Type: EphemeralSessionActivity, ID: sessionID, Active: active, ActiveAt: at.UnixMilli(), Thinking: thinking}
}

func (*SessionActivityBody) EphemeralKind() string { return EphemeralSessionActivity }

// MachineActivityBody reports machine daemon presence.
type MachineActivityBody struct {
	Type      string `json:"type"`
	MachineID string `json:"machineId"`
	Active    bool   `json:"active"`
	ActiveAt  int64  `json:"activeAt"`
}

func MachineActivity(machineID string, active bool, at time.Time) *MachineActivityBody {
	return &MachineActivityBody{Type: EphemeralMachineActivity, MachineID: machineID, Active: active, ActiveAt: at.UnixMilli()}
}

func (*MachineActivityBody) EphemeralKind() string { return EphemeralMachineActivity }

// UsageBody reports token usage for a session.
type UsageBody struct {
	Type             string `json:"type"`
	SessionID        string `json:"sid"`
	PromptTokens     int64  `json:"promptTokens"`
	CompletionTokens int64  `json:"completionTokens"`
}

func Usage(sessionID string, promptTokens, completionTokens int64) *UsageBody {
	return &UsageBody{Type: EphemeralUsage, SessionID: sessionID, PromptTokens: promptTokens, CompletionTokens: completionTokens}
}

func (*UsageBody) EphemeralKind() string { return EphemeralUsage }
