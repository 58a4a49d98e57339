// Package hub tracks live client connections per account and fans committed
// events out to the subset selected by a recipient filter.
package hub

// Scope describes which slice of the account's stream a connection wants.
type Scope int

const (
	// ScopeUser receives everything addressed to the account.
	ScopeUser Scope = iota
	// ScopeSession follows a single session.
	ScopeSession
	// ScopeMachine follows a single machine.
	ScopeMachine
)

// String returns the scope name used on the wire and in logs.
func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeSession:
		return "session"
	case ScopeMachine:
		return "machine"
	}
	return "unknown"
}

// Sink is the opaque transport handle behind a connection. Send pushes one
// already-serialized payload; it must not block on client acknowledgement.
type Sink interface {
	Send(payload []byte) error
}

// Connection is an ephemeral, in-memory record of one live client. It is
// owned by the Registry and never persisted.
type Connection struct {
	AccountID string
	Scope     Scope
	// SessionID qualifies ScopeSession connections, MachineID qualifies
	// ScopeMachine; both are empty otherwise.
	SessionID string
	MachineID string

	sink Sink
}

// NewUserConnection returns an account-wide connection.
func NewUserConnection(accountID string, sink Sink) *Connection {
	return &Connection{AccountID: accountID, Scope: ScopeUser, sink: sink}
}

// NewSessionConnection returns a connection following one session.
func NewSessionConnection(accountID, sessionID string, sink Sink) *Connection {
	return &Connection{AccountID: accountID, Scope: ScopeSession, SessionID: sessionID, sink: sink}
}

// NewMachineConnection returns a connection following one machine.
func NewMachineConnection(accountID, machineID string, sink Sink) *Connection {
	return &Connection{AccountID: accountID, Scope: ScopeMachine, MachineID: machineID, sink: sink}
}
