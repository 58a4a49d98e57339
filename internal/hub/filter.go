package hub

type filterKind int

const (
	filterAllInterestedInSession filterKind = iota
	filterUserScopedOnly
	filterMachineScopedOnly
	filterAllAuthenticated
)

// RecipientFilter selects which of an account's connections receive an
// event. The set of policies is closed:
//
//	filter                        user conn   session conn        machine conn
//	AllInterestedInSession(sid)   always      only its sid = sid  never
//	UserScopedOnly()              always      never               never
//	MachineScopedOnly(mid)        always      never               only its mid = mid
//	AllAuthenticated()            always      always              always
type RecipientFilter struct {
	kind      filterKind
	sessionID string
	machineID string
}

// AllInterestedInSession delivers to user-scoped connections and to the
// session-scoped connections following sessionID.
func AllInterestedInSession(sessionID string) RecipientFilter {
	return RecipientFilter{kind: filterAllInterestedInSession, sessionID: sessionID}
}

// UserScopedOnly delivers to user-scoped connections only.
func UserScopedOnly() RecipientFilter {
	return RecipientFilter{kind: filterUserScopedOnly}
}

// MachineScopedOnly delivers to user-scoped connections and to the
// machine-scoped connections following machineID.
func MachineScopedOnly(machineID string) RecipientFilter {
	return RecipientFilter{kind: filterMachineScopedOnly, machineID: machineID}
}

// AllAuthenticated delivers to every connection of the account.
func AllAuthenticated() RecipientFilter {
	return RecipientFilter{kind: filterAllAuthenticated}
}

// Matches reports whether c should receive an event under this filter.
func (f RecipientFilter) Matches(c *Connection) bool {
	switch c.Scope {
	case ScopeUser:
		return true
	case ScopeSession:
		switch f.kind {
		case filterAllInterestedInSession:
			return c.SessionID == f.sessionID
		case filterAllAuthenticated:
			return true
		}
		return false
	case ScopeMachine:
		switch f.kind {
		case filterMachineScopedOnly:
			return c.MachineID == f.machineID
		case filterAllAuthenticated:
			return true
		}
		return false
	}
	return false
}
