// Package state is the single mutation path for synchronized account state.
// Every operation runs inside a serializable transaction and announces its
// committed result through a post-commit hook carrying a freshly allocated
// per-account sequence number.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	accesskeyrepo "state-sync-plane/backend/internal/accesskey/repository"
	accountrepo "state-sync-plane/backend/internal/account/repository"
	"state-sync-plane/backend/internal/activity"
	artifactdomain "state-sync-plane/backend/internal/artifact/domain"
	artifactrepo "state-sync-plane/backend/internal/artifact/repository"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/event"
	"state-sync-plane/backend/internal/hub"
	kvrepo "state-sync-plane/backend/internal/kv/repository"
	machinedomain "state-sync-plane/backend/internal/machine/domain"
	machinerepo "state-sync-plane/backend/internal/machine/repository"
	"state-sync-plane/backend/internal/occ"
	"state-sync-plane/backend/internal/seq"
	sessiondomain "state-sync-plane/backend/internal/session/domain"
	sessionrepo "state-sync-plane/backend/internal/session/repository"
	"state-sync-plane/backend/internal/telemetry"
	"state-sync-plane/backend/internal/txn"
)

// ErrNotFound is returned when the addressed entity does not exist or is not
// owned by the caller's account. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("state: not found")

// Runner executes a unit of work transactionally. Satisfied by
// *txn.Coordinator.
type Runner interface {
	Run(ctx context.Context, fn txn.UnitOfWork) error
}

// Deps carries the service's collaborators.
type Deps struct {
	Runner     Runner
	Seq        seq.Allocator
	Router     *hub.Router
	Accounts   accountrepo.Repository
	Sessions   sessionrepo.Repository
	Machines   machinerepo.Repository
	KV         kvrepo.Repository
	Artifacts  artifactrepo.Repository
	AccessKeys accesskeyrepo.Repository

	SessionActivity *activity.Tracker
	MachineActivity *activity.Tracker
}

// Service composes the transaction coordinator, the versioned-write
// primitive, the sequence allocator and the event router.
type Service struct {
	deps Deps
	nowF func() time.Time
}

// NewService returns a Service over deps.
func NewService(deps Deps) *Service {
	return &Service{deps: deps, nowF: time.Now}
}

// emitUpdate returns a post-commit hook that allocates the next sequence
// number for the account and pushes the update. Sequence numbers are drawn
// only after commit, so gaps appear when a hook fails; clients tolerate
// non-contiguous sequences.
func (s *Service) emitUpdate(accountID string, body event.Body, filter hub.RecipientFilter, origin *hub.Connection) txn.PostCommit {
	return func(ctx context.Context) error {
		n, err := s.deps.Seq.Next(ctx, accountID)
		if err != nil {
			return fmt.Errorf("allocate seq for %s: %w", accountID, err)
		}
		s.deps.Router.EmitUpdate(ctx, accountID, event.NewUpdate(n, body, s.nowF()), filter, origin)
		return nil
	}
}

// CreateSessionParams are the caller-supplied fields of a new session.
type CreateSessionParams struct {
	Tag      string
	Metadata string
}

// CreateSession creates a session and announces it to the account's
// user-scoped connections.
func (s *Service) CreateSession(ctx context.Context, accountID string, p CreateSessionParams, origin *hub.Connection) (*sessiondomain.Session, error) {
	sess := &sessiondomain.Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Tag:       p.Tag,
		Metadata:  p.Metadata,
	}
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		if err := s.deps.Sessions.Create(ctx, q, sess); err != nil {
			return nil, err
		}
		body := event.NewSession(sess.ID, sess.Tag,
			event.VersionedString{Value: sess.Metadata, Version: 0}, s.nowF())
		return []txn.PostCommit{
			s.emitUpdate(accountID, body, hub.UserScopedOnly(), origin),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateSessionMetadata conditionally replaces a session's metadata.
func (s *Service) UpdateSessionMetadata(ctx context.Context, accountID, sessionID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	return s.updateSessionField(ctx, accountID, sessionID, expected, value, origin,
		s.deps.Sessions.CASMetadata, s.deps.Sessions.ReadMetadata,
		func(vs event.VersionedString) event.Body {
			return event.UpdateSession(sessionID, &vs, nil)
		})
}

// UpdateSessionAgentState conditionally replaces a session's agent state.
func (s *Service) UpdateSessionAgentState(ctx context.Context, accountID, sessionID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	return s.updateSessionField(ctx, accountID, sessionID, expected, value, origin,
		s.deps.Sessions.CASAgentState, s.deps.Sessions.ReadAgentState,
		func(vs event.VersionedString) event.Body {
			return event.UpdateSession(sessionID, nil, &vs)
		})
}

type casFunc func(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
type readFunc func(ctx context.Context, q db.Querier, id string) (string, int64, error)

func (s *Service) updateSessionField(ctx context.Context, accountID, sessionID string, expected int64, value string, origin *hub.Connection, cas casFunc, read readFunc, body func(event.VersionedString) event.Body) (occ.Response, error) {
	var outcome occ.Outcome[string]
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		owned, err := s.deps.Sessions.BelongsTo(ctx, q, sessionID, accountID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, ErrNotFound
		}
		outcome, err = occ.Update(ctx, occ.Accessor[string]{
			ConditionalWrite: func(ctx context.Context, expected int64, value string) (bool, error) {
				return cas(ctx, q, sessionID, expected, value)
			},
			ReadCurrent: func(ctx context.Context) (string, int64, error) {
				return read(ctx, q, sessionID)
			},
		}, expected, value)
		if err != nil || !outcome.Applied {
			return nil, err
		}
		vs := event.VersionedString{Value: value, Version: outcome.Version}
		return []txn.PostCommit{
			s.emitUpdate(accountID, body(vs), hub.AllInterestedInSession(sessionID), origin),
		}, nil
	})
	if err != nil {
		return occ.Response{}, err
	}
	return outcome.Response(), nil
}

// UpdateMachineMetadata conditionally replaces a machine's metadata. An
// expected version of occ.VersionNone creates the machine.
func (s *Service) UpdateMachineMetadata(ctx context.Context, accountID, machineID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	return s.updateMachineField(ctx, accountID, machineID, expected, value, origin,
		s.deps.Machines.CASMetadata, s.deps.Machines.ReadMetadata,
		func(vs event.VersionedString) event.Body {
			return event.UpdateMachine(machineID, &vs, nil)
		})
}

// UpdateMachineDaemonState conditionally replaces a machine's daemon state.
func (s *Service) UpdateMachineDaemonState(ctx context.Context, accountID, machineID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	return s.updateMachineField(ctx, accountID, machineID, expected, value, origin,
		s.deps.Machines.CASDaemonState, s.deps.Machines.ReadDaemonState,
		func(vs event.VersionedString) event.Body {
			return event.UpdateMachine(machineID, nil, &vs)
		})
}

type machineCASFunc func(ctx context.Context, q db.Querier, accountID, id string, expected int64, value string) (bool, error)
type machineReadFunc func(ctx context.Context, q db.Querier, accountID, id string) (string, int64, error)

func (s *Service) updateMachineField(ctx context.Context, accountID, machineID string, expected int64, value string, origin *hub.Connection, cas machineCASFunc, read machineReadFunc, body func(event.VersionedString) event.Body) (occ.Response, error) {
	var outcome occ.Outcome[string]
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		var err error
		outcome, err = occ.Update(ctx, occ.Accessor[string]{
			ConditionalWrite: func(ctx context.Context, expected int64, value string) (bool, error) {
				return cas(ctx, q, accountID, machineID, expected, value)
			},
			ReadCurrent: func(ctx context.Context) (string, int64, error) {
				return read(ctx, q, accountID, machineID)
			},
		}, expected, value)
		if err != nil || !outcome.Applied {
			return nil, err
		}
		vs := event.VersionedString{Value: value, Version: outcome.Version}
		return []txn.PostCommit{
			s.emitUpdate(accountID, body(vs), hub.MachineScopedOnly(machineID), origin),
		}, nil
	})
	if err != nil {
		return occ.Response{}, err
	}
	return outcome.Response(), nil
}

// UpdateAccountSettings conditionally replaces the account settings and
// announces the new value to every connection of the account.
func (s *Service) UpdateAccountSettings(ctx context.Context, accountID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	var outcome occ.Outcome[string]
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		var err error
		outcome, err = occ.Update(ctx, occ.Accessor[string]{
			ConditionalWrite: func(ctx context.Context, expected int64, value string) (bool, error) {
				return s.deps.Accounts.CASSettings(ctx, q, accountID, expected, value)
			},
			ReadCurrent: func(ctx context.Context) (string, int64, error) {
				return s.deps.Accounts.ReadSettings(ctx, q, accountID)
			},
		}, expected, value)
		if err != nil || !outcome.Applied {
			return nil, err
		}
		body := event.UpdateAccount(event.VersionedString{Value: value, Version: outcome.Version})
		return []txn.PostCommit{
			s.emitUpdate(accountID, body, hub.AllAuthenticated(), origin),
		}, nil
	})
	if err != nil {
		return occ.Response{}, err
	}
	return outcome.Response(), nil
}

// MutateKV conditionally writes or deletes one key. A nil value deletes; an
// expected version of occ.VersionNone creates the entry. The change is
// announced to every connection of the account.
func (s *Service) MutateKV(ctx context.Context, accountID, key string, expected int64, value *string, origin *hub.Connection) (occ.Response, error) {
	var outcome occ.Outcome[*string]
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		var err error
		outcome, err = occ.Update(ctx, occ.Accessor[*string]{
			ConditionalWrite: func(ctx context.Context, expected int64, v *string) (bool, error) {
				if v == nil {
					return s.deps.KV.CASDelete(ctx, q, accountID, key, expected)
				}
				return s.deps.KV.CASPut(ctx, q, accountID, key, expected, *v)
			},
			ReadCurrent: func(ctx context.Context) (*string, int64, error) {
				v, version, err := s.deps.KV.ReadCurrent(ctx, q, accountID, key)
				if err != nil || version == occ.VersionNone {
					return nil, version, err
				}
				return &v, version, nil
			},
		}, expected, value)
		if err != nil || !outcome.Applied {
			return nil, err
		}
		body := event.KVUpdate(key, value, outcome.Version)
		return []txn.PostCommit{
			s.emitUpdate(accountID, body, hub.AllAuthenticated(), origin),
		}, nil
	})
	if err != nil {
		return occ.Response{}, err
	}
	return outcome.Response(), nil
}

// UpdateAccessKeyPayload conditionally replaces an access key's payload.
func (s *Service) UpdateAccessKeyPayload(ctx context.Context, accountID, keyID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	var outcome occ.Outcome[string]
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		k, err := s.deps.AccessKeys.GetByID(ctx, q, keyID)
		if err != nil {
			return nil, err
		}
		if k == nil || k.AccountID != accountID {
			return nil, ErrNotFound
		}
		outcome, err = occ.Update(ctx, occ.Accessor[string]{
			ConditionalWrite: func(ctx context.Context, expected int64, value string) (bool, error) {
				return s.deps.AccessKeys.CASPayload(ctx, q, keyID, expected, value)
			},
			ReadCurrent: func(ctx context.Context) (string, int64, error) {
				return s.deps.AccessKeys.ReadPayload(ctx, q, keyID)
			},
		}, expected, value)
		if err != nil || !outcome.Applied {
			return nil, err
		}
		body := event.UpdateAccessKey(keyID, event.VersionedString{Value: value, Version: outcome.Version})
		return []txn.PostCommit{
			s.emitUpdate(accountID, body, hub.UserScopedOnly(), origin),
		}, nil
	})
	if err != nil {
		return occ.Response{}, err
	}
	return outcome.Response(), nil
}

// CreateArtifactParams are the caller-supplied fields of a new artifact.
type CreateArtifactParams struct {
	ID     string
	Header string
	Body   string
}

// CreateArtifact creates an artifact and announces it to the account's
// user-scoped connections. A zero ID gets a fresh random one.
func (s *Service) CreateArtifact(ctx context.Context, accountID string, p CreateArtifactParams, origin *hub.Connection) (*artifactdomain.Artifact, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	a := &artifactdomain.Artifact{
		ID:        p.ID,
		AccountID: accountID,
		Header:    p.Header,
		Body:      p.Body,
	}
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		if err := s.deps.Artifacts.Create(ctx, q, a); err != nil {
			return nil, err
		}
		body := event.NewArtifact(a.ID,
			event.VersionedString{Value: a.Header, Version: 0},
			event.VersionedString{Value: a.Body, Version: 0})
		return []txn.PostCommit{
			s.emitUpdate(accountID, body, hub.UserScopedOnly(), origin),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateArtifactHeader conditionally replaces an artifact's header.
func (s *Service) UpdateArtifactHeader(ctx context.Context, accountID, artifactID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	return s.updateArtifactField(ctx, accountID, artifactID, expected, value, origin,
		s.deps.Artifacts.CASHeader, s.deps.Artifacts.ReadHeader,
		func(vs event.VersionedString) event.Body {
			return event.UpdateArtifact(artifactID, &vs, nil)
		})
}

// UpdateArtifactBody conditionally replaces an artifact's body.
func (s *Service) UpdateArtifactBody(ctx context.Context, accountID, artifactID string, expected int64, value string, origin *hub.Connection) (occ.Response, error) {
	return s.updateArtifactField(ctx, accountID, artifactID, expected, value, origin,
		s.deps.Artifacts.CASBody, s.deps.Artifacts.ReadBody,
		func(vs event.VersionedString) event.Body {
			return event.UpdateArtifact(artifactID, nil, &vs)
		})
}

func (s *Service) updateArtifactField(ctx context.Context, accountID, artifactID string, expected int64, value string, origin *hub.Connection, cas casFunc, read readFunc, body func(event.VersionedString) event.Body) (occ.Response, error) {
	var outcome occ.Outcome[string]
	err := s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		owned, err := s.deps.Artifacts.BelongsTo(ctx, q, artifactID, accountID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, ErrNotFound
		}
		outcome, err = occ.Update(ctx, occ.Accessor[string]{
			ConditionalWrite: func(ctx context.Context, expected int64, value string) (bool, error) {
				return cas(ctx, q, artifactID, expected, value)
			},
			ReadCurrent: func(ctx context.Context) (string, int64, error) {
				return read(ctx, q, artifactID)
			},
		}, expected, value)
		if err != nil || !outcome.Applied {
			return nil, err
		}
		vs := event.VersionedString{Value: value, Version: outcome.Version}
		return []txn.PostCommit{
			s.emitUpdate(accountID, body(vs), hub.UserScopedOnly(), origin),
		}, nil
	})
	if err != nil {
		return occ.Response{}, err
	}
	return outcome.Response(), nil
}

// DeleteArtifact removes an artifact and announces the deletion.
func (s *Service) DeleteArtifact(ctx context.Context, accountID, artifactID string, origin *hub.Connection) error {
	return s.deps.Runner.Run(ctx, func(ctx context.Context, q db.Querier) ([]txn.PostCommit, error) {
		owned, err := s.deps.Artifacts.BelongsTo(ctx, q, artifactID, accountID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, ErrNotFound
		}
		if _, err := s.deps.Artifacts.Delete(ctx, q, artifactID); err != nil {
			return nil, err
		}
		return []txn.PostCommit{
			s.emitUpdate(accountID, event.DeleteArtifact(artifactID), hub.UserScopedOnly(), origin),
		}, nil
	})
}

// SessionHeartbeat records session liveness. It never opens a transaction:
// ownership is answered by the activity cache, the last-active write is
// coalesced, and an ephemeral activity event goes out immediately.
func (s *Service) SessionHeartbeat(ctx context.Context, accountID, sessionID string, thinking bool, origin *hub.Connection) error {
	if !s.deps.SessionActivity.IsValid(ctx, sessionID, accountID) {
		return ErrNotFound
	}
	at := s.nowF()
	s.deps.SessionActivity.QueueUpdate(sessionID, at)
	s.deps.Router.EmitEphemeral(ctx, accountID,
		event.SessionActivity(sessionID, true, thinking, at),
		hub.AllInterestedInSession(sessionID), origin)
	return nil
}

// MachineHeartbeat records machine daemon liveness.
func (s *Service) MachineHeartbeat(ctx context.Context, accountID, machineID string, origin *hub.Connection) error {
	if !s.deps.MachineActivity.IsValid(ctx, MachineKey(accountID, machineID), accountID) {
		return ErrNotFound
	}
	at := s.nowF()
	s.deps.MachineActivity.QueueUpdate(MachineKey(accountID, machineID), at)
	s.deps.Router.EmitEphemeral(ctx, accountID,
		event.MachineActivity(machineID, true, at),
		hub.AllAuthenticated(), origin)
	return nil
}

// ReportUsage forwards a session's token usage to its followers. Usage is
// ephemeral and never persisted.
func (s *Service) ReportUsage(ctx context.Context, accountID, sessionID string, promptTokens, completionTokens int64, origin *hub.Connection) error {
	if !s.deps.SessionActivity.IsValid(ctx, sessionID, accountID) {
		return ErrNotFound
	}
	s.deps.Router.EmitEphemeral(ctx, accountID,
		event.Usage(sessionID, promptTokens, completionTokens),
		hub.AllInterestedInSession(sessionID), origin)
	return nil
}

// MachineKey is the activity-cache key for a machine: machine ids are only
// unique within an account.
func MachineKey(accountID, machineID string) string {
	return accountID + "/" + machineID
}

// SplitMachineKey reverses MachineKey.
func SplitMachineKey(key string) (accountID, machineID string) {
	i := strings.IndexByte(key, '/')
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

// NewSessionTracker builds the session activity cache over the store handle.
func NewSessionTracker(cfg activity.Config, q db.Querier, sessions sessionrepo.Repository, metrics *telemetry.Metrics) *activity.Tracker {
	return activity.NewTracker("session", cfg,
		func(ctx context.Context, id, accountID string) (bool, error) {
			return sessions.BelongsTo(ctx, q, id, accountID)
		},
		func(ctx context.Context, pending map[string]time.Time) error {
			return sessions.UpdateLastActiveBatch(ctx, q, pending)
		},
		metrics)
}

// NewMachineTracker builds the machine activity cache over the store handle.
// Entries are keyed by MachineKey.
func NewMachineTracker(cfg activity.Config, q db.Querier, machines machinerepo.Repository, metrics *telemetry.Metrics) *activity.Tracker {
	return activity.NewTracker("machine", cfg,
		func(ctx context.Context, id, accountID string) (bool, error) {
			keyAccount, machineID := SplitMachineKey(id)
			if keyAccount != accountID {
				return false, nil
			}
			m, err := machines.GetByID(ctx, q, accountID, machineID)
			if err != nil {
				return false, err
			}
			return m != nil, nil
		},
		func(ctx context.Context, pending map[string]time.Time) error {
			batch := make([]machinedomain.Heartbeat, 0, len(pending))
			for key, at := range pending {
				accountID, machineID := SplitMachineKey(key)
				batch = append(batch, machinedomain.Heartbeat{AccountID: accountID, ID: machineID, At: at})
			}
			return machines.UpdateLastActiveBatch(ctx, q, batch)
		},
		metrics)
}
