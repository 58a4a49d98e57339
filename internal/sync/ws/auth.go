// Package ws serves the websocket sync endpoint: handshake authentication,
// connection registration, the write pump, and routing of client heartbeat
// frames into the state service.
package ws

import (
	"context"
	"errors"
	"strings"

	accesskeyrepo "state-sync-plane/backend/internal/accesskey/repository"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/security"
)

// ErrUnauthorized is returned when neither credential form checks out.
var ErrUnauthorized = errors.New("ws: unauthorized")

// TokenVerifier validates an access JWT and returns the account id.
// Satisfied by *security.TokenProvider.
type TokenVerifier interface {
	ValidateAccess(tokenString string) (accountID string, err error)
}

// Authenticator resolves handshake credentials to an account. Browsers
// present a JWT access token; machine daemons may instead present an access
// key credential of the form "id.secret" checked against the stored bcrypt
// hash.
type Authenticator struct {
	tokens TokenVerifier
	keys   accesskeyrepo.Repository
	q      db.Querier
	hasher *security.Hasher
}

// NewAuthenticator returns an Authenticator. q is the store handle used for
// access key lookups.
func NewAuthenticator(tokens TokenVerifier, keys accesskeyrepo.Repository, q db.Querier, hasher *security.Hasher) *Authenticator {
	return &Authenticator{tokens: tokens, keys: keys, q: q, hasher: hasher}
}

// Authenticate checks token first, then key. Exactly one credential must be
// presented; all failures collapse to ErrUnauthorized so a probing client
// learns nothing about which part was wrong.
func (a *Authenticator) Authenticate(ctx context.Context, token, key string) (accountID string, err error) {
	switch {
	case token != "":
		accountID, err = a.tokens.ValidateAccess(token)
		if err != nil {
			return "", ErrUnauthorized
		}
		return accountID, nil
	case key != "":
		return a.authenticateKey(ctx, key)
	default:
		return "", ErrUnauthorized
	}
}

func (a *Authenticator) authenticateKey(ctx context.Context, key string) (string, error) {
	id, secret, ok := strings.Cut(key, ".")
	if !ok || id == "" || secret == "" {
		return "", ErrUnauthorized
	}
	k, err := a.keys.GetByID(ctx, a.q, id)
	if err != nil {
		return "", err
	}
	if k == nil {
		return "", ErrUnauthorized
	}
	if err := a.hasher.Compare(k.SecretHash, []byte(secret)); err != nil {
		return "", ErrUnauthorized
	}
	return k.AccountID, nil
}
