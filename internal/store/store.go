// Package store defines the persistence interfaces for clients,
// permissions, authorization codes, token pairs, and the request audit
// log, plus the sentinel errors implementations report. Two backends
// exist: an embedded bbolt store (default) and PostgreSQL.
//
// Single-use and single-active invariants live HERE, not in callers:
// ConsumeAuthCode and ConsumeRefresh are conditional updates that succeed
// for exactly one concurrent caller, so two racing exchange requests can
// never both be winners.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fieldgate/fieldgate/internal/models"
)

var (
	// ErrNotFound is returned when no row matches a lookup, including
	// conditional updates whose condition did not hold (code already
	// used, refresh already invalidated). Callers must not learn which.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a create collides with an existing
	// primary key or uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate key")
)

// ClientStore persists registered API clients.
type ClientStore interface {
	// CreateClient persists a new client. ErrDuplicate if the client_id
	// already exists.
	CreateClient(ctx context.Context, client *models.Client) error

	// GetClient looks a client up by public id regardless of active flag.
	GetClient(ctx context.Context, clientID string) (*models.Client, error)

	// GetClientByCredentials matches id and secret against active clients
	// only. The secret comparison is constant-time and a miss is always
	// plain ErrNotFound, whether the id was unknown, the secret wrong, or
	// the client inactive.
	GetClientByCredentials(ctx context.Context, clientID, secret string) (*models.Client, error)

	// ListClients returns all clients ordered by creation time.
	ListClients(ctx context.Context) ([]*models.Client, error)

	// SetClientActive flips the active flag.
	SetClientActive(ctx context.Context, clientID string, active bool) error

	// DeleteClient removes the client and cascades to its permissions,
	// authorization codes, and token pairs. Audit log rows survive with
	// their client reference cleared.
	DeleteClient(ctx context.Context, clientID string) error
}

// PermissionStore persists per-client field grants. A client holds at
// most one permission row per model.
type PermissionStore interface {
	// UpsertPermission creates or replaces the grant for
	// (permission.ClientID, permission.Model).
	UpsertPermission(ctx context.Context, permission *models.Permission) error

	// GetPermission returns the grant for (clientID, model).
	GetPermission(ctx context.Context, clientID, model string) (*models.Permission, error)

	// ListPermissions returns every grant held by the client.
	ListPermissions(ctx context.Context, clientID string) ([]*models.Permission, error)

	// DeletePermission removes the grant for (clientID, model).
	DeletePermission(ctx context.Context, clientID, model string) error
}

// AuthCodeStore persists single-use authorization codes.
type AuthCodeStore interface {
	// CreateAuthCode persists a fresh code. ErrDuplicate on code collision.
	CreateAuthCode(ctx context.Context, code *models.AuthorizationCode) error

	// ConsumeAuthCode atomically marks the code used and returns it, but
	// only if it belongs to clientID, is still unused, and has not expired
	// at the given instant. Every failure mode is ErrNotFound.
	ConsumeAuthCode(ctx context.Context, code, clientID string, now time.Time) (*models.AuthorizationCode, error)
}

// TokenStore persists issued token pairs. Implementations never write
// raw token strings to disk; rows are indexed by SHA-256 digest and the
// AccessToken/RefreshToken fields come back empty from lookups.
type TokenStore interface {
	// CreateTokenPair persists a freshly issued pair.
	CreateTokenPair(ctx context.Context, pair *models.TokenPair) error

	// GetTokenPairByToken finds the pair whose access OR refresh token
	// string matches exactly.
	GetTokenPairByToken(ctx context.Context, tokenString string) (*models.TokenPair, error)

	// GetTokenPairByAccessToken matches the access side only.
	GetTokenPairByAccessToken(ctx context.Context, tokenString string) (*models.TokenPair, error)

	// GetTokenPairByRefreshToken matches the refresh side only.
	GetTokenPairByRefreshToken(ctx context.Context, tokenString string) (*models.TokenPair, error)

	// ConsumeRefresh atomically clears RefreshValid, succeeding only if it
	// was still true. ErrNotFound when the pair is missing or its refresh
	// side was already spent; the loser of a concurrent rotation race gets
	// that error.
	ConsumeRefresh(ctx context.Context, pairID string) error

	// InvalidateRefresh clears RefreshValid unconditionally. ErrNotFound
	// only when the pair does not exist. Used by revocation, which is
	// idempotent.
	InvalidateRefresh(ctx context.Context, pairID string) error
}

// RequestLogStore appends audit entries. Implementations are write-only
// from the service's point of view.
type RequestLogStore interface {
	AppendRequestLog(ctx context.Context, entry *models.RequestLogEntry) error
}

// Store is the full persistence surface the server wires together.
type Store interface {
	ClientStore
	PermissionStore
	AuthCodeStore
	TokenStore
	RequestLogStore

	// PruneExpired deletes spent or expired authorization codes and token
	// pairs whose refresh side can never be used again. Returns the number
	// of rows removed.
	PruneExpired(ctx context.Context, now time.Time) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
