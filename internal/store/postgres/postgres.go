// Package postgres implements store.Store on PostgreSQL via pgx. The
// single-use invariants map to conditional UPDATEs (used = FALSE,
// refresh_valid = TRUE) so the database arbitrates concurrent exchanges;
// cascades and the audit log's SET NULL are declared as foreign keys.
package postgres

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
)

const uniqueViolation = "23505"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS clients (
	client_id     TEXT PRIMARY KEY,
	client_secret TEXT NOT NULL,
	name          TEXT NOT NULL,
	redirect_uri  TEXT NOT NULL,
	scope         TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS permissions (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL REFERENCES clients(client_id) ON DELETE CASCADE,
	model      TEXT NOT NULL,
	fields     TEXT[] NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (client_id, model)
);

CREATE TABLE IF NOT EXISTS auth_codes (
	code       TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL REFERENCES clients(client_id) ON DELETE CASCADE,
	subject    TEXT NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used       BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS token_pairs (
	id                 TEXT PRIMARY KEY,
	client_id          TEXT NOT NULL REFERENCES clients(client_id) ON DELETE CASCADE,
	subject            TEXT NOT NULL,
	scope              TEXT NOT NULL,
	access_digest      TEXT NOT NULL UNIQUE,
	refresh_digest     TEXT NOT NULL UNIQUE,
	access_expires_at  TIMESTAMPTZ NOT NULL,
	refresh_expires_at TIMESTAMPTZ NOT NULL,
	refresh_valid      BOOLEAN NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS request_logs (
	id          TEXT PRIMARY KEY,
	endpoint    TEXT NOT NULL,
	method      TEXT NOT NULL,
	params      TEXT NOT NULL,
	status_code INT NOT NULL,
	client_id   TEXT REFERENCES clients(client_id) ON DELETE SET NULL,
	remote_ip   TEXT NOT NULL,
	user_agent  TEXT NOT NULL,
	duration_ns BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
`

// tokenDigest returns the SHA-256 hex digest of a token string. Only
// digests are stored; raw token strings never reach the database.
func tokenDigest(tokenString string) string {
	h := sha256.Sum256([]byte(tokenString))

	return hex.EncodeToString(h[:])
}

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateClient persists a new client.
func (s *Store) CreateClient(ctx context.Context, client *models.Client) error {
	query := `INSERT INTO clients (client_id, client_secret, name, redirect_uri, scope, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		client.ClientID,
		client.ClientSecret,
		client.Name,
		client.RedirectURI,
		client.Scope,
		client.IsActive,
		client.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	return nil
}

// GetClient looks a client up by public id regardless of active flag.
func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	query := `SELECT client_id, client_secret, name, redirect_uri, scope, is_active, created_at
		FROM clients WHERE client_id = $1`

	var client models.Client
	err := s.pool.QueryRow(ctx, query, clientID).Scan(
		&client.ClientID,
		&client.ClientSecret,
		&client.Name,
		&client.RedirectURI,
		&client.Scope,
		&client.IsActive,
		&client.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}

	return &client, nil
}

// GetClientByCredentials matches id and secret against active clients
// only. The secret comparison happens in Go, in constant time, so the
// query itself never branches on the secret.
func (s *Store) GetClientByCredentials(ctx context.Context, clientID, secret string) (*models.Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	match := subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(secret)) == 1
	if !match || !client.IsActive {
		return nil, store.ErrNotFound
	}

	return client, nil
}

// ListClients returns all clients ordered by creation time.
func (s *Store) ListClients(ctx context.Context) ([]*models.Client, error) {
	query := `SELECT client_id, client_secret, name, redirect_uri, scope, is_active, created_at
		FROM clients ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		var client models.Client
		if err := rows.Scan(
			&client.ClientID,
			&client.ClientSecret,
			&client.Name,
			&client.RedirectURI,
			&client.Scope,
			&client.IsActive,
			&client.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}

		clients = append(clients, &client)
	}

	return clients, rows.Err()
}

// SetClientActive flips the active flag.
func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE clients SET is_active = $2 WHERE client_id = $1`, clientID, active)
	if err != nil {
		return fmt.Errorf("updating client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteClient removes the client; the schema's foreign keys cascade to
// permissions, codes, and token pairs and null out audit references.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("deleting client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// UpsertPermission creates or replaces the grant for (client, model).
func (s *Store) UpsertPermission(ctx context.Context, permission *models.Permission) error {
	query := `INSERT INTO permissions (id, client_id, model, fields, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, model)
		DO UPDATE SET id = EXCLUDED.id, fields = EXCLUDED.fields, created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, query,
		permission.ID,
		permission.ClientID,
		permission.Model,
		permission.Fields,
		permission.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting permission: %w", err)
	}

	return nil
}

// GetPermission returns the grant for (clientID, model).
func (s *Store) GetPermission(ctx context.Context, clientID, model string) (*models.Permission, error) {
	query := `SELECT id, client_id, model, fields, created_at
		FROM permissions WHERE client_id = $1 AND model = $2`

	var p models.Permission
	err := s.pool.QueryRow(ctx, query, clientID, model).Scan(
		&p.ID,
		&p.ClientID,
		&p.Model,
		&p.Fields,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting permission: %w", err)
	}

	return &p, nil
}

// ListPermissions returns every grant held by the client.
func (s *Store) ListPermissions(ctx context.Context, clientID string) ([]*models.Permission, error) {
	query := `SELECT id, client_id, model, fields, created_at
		FROM permissions WHERE client_id = $1 ORDER BY model`

	rows, err := s.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	var permissions []*models.Permission
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Model, &p.Fields, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}

		permissions = append(permissions, &p)
	}

	return permissions, rows.Err()
}

// DeletePermission removes the grant for (clientID, model).
func (s *Store) DeletePermission(ctx context.Context, clientID, model string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM permissions WHERE client_id = $1 AND model = $2`, clientID, model)
	if err != nil {
		return fmt.Errorf("deleting permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// CreateAuthCode persists a fresh code.
func (s *Store) CreateAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	query := `INSERT INTO auth_codes (code, client_id, subject, issued_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		code.Code,
		code.ClientID,
		code.Subject,
		code.IssuedAt,
		code.ExpiresAt,
		code.Used)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("creating auth code: %w", err)
	}

	return nil
}

// ConsumeAuthCode marks the code used via a conditional UPDATE; the
// WHERE clause admits exactly one winner under concurrency.
func (s *Store) ConsumeAuthCode(ctx context.Context, code, clientID string, now time.Time) (*models.AuthorizationCode, error) {
	query := `UPDATE auth_codes SET used = TRUE
		WHERE code = $1 AND client_id = $2 AND used = FALSE AND expires_at > $3
		RETURNING code, client_id, subject, issued_at, expires_at, used`

	var ac models.AuthorizationCode
	err := s.pool.QueryRow(ctx, query, code, clientID, now).Scan(
		&ac.Code,
		&ac.ClientID,
		&ac.Subject,
		&ac.IssuedAt,
		&ac.ExpiresAt,
		&ac.Used,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming auth code: %w", err)
	}

	return &ac, nil
}

// CreateTokenPair persists a freshly issued pair, storing digests in
// place of the raw token strings.
func (s *Store) CreateTokenPair(ctx context.Context, pair *models.TokenPair) error {
	query := `INSERT INTO token_pairs (id, client_id, subject, scope, access_digest, refresh_digest,
			access_expires_at, refresh_expires_at, refresh_valid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		pair.ID,
		pair.ClientID,
		pair.Subject,
		pair.Scope,
		tokenDigest(pair.AccessToken),
		tokenDigest(pair.RefreshToken),
		pair.AccessExpiresAt,
		pair.RefreshExpiresAt,
		pair.RefreshValid,
		pair.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("creating token pair: %w", err)
	}

	return nil
}

// GetTokenPairByToken finds the pair whose access or refresh token
// matches the presented string.
func (s *Store) GetTokenPairByToken(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return s.lookupPair(ctx, `access_digest = $1 OR refresh_digest = $1`, tokenString)
}

// GetTokenPairByAccessToken matches the access side only.
func (s *Store) GetTokenPairByAccessToken(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return s.lookupPair(ctx, `access_digest = $1`, tokenString)
}

// GetTokenPairByRefreshToken matches the refresh side only.
func (s *Store) GetTokenPairByRefreshToken(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return s.lookupPair(ctx, `refresh_digest = $1`, tokenString)
}

func (s *Store) lookupPair(ctx context.Context, where, tokenString string) (*models.TokenPair, error) {
	query := `SELECT id, client_id, subject, scope, access_expires_at, refresh_expires_at, refresh_valid, created_at
		FROM token_pairs WHERE ` + where

	var pair models.TokenPair
	err := s.pool.QueryRow(ctx, query, tokenDigest(tokenString)).Scan(
		&pair.ID,
		&pair.ClientID,
		&pair.Subject,
		&pair.Scope,
		&pair.AccessExpiresAt,
		&pair.RefreshExpiresAt,
		&pair.RefreshValid,
		&pair.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up token pair: %w", err)
	}

	return &pair, nil
}

// ConsumeRefresh clears refresh_valid, succeeding only if it was still
// true.
func (s *Store) ConsumeRefresh(ctx context.Context, pairID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE token_pairs SET refresh_valid = FALSE WHERE id = $1 AND refresh_valid = TRUE`, pairID)
	if err != nil {
		return fmt.Errorf("consuming refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// InvalidateRefresh clears refresh_valid unconditionally.
func (s *Store) InvalidateRefresh(ctx context.Context, pairID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE token_pairs SET refresh_valid = FALSE WHERE id = $1`, pairID)
	if err != nil {
		return fmt.Errorf("invalidating refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// AppendRequestLog appends one audit entry. Entries without a resolved
// client are stored with a NULL reference.
func (s *Store) AppendRequestLog(ctx context.Context, entry *models.RequestLogEntry) error {
	query := `INSERT INTO request_logs (id, endpoint, method, params, status_code, client_id,
			remote_ip, user_agent, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var clientID *string
	if entry.ClientID != "" {
		clientID = &entry.ClientID
	}

	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.Endpoint,
		entry.Method,
		entry.Params,
		entry.StatusCode,
		clientID,
		entry.RemoteIP,
		entry.UserAgent,
		int64(entry.Duration),
		entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending request log: %w", err)
	}

	return nil
}

// PruneExpired removes spent or expired codes and dead token pairs.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	codes, err := s.pool.Exec(ctx,
		`DELETE FROM auth_codes WHERE used = TRUE OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("pruning auth codes: %w", err)
	}

	pairs, err := s.pool.Exec(ctx,
		`DELETE FROM token_pairs
		WHERE access_expires_at <= $1 AND (refresh_valid = FALSE OR refresh_expires_at <= $1)`, now)
	if err != nil {
		return 0, fmt.Errorf("pruning token pairs: %w", err)
	}

	return int(codes.RowsAffected() + pairs.RowsAffected()), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
