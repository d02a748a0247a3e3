// Package bolt implements store.Store on an embedded bbolt database.
// Values are JSON-encoded; the single-writer transaction model is what
// makes ConsumeAuthCode and ConsumeRefresh atomic.
package bolt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
)

const (
	// dirPerm is the permission mode for the database directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for the database file.
	filePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt file lock.
	openTimeout = 5 * time.Second
)

var (
	clientsBucket      = []byte("clients")       // client_id → Client
	permissionsBucket  = []byte("permissions")   // client_id/model → Permission
	authCodesBucket    = []byte("auth_codes")    // code → AuthorizationCode
	tokenPairsBucket   = []byte("token_pairs")   // pair id → storedPair
	accessIndexBucket  = []byte("access_index")  // digest(access token) → pair id
	refreshIndexBucket = []byte("refresh_index") // digest(refresh token) → pair id
	requestLogsBucket  = []byte("request_logs")  // entry id → RequestLogEntry
)

// tokenDigest returns the SHA-256 hex digest of a token string. Used as
// the index key so raw tokens never reach disk.
func tokenDigest(tokenString string) []byte {
	h := sha256.Sum256([]byte(tokenString))
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])

	return dst
}

// storedPair is the on-disk form of a token pair: raw token strings are
// cleared and replaced by their digests, which the cascade and prune
// paths need to clean up the index buckets.
type storedPair struct {
	models.TokenPair
	AccessDigest  string `json:"access_digest"`
	RefreshDigest string `json:"refresh_digest"`
}

func permissionKey(clientID, model string) []byte {
	return []byte(clientID + "/" + model)
}

// Store implements store.Store on a bbolt file.
type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures all
// buckets exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bbolt.Open(path, filePerm, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			clientsBucket,
			permissionsBucket,
			authCodesBucket,
			tokenPairsBucket,
			accessIndexBucket,
			refreshIndexBucket,
			requestLogsBucket,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is still readable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

// CreateClient persists a new client.
func (s *Store) CreateClient(ctx context.Context, client *models.Client) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(clientsBucket)
		if b.Get([]byte(client.ClientID)) != nil {
			return store.ErrDuplicate
		}

		data, err := json.Marshal(client)
		if err != nil {
			return err
		}

		return b.Put([]byte(client.ClientID), data)
	})
}

// GetClient looks a client up by public id regardless of active flag.
func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	var client *models.Client

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(clientsBucket).Get([]byte(clientID))
		if v == nil {
			return store.ErrNotFound
		}

		client = &models.Client{}

		return json.Unmarshal(v, client)
	})
	if err != nil {
		return nil, err
	}

	return client, nil
}

// GetClientByCredentials matches id and secret against active clients
// only. The secret comparison is constant-time; every miss is the same
// ErrNotFound.
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
	var clients []*models.Client

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(clientsBucket).ForEach(func(k, v []byte) error {
			var c models.Client
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			clients = append(clients, &c)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})

	return clients, nil
}

// SetClientActive flips the active flag.
func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(clientsBucket)

		v := b.Get([]byte(clientID))
		if v == nil {
			return store.ErrNotFound
		}

		var client models.Client
		if err := json.Unmarshal(v, &client); err != nil {
			return err
		}

		client.IsActive = active

		data, err := json.Marshal(client)
		if err != nil {
			return err
		}

		return b.Put([]byte(clientID), data)
	})
}

// DeleteClient removes the client and everything hanging off it in one
// transaction. Request log rows survive with their client id cleared.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		clients := tx.Bucket(clientsBucket)
		if clients.Get([]byte(clientID)) == nil {
			return store.ErrNotFound
		}
		if err := clients.Delete([]byte(clientID)); err != nil {
			return err
		}

		if err := deletePrefix(tx.Bucket(permissionsBucket), []byte(clientID+"/")); err != nil {
			return err
		}

		codes := tx.Bucket(authCodesBucket)
		codeKeys, err := collectKeys(codes, func(v []byte) (bool, error) {
			var ac models.AuthorizationCode
			if err := json.Unmarshal(v, &ac); err != nil {
				return false, err
			}

			return ac.ClientID == clientID, nil
		})
		if err != nil {
			return err
		}
		for _, k := range codeKeys {
			if err := codes.Delete(k); err != nil {
				return err
			}
		}

		pairs := tx.Bucket(tokenPairsBucket)
		pairKeys, err := collectKeys(pairs, func(v []byte) (bool, error) {
			var sp storedPair
			if err := json.Unmarshal(v, &sp); err != nil {
				return false, err
			}

			return sp.ClientID == clientID, nil
		})
		if err != nil {
			return err
		}
		for _, k := range pairKeys {
			if err := deletePair(tx, pairs.Get(k), k); err != nil {
				return err
			}
		}

		return clearLogClient(tx.Bucket(requestLogsBucket), clientID)
	})
}

// UpsertPermission creates or replaces the grant for (client, model).
func (s *Store) UpsertPermission(ctx context.Context, permission *models.Permission) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(permission)
		if err != nil {
			return err
		}

		return tx.Bucket(permissionsBucket).Put(permissionKey(permission.ClientID, permission.Model), data)
	})
}

// GetPermission returns the grant for (clientID, model).
func (s *Store) GetPermission(ctx context.Context, clientID, model string) (*models.Permission, error) {
	var permission *models.Permission

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(permissionsBucket).Get(permissionKey(clientID, model))
		if v == nil {
			return store.ErrNotFound
		}

		permission = &models.Permission{}

		return json.Unmarshal(v, permission)
	})
	if err != nil {
		return nil, err
	}

	return permission, nil
}

// ListPermissions returns every grant held by the client, ordered by
// model name.
func (s *Store) ListPermissions(ctx context.Context, clientID string) ([]*models.Permission, error) {
	var permissions []*models.Permission

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(permissionsBucket).Cursor()
		prefix := []byte(clientID + "/")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var p models.Permission
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}

			permissions = append(permissions, &p)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return permissions, nil
}

// DeletePermission removes the grant for (clientID, model).
func (s *Store) DeletePermission(ctx context.Context, clientID, model string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(permissionsBucket)

		key := permissionKey(clientID, model)
		if b.Get(key) == nil {
			return store.ErrNotFound
		}

		return b.Delete(key)
	})
}

// CreateAuthCode persists a fresh code.
func (s *Store) CreateAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(authCodesBucket)
		if b.Get([]byte(code.Code)) != nil {
			return store.ErrDuplicate
		}

		data, err := json.Marshal(code)
		if err != nil {
			return err
		}

		return b.Put([]byte(code.Code), data)
	})
}

// ConsumeAuthCode atomically marks the code used. The read, the checks,
// and the write share one update transaction, so concurrent exchanges of
// the same code admit exactly one winner.
func (s *Store) ConsumeAuthCode(ctx context.Context, code, clientID string, now time.Time) (*models.AuthorizationCode, error) {
	var consumed *models.AuthorizationCode

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(authCodesBucket)

		v := b.Get([]byte(code))
		if v == nil {
			return store.ErrNotFound
		}

		var ac models.AuthorizationCode
		if err := json.Unmarshal(v, &ac); err != nil {
			return err
		}

		if ac.ClientID != clientID || ac.Used || ac.Expired(now) {
			return store.ErrNotFound
		}

		ac.Used = true

		data, err := json.Marshal(ac)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(code), data); err != nil {
			return err
		}

		consumed = &ac

		return nil
	})
	if err != nil {
		return nil, err
	}

	return consumed, nil
}

// CreateTokenPair persists a freshly issued pair. Raw token strings are
// replaced by digests before serialization.
func (s *Store) CreateTokenPair(ctx context.Context, pair *models.TokenPair) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		accessDigest := tokenDigest(pair.AccessToken)
		refreshDigest := tokenDigest(pair.RefreshToken)

		sp := storedPair{
			TokenPair:     *pair,
			AccessDigest:  string(accessDigest),
			RefreshDigest: string(refreshDigest),
		}
		sp.AccessToken = ""
		sp.RefreshToken = ""

		data, err := json.Marshal(sp)
		if err != nil {
			return err
		}

		if err := tx.Bucket(tokenPairsBucket).Put([]byte(pair.ID), data); err != nil {
			return err
		}
		if err := tx.Bucket(accessIndexBucket).Put(accessDigest, []byte(pair.ID)); err != nil {
			return err
		}

		return tx.Bucket(refreshIndexBucket).Put(refreshDigest, []byte(pair.ID))
	})
}

// GetTokenPairByToken finds the pair whose access or refresh token
// matches the presented string.
func (s *Store) GetTokenPairByToken(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return s.lookupPair(tokenString, accessIndexBucket, refreshIndexBucket)
}

// GetTokenPairByAccessToken matches the access side only.
func (s *Store) GetTokenPairByAccessToken(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return s.lookupPair(tokenString, accessIndexBucket)
}

// GetTokenPairByRefreshToken matches the refresh side only.
func (s *Store) GetTokenPairByRefreshToken(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return s.lookupPair(tokenString, refreshIndexBucket)
}

func (s *Store) lookupPair(tokenString string, indexes ...[]byte) (*models.TokenPair, error) {
	var pair *models.TokenPair

	digest := tokenDigest(tokenString)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var id []byte
		for _, index := range indexes {
			if id = tx.Bucket(index).Get(digest); id != nil {
				break
			}
		}
		if id == nil {
			return store.ErrNotFound
		}

		v := tx.Bucket(tokenPairsBucket).Get(id)
		if v == nil {
			return store.ErrNotFound
		}

		var sp storedPair
		if err := json.Unmarshal(v, &sp); err != nil {
			return err
		}

		pair = &sp.TokenPair

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// ConsumeRefresh clears RefreshValid, succeeding only if it was still
// true. Like ConsumeAuthCode, the condition and the write share one
// transaction.
func (s *Store) ConsumeRefresh(ctx context.Context, pairID string) error {
	return s.setRefreshValid(pairID, true)
}

// InvalidateRefresh clears RefreshValid unconditionally.
func (s *Store) InvalidateRefresh(ctx context.Context, pairID string) error {
	return s.setRefreshValid(pairID, false)
}

// setRefreshValid clears the refresh flag. When conditional is true the
// update fails with ErrNotFound unless the flag was still set.
func (s *Store) setRefreshValid(pairID string, conditional bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokenPairsBucket)

		v := b.Get([]byte(pairID))
		if v == nil {
			return store.ErrNotFound
		}

		var sp storedPair
		if err := json.Unmarshal(v, &sp); err != nil {
			return err
		}

		if conditional && !sp.RefreshValid {
			return store.ErrNotFound
		}

		sp.RefreshValid = false

		data, err := json.Marshal(sp)
		if err != nil {
			return err
		}

		return b.Put([]byte(pairID), data)
	})
}

// AppendRequestLog appends one audit entry.
func (s *Store) AppendRequestLog(ctx context.Context, entry *models.RequestLogEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return tx.Bucket(requestLogsBucket).Put([]byte(entry.ID), data)
	})
}

// PruneExpired removes spent or expired authorization codes and token
// pairs that can never authenticate anything again.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	pruned := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		codes := tx.Bucket(authCodesBucket)
		codeKeys, err := collectKeys(codes, func(v []byte) (bool, error) {
			var ac models.AuthorizationCode
			if err := json.Unmarshal(v, &ac); err != nil {
				return false, err
			}

			return ac.Used || ac.Expired(now), nil
		})
		if err != nil {
			return err
		}
		for _, k := range codeKeys {
			if err := codes.Delete(k); err != nil {
				return err
			}
			pruned++
		}

		pairs := tx.Bucket(tokenPairsBucket)
		pairKeys, err := collectKeys(pairs, func(v []byte) (bool, error) {
			var sp storedPair
			if err := json.Unmarshal(v, &sp); err != nil {
				return false, err
			}

			accessDead := !now.Before(sp.AccessExpiresAt)
			refreshDead := !sp.RefreshValid || !now.Before(sp.RefreshExpiresAt)

			return accessDead && refreshDead, nil
		})
		if err != nil {
			return err
		}
		for _, k := range pairKeys {
			if err := deletePair(tx, pairs.Get(k), k); err != nil {
				return err
			}
			pruned++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return pruned, nil
}

// deletePair removes a pair row and its index entries.
func deletePair(tx *bbolt.Tx, raw, key []byte) error {
	var sp storedPair
	if err := json.Unmarshal(raw, &sp); err != nil {
		return err
	}

	if err := tx.Bucket(accessIndexBucket).Delete([]byte(sp.AccessDigest)); err != nil {
		return err
	}
	if err := tx.Bucket(refreshIndexBucket).Delete([]byte(sp.RefreshDigest)); err != nil {
		return err
	}

	return tx.Bucket(tokenPairsBucket).Delete(key)
}

// collectKeys gathers the keys whose values satisfy match. Deletion
// happens after iteration; bbolt does not allow deleting inside ForEach.
func collectKeys(b *bbolt.Bucket, match func(v []byte) (bool, error)) ([][]byte, error) {
	var keys [][]byte

	err := b.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if err != nil {
			return err
		}
		if ok {
			keys = append(keys, append([]byte(nil), k...))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// deletePrefix removes every key under prefix.
func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	c := b.Cursor()

	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

// clearLogClient rewrites audit entries owned by clientID with the
// reference cleared, preserving the audit trail past client deletion.
func clearLogClient(b *bbolt.Bucket, clientID string) error {
	keys, err := collectKeys(b, func(v []byte) (bool, error) {
		var entry models.RequestLogEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return false, err
		}

		return entry.ClientID == clientID, nil
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		var entry models.RequestLogEntry
		if err := json.Unmarshal(b.Get(k), &entry); err != nil {
			return err
		}

		entry.ClientID = ""

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put(k, data); err != nil {
			return err
		}
	}

	return nil
}
