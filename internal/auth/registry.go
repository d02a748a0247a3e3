// Package auth implements the OAuth-style flow: client registration,
// the browser consent exchange, authorization-code and refresh-token
// grants, revocation, and the bearer middleware guarding the record API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/internal/token"
)

const (
	// clientIDBytes is the number of random bytes in a client id
	// (hex-encoded to twice this length).
	clientIDBytes = 16

	// clientSecretBytes is the number of random bytes in a client
	// secret. 32 bytes keeps the signing key at 256 bits.
	clientSecretBytes = 32
)

var (
	// ErrMissingFields is returned by Register when the name or redirect
	// URI is empty.
	ErrMissingFields = errors.New("missing required fields")

	// ErrInvalidRedirectURI is returned by Register when the redirect URI
	// is not an absolute http or https URL.
	ErrInvalidRedirectURI = errors.New("invalid redirect_uri")
)

// Registry manages client identities: registration with generated
// credentials, and credential checks for the token endpoint.
type Registry struct {
	clients store.ClientStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewRegistry(clients store.ClientStore, logger *slog.Logger) *Registry {
	return &Registry{clients: clients, logger: logger, now: time.Now}
}

// Register creates a client with freshly generated credentials. New
// clients start with read scope and the active flag set. The secret is
// returned once here and never logged.
func (r *Registry) Register(ctx context.Context, name, redirectURI string) (*models.Client, error) {
	name = strings.TrimSpace(name)
	redirectURI = strings.TrimSpace(redirectURI)
	if name == "" || redirectURI == "" {
		return nil, ErrMissingFields
	}
	if !validRedirectURI(redirectURI) {
		return nil, ErrInvalidRedirectURI
	}

	client := &models.Client{
		ClientID:     token.RandomHex(clientIDBytes),
		ClientSecret: token.RandomHex(clientSecretBytes),
		Name:         name,
		RedirectURI:  redirectURI,
		Scope:        models.ScopeRead,
		IsActive:     true,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.clients.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("persisting client: %w", err)
	}

	r.logger.Info("client registered",
		slog.String("client_id", client.ClientID),
		slog.String("name", client.Name))
	return client, nil
}

// Authenticate resolves a client by id and secret. Unknown id, wrong
// secret, and inactive client all surface as the same store.ErrNotFound.
func (r *Registry) Authenticate(ctx context.Context, clientID, clientSecret string) (*models.Client, error) {
	return r.clients.GetClientByCredentials(ctx, clientID, clientSecret)
}

// Lookup fetches a client by public id regardless of its active flag.
func (r *Registry) Lookup(ctx context.Context, clientID string) (*models.Client, error) {
	return r.clients.GetClient(ctx, clientID)
}

func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
