package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/internal/token"
)

const (
	// authCodeBytes is the number of random bytes in an authorization
	// code (hex-encoded to twice this length).
	authCodeBytes = 16

	// jtiBytes sizes the per-token uniqueness id.
	jtiBytes = 16
)

// IssuerConfig carries the token and code lifetimes. There are no
// package-level TTL constants; lifetimes come from configuration.
type IssuerConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	CodeTTL    time.Duration
}

// Issuer mints, rotates, and revokes token pairs, and manages the
// single-use authorization codes of the consent flow.
type Issuer struct {
	cfg    IssuerConfig
	codes  store.AuthCodeStore
	tokens store.TokenStore
	logger *slog.Logger
	now    func() time.Time
}

func NewIssuer(cfg IssuerConfig, codes store.AuthCodeStore, tokens store.TokenStore, logger *slog.Logger) *Issuer {
	return &Issuer{cfg: cfg, codes: codes, tokens: tokens, logger: logger, now: time.Now}
}

// CreateCode mints a single-use authorization code for the client. The
// subject recorded on the code is the client's registered name.
func (i *Issuer) CreateCode(ctx context.Context, client *models.Client) (*models.AuthorizationCode, error) {
	now := i.now().UTC()
	code := &models.AuthorizationCode{
		Code:      token.RandomHex(authCodeBytes),
		ClientID:  client.ClientID,
		Subject:   client.Name,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.cfg.CodeTTL),
	}
	if err := i.codes.CreateAuthCode(ctx, code); err != nil {
		return nil, fmt.Errorf("persisting authorization code: %w", err)
	}

	i.logger.Info("authorization code issued", slog.String("client_id", client.ClientID))
	return code, nil
}

// ConsumeCode burns the code for this client. store.ErrNotFound covers
// every miss the same way: unknown code, wrong client, already used,
// or expired.
func (i *Issuer) ConsumeCode(ctx context.Context, client *models.Client, code string) (*models.AuthorizationCode, error) {
	return i.codes.ConsumeAuthCode(ctx, code, client.ClientID, i.now().UTC())
}

// LookupRefresh finds the pair owning the presented refresh token.
func (i *Issuer) LookupRefresh(ctx context.Context, tokenString string) (*models.TokenPair, error) {
	return i.tokens.GetTokenPairByRefreshToken(ctx, tokenString)
}

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// Issue builds and persists a fresh token pair for (client, subject,
// scope). Both token strings are signed with the client's secret and
// carry a fresh jti each.
func (i *Issuer) Issue(ctx context.Context, client *models.Client, subject, scope string) (*models.TokenPair, error) {
	now := i.now().UTC()
	accessExp := now.Add(i.cfg.AccessTTL)
	refreshExp := now.Add(i.cfg.RefreshTTL)

	access, err := token.Generate(token.Claims{
		ClientID: client.ClientID,
		Subject:  subject,
		Scope:    scope,
		Exp:      accessExp.Unix(),
		Jti:      token.RandomHex(jtiBytes),
		Iat:      now.Unix(),
	}, client.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refresh, err := token.Generate(token.Claims{
		ClientID: client.ClientID,
		Subject:  subject,
		Scope:    scope,
		Exp:      refreshExp.Unix(),
		Jti:      token.RandomHex(jtiBytes),
		Iat:      now.Unix(),
	}, client.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	pair := &models.TokenPair{
		ID:               uuid.NewString(),
		ClientID:         client.ClientID,
		Subject:          subject,
		Scope:            scope,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshValid:     true,
		CreatedAt:        now,
	}
	if err := i.tokens.CreateTokenPair(ctx, pair); err != nil {
		return nil, fmt.Errorf("persisting token pair: %w", err)
	}

	i.logger.Info("token pair issued",
		slog.String("client_id", client.ClientID),
		slog.String("pair_id", pair.ID))
	return pair, nil
}

// Rotate spends the old pair's refresh side and issues a replacement
// with the same client, subject, and scope. The conditional update in
// the store decides races: of two concurrent rotations of one pair,
// exactly one gets a new pair and the other gets store.ErrNotFound.
// The old access token stays valid until its own expiry.
func (i *Issuer) Rotate(ctx context.Context, client *models.Client, old *models.TokenPair) (*models.TokenPair, error) {
	if err := i.tokens.ConsumeRefresh(ctx, old.ID); err != nil {
		return nil, fmt.Errorf("spending refresh token: %w", err)
	}

	pair, err := i.Issue(ctx, client, old.Subject, old.Scope)
	if err != nil {
		return nil, err
	}

	i.logger.Info("refresh token rotated",
		slog.String("client_id", client.ClientID),
		slog.String("old_pair_id", old.ID),
		slog.String("pair_id", pair.ID))
	return pair, nil
}

// Revoke clears the refresh validity of the pair owning the presented
// access token and reports whether such a pair existed. The access
// token itself stays usable until its expiry; only the refresh side
// dies here.
func (i *Issuer) Revoke(ctx context.Context, accessToken string) (bool, error) {
	pair, err := i.tokens.GetTokenPairByAccessToken(ctx, accessToken)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := i.tokens.InvalidateRefresh(ctx, pair.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	i.logger.Info("token pair revoked",
		slog.String("client_id", pair.ClientID),
		slog.String("pair_id", pair.ID))
	return true, nil
}

// ValidateAccess reports whether a presented access token carries a
// valid signature for the secret and an unexpired exp claim.
func (i *Issuer) ValidateAccess(tokenString, clientSecret string) bool {
	return i.signedAndUnexpired(tokenString, clientSecret)
}

// ValidateRefresh reports whether a presented refresh token can still
// be rotated: the pair's refresh side unspent, the signature valid,
// and the embedded expiry in the future.
func (i *Issuer) ValidateRefresh(pair *models.TokenPair, tokenString, clientSecret string) bool {
	if !pair.RefreshValid {
		return false
	}

	return i.signedAndUnexpired(tokenString, clientSecret)
}

func (i *Issuer) signedAndUnexpired(tokenString, clientSecret string) bool {
	if !token.Verify(tokenString, clientSecret) {
		return false
	}
	claims, err := token.Decode(tokenString)
	if err != nil {
		return false
	}

	return !claims.Expired(i.now())
}
