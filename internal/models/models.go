// Package models defines the entities shared across internal packages.
package models

import "time"

// Scope is the coarse permission tier fixed per client at registration.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// ValidScope reports whether s is one of the three known scope levels.
func ValidScope(s string) bool {
	return s == ScopeRead || s == ScopeWrite || s == ScopeAdmin
}

// Client is a registered API consumer. ClientID and ClientSecret are
// generated once at creation and never change; the secret doubles as the
// HMAC key for every token issued to the client, so it is stored raw and
// must never be written to logs.
type Client struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Name         string    `json:"name"`
	RedirectURI  string    `json:"redirect_uri"`
	Scope        string    `json:"scope"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Permission grants a client access to a set of fields on one model.
// A client has at most one Permission per model.
type Permission struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Model     string    `json:"model"`
	Fields    []string  `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
}

// AllowsField reports whether the permission's field set names field.
func (p *Permission) AllowsField(field string) bool {
	for _, f := range p.Fields {
		if f == field {
			return true
		}
	}

	return false
}

// AuthorizationCode is a short-lived, single-use credential binding a
// client to a pending grant. It transitions issued → used exactly once;
// expiry is checked lazily at consumption time.
type AuthorizationCode struct {
	Code      string    `json:"code"`
	ClientID  string    `json:"client_id"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// Expired reports whether the code is past its expiry at the given instant.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenPair is one issued access/refresh token pair. Pairs are never
// mutated after creation except for RefreshValid, which is cleared on
// rotation or revocation. Rotation produces a brand-new pair; the old
// access token stays usable until its own expiry.
type TokenPair struct {
	ID               string    `json:"id"`
	ClientID         string    `json:"client_id"`
	Subject          string    `json:"subject"`
	Scope            string    `json:"scope"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	RefreshValid     bool      `json:"refresh_valid"`
	CreatedAt        time.Time `json:"created_at"`
}

// RequestLogEntry is one append-only audit record per API call. Entries
// are written best-effort by the request log middleware and never read
// back by the service itself.
type RequestLogEntry struct {
	ID         string        `json:"id"`
	Endpoint   string        `json:"endpoint"`
	Method     string        `json:"method"`
	Params     string        `json:"params"`
	StatusCode int           `json:"status_code"`
	ClientID   string        `json:"client_id,omitempty"`
	RemoteIP   string        `json:"remote_ip"`
	UserAgent  string        `json:"user_agent"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}
