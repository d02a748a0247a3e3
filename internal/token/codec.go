// Package token implements the compact token format used for access and
// refresh tokens: three dot-separated base64url segments (header, payload,
// signature) where the signature is an HMAC-SHA256 over "header.payload"
// keyed by the owning client's secret. Tokens are self-describing but the
// server still treats its own store as the source of truth; possession of
// a well-formed token proves nothing until the signature is checked
// against the stored client secret.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed is returned when a token string does not have exactly three
// segments or a segment fails base64 or JSON decoding.
var ErrMalformed = errors.New("malformed token")

// Header is the fixed descriptor prepended to every token. The server
// only ever emits HS256/JWT and never dispatches on received header
// values; the signature check would fail for a tampered header anyway.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// DefaultHeader is the header carried by all issued tokens.
var DefaultHeader = Header{Alg: "HS256", Typ: "JWT"}

// Claims is the payload of an issued token. Exp and Iat are Unix epoch
// seconds. Jti is random per token, so two pairs issued within the same
// second still differ.
type Claims struct {
	ClientID string `json:"client_id"`
	Subject  string `json:"subject"`
	Scope    string `json:"scope"`
	Exp      int64  `json:"exp"`
	Jti      string `json:"jti"`
	Iat      int64  `json:"iat"`
}

// ExpiresAt returns Exp as a time.Time.
func (c *Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// Expired reports whether the claims are past expiry at the given instant.
func (c *Claims) Expired(now time.Time) bool {
	return now.Unix() >= c.Exp
}

// EncodeSegment marshals v to JSON and base64url-encodes it without padding.
func EncodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal segment: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeSegment reverses EncodeSegment into dst. Stripped padding is
// restored before decoding so tokens survive transports that re-pad.
func DecodeSegment(segment string, dst any) error {
	if rem := len(segment) % 4; rem != 0 {
		segment += strings.Repeat("=", 4-rem)
	}

	raw, err := base64.URLEncoding.DecodeString(segment)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return nil
}

// Sign computes the base64url-encoded HMAC-SHA256 of signingInput keyed
// by secret.
func Sign(secret, signingInput string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Generate builds a signed token string for the given claims.
func Generate(claims Claims, secret string) (string, error) {
	header, err := EncodeSegment(DefaultHeader)
	if err != nil {
		return "", err
	}
	payload, err := EncodeSegment(claims)
	if err != nil {
		return "", err
	}

	signingInput := header + "." + payload

	return signingInput + "." + Sign(secret, signingInput), nil
}

// Decode splits a token string and returns its payload claims without
// verifying the signature. Callers must follow up with Verify before
// trusting anything in the result.
func Decode(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	var claims Claims
	if err := DecodeSegment(parts[1], &claims); err != nil {
		return nil, err
	}

	return &claims, nil
}

// DecodePayload is Decode for callers that need claims the typed struct
// does not carry. The returned map uses JSON's default value mapping.
func DecodePayload(tokenString string) (map[string]any, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	payload := map[string]any{}
	if err := DecodeSegment(parts[1], &payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// Verify recomputes the signature over the received header and payload
// and compares it to the received signature in constant time. Malformed
// input returns false, never an error or panic.
func Verify(tokenString, secret string) bool {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return false
	}

	expected := Sign(secret, parts[0]+"."+parts[1])

	return subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) == 1
}

// RandomHex returns a hex string of byteLen random bytes. Identifier and
// secret generation must not proceed on a broken entropy source, so a
// read failure panics.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	return hex.EncodeToString(b)
}
