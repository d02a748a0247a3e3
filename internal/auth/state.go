package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/fieldgate/fieldgate/internal/token"
)

// stateNonceBytes is the number of random bytes mixed into each minted
// state token so two consents for the same client never collide.
const stateNonceBytes = 8

// stateClaims is the payload of a consent state token: the raw state
// value the client supplied on /authorize, bound to the client and an
// expiry. Signed with the server state secret, it lets /confirm verify
// the round-trip without any session storage.
type stateClaims struct {
	ClientID string `json:"client_id"`
	State    string `json:"state"`
	Nonce    string `json:"nonce"`
	Exp      int64  `json:"exp"`
}

// MintState produces a signed state token carried as a hidden field on
// the consent form.
func MintState(secret, clientID, state string, ttl time.Duration, now time.Time) (string, error) {
	payload, err := token.EncodeSegment(stateClaims{
		ClientID: clientID,
		State:    state,
		Nonce:    token.RandomHex(stateNonceBytes),
		Exp:      now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}

	return payload + "." + token.Sign(secret, payload), nil
}

// VerifyState checks a minted state token: signature, expiry, client
// binding, and that the posted state value matches the one embedded at
// mint time. Any mismatch or malformed input returns false.
func VerifyState(secret, minted, clientID, state string, now time.Time) bool {
	parts := strings.Split(minted, ".")
	if len(parts) != 2 {
		return false
	}

	expected := token.Sign(secret, parts[0])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[1])) != 1 {
		return false
	}

	var claims stateClaims
	if err := token.DecodeSegment(parts[0], &claims); err != nil {
		return false
	}
	if now.Unix() >= claims.Exp {
		return false
	}

	return claims.ClientID == clientID && claims.State == state
}
