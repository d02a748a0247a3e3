package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/fieldgate/internal/api"
	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/internal/token"
)

type contextKey int

const ctxClient contextKey = iota

// WithClient attaches a client to the context the way the authenticator
// does.
func WithClient(ctx context.Context, client *models.Client) context.Context {
	return context.WithValue(ctx, ctxClient, client)
}

// ClientFromContext returns the client attached by the authenticator,
// or nil on an unauthenticated request.
func ClientFromContext(ctx context.Context) *models.Client {
	client, _ := ctx.Value(ctxClient).(*models.Client)
	return client
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	return tok, tok != ""
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Authenticator guards protected endpoints with the bearer pipeline.
type Authenticator struct {
	clients store.ClientStore
	tokens  store.TokenStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewAuthenticator(clients store.ClientStore, tokens store.TokenStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{clients: clients, tokens: tokens, logger: logger, now: time.Now}
}

// Middleware validates the bearer token and attaches the owning client
// to the request context. The checks run in a fixed order, each with
// its own error code; expiry is reported before a bad signature.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			api.WriteError(w, api.Unauthorized("Missing or invalid Authorization header"))
			return
		}

		claims, err := token.Decode(tokenString)
		if err != nil {
			api.WriteError(w, api.InvalidToken("Invalid token payload"))
			return
		}

		pair, err := a.tokens.GetTokenPairByToken(r.Context(), tokenString)
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, api.InvalidToken("Token not found"))
			return
		}
		if err != nil {
			a.logger.Error("token lookup failed", slog.String("error", err.Error()))
			api.WriteError(w, api.ServerError("An internal error occurred"))
			return
		}

		client, err := a.clients.GetClient(r.Context(), pair.ClientID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			a.logger.Error("client lookup failed", slog.String("error", err.Error()))
			api.WriteError(w, api.ServerError("An internal error occurred"))
			return
		}
		if err != nil || !client.IsActive {
			api.WriteError(w, api.InactiveClient("Client associated with the token is inactive"))
			return
		}

		if claims.Expired(a.now()) {
			api.WriteError(w, api.TokenExpired("Token has expired"))
			return
		}

		if !token.Verify(tokenString, client.ClientSecret) {
			api.WriteError(w, api.InvalidSignature("Invalid token signature"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
	})
}

// Audit writes one RequestLogEntry per request passing through it.
// Appends are best-effort: a failed write logs a warning and never
// fails the request it describes.
type Audit struct {
	logs   store.RequestLogStore
	tokens store.TokenStore
	logger *slog.Logger
	now    func() time.Time
}

func NewAudit(logs store.RequestLogStore, tokens store.TokenStore, logger *slog.Logger) *Audit {
	return &Audit{logs: logs, tokens: tokens, logger: logger, now: time.Now}
}

// Middleware records the call after the wrapped handler finishes. It
// sits outside the authenticator so rejected requests are logged too;
// client attribution is a best-effort token lookup of its own. The
// entry's id doubles as the X-Request-ID response header.
func (a *Audit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := a.now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		entry := &models.RequestLogEntry{
			ID:         requestID,
			Endpoint:   r.URL.Path,
			Method:     r.Method,
			Params:     redactParams(r.URL.Query()),
			StatusCode: rec.status,
			ClientID:   a.resolveClientID(r),
			RemoteIP:   remoteIP(r),
			UserAgent:  r.UserAgent(),
			Duration:   a.now().Sub(start),
			CreatedAt:  start.UTC(),
		}
		if err := a.logs.AppendRequestLog(r.Context(), entry); err != nil {
			a.logger.Warn("request log append failed", slog.String("error", err.Error()))
		}
	})
}

// resolveClientID attributes the request to a client by looking up the
// bearer token, if any. Failures are swallowed; the entry is simply
// unattributed.
func (a *Audit) resolveClientID(r *http.Request) string {
	tokenString, ok := bearerToken(r)
	if !ok {
		return ""
	}
	pair, err := a.tokens.GetTokenPairByToken(r.Context(), tokenString)
	if err != nil {
		return ""
	}

	return pair.ClientID
}

// redactedParamFragments mask query parameters whose name contains
// credential material. The audit trail stores request metadata only.
var redactedParamFragments = []string{"secret", "token", "password", "code"}

func redactParams(values url.Values) string {
	params := make(map[string]string, len(values))
	for key, vs := range values {
		v := ""
		if len(vs) > 0 {
			v = vs[0]
		}
		if redactedParam(key) {
			v = "[REDACTED]"
		}
		params[key] = v
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}

	return string(raw)
}

func redactedParam(key string) bool {
	k := strings.ToLower(key)
	for _, fragment := range redactedParamFragments {
		if strings.Contains(k, fragment) {
			return true
		}
	}

	return false
}

// statusRecorder captures the status code written by the wrapped
// handler so the audit entry can record it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}
