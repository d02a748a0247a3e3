package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/fieldgate/fieldgate/internal/api"
	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
)

// tokenRequest is the POST /token body.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// tokenResponse is the success payload of both grant types.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// HandleToken returns the POST /token handler covering the
// authorization_code and refresh_token grants.
func HandleToken(registry *Registry, issuer *Issuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		req, err := parseTokenRequest(r)
		if err != nil {
			api.WriteError(w, api.InvalidRequest("Invalid request body"))
			return
		}
		if req.Scope == "" {
			req.Scope = models.ScopeRead
		}

		client, err := registry.Authenticate(r.Context(), req.ClientID, req.ClientSecret)
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, api.InvalidClient("Invalid client credentials"))
			return
		}
		if err != nil {
			logger.Error("client authentication failed", slog.String("error", err.Error()))
			api.WriteError(w, api.ServerError("An internal error occurred"))
			return
		}

		switch req.GrantType {
		case "authorization_code":
			handleCodeGrant(w, r, client, req, issuer, logger)
		case "refresh_token":
			handleRefreshGrant(w, r, client, req, issuer, logger)
		default:
			api.WriteError(w, api.UnsupportedGrantType())
		}
	}
}

// parseTokenRequest accepts both JSON and form-encoded bodies.
func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}

		return &tokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
			Code:         r.PostFormValue("code"),
			RefreshToken: r.PostFormValue("refresh_token"),
			Scope:        r.PostFormValue("scope"),
		}, nil
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

func handleCodeGrant(w http.ResponseWriter, r *http.Request, client *models.Client, req *tokenRequest, issuer *Issuer, logger *slog.Logger) {
	if req.Code == "" {
		api.WriteError(w, api.InvalidGrant("Invalid or missing authorization code"))
		return
	}

	authCode, err := issuer.ConsumeCode(r.Context(), client, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteError(w, api.InvalidGrant("Invalid or expired authorization code"))
		return
	}
	if err != nil {
		logger.Error("consuming authorization code failed", slog.String("error", err.Error()))
		api.WriteError(w, api.ServerError("An internal error occurred"))
		return
	}

	// The code is spent at this point; a rejected scope does not
	// refund it.
	if req.Scope != client.Scope {
		api.WriteError(w, api.InvalidGrant(fmt.Sprintf(
			"You are not allowed to request %s, allowed scope: %s", req.Scope, client.Scope)))
		return
	}

	pair, err := issuer.Issue(r.Context(), client, authCode.Subject, req.Scope)
	if err != nil {
		logger.Error("issuing token pair failed", slog.String("error", err.Error()))
		api.WriteError(w, api.ServerError("An internal error occurred"))
		return
	}

	writeTokenResponse(w, issuer, pair)
}

func handleRefreshGrant(w http.ResponseWriter, r *http.Request, client *models.Client, req *tokenRequest, issuer *Issuer, logger *slog.Logger) {
	if req.RefreshToken == "" {
		api.WriteError(w, api.InvalidRequest("Missing refresh_token"))
		return
	}

	pair, err := issuer.LookupRefresh(r.Context(), req.RefreshToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("refresh token lookup failed", slog.String("error", err.Error()))
		api.WriteError(w, api.ServerError("An internal error occurred"))
		return
	}
	if err != nil || pair.ClientID != client.ClientID || !pair.RefreshValid {
		api.WriteError(w, api.InvalidGrant("Invalid or expired refresh token"))
		return
	}

	if !issuer.ValidateRefresh(pair, req.RefreshToken, client.ClientSecret) {
		api.WriteError(w, api.InvalidGrant("Invalid refresh token"))
		return
	}

	newPair, err := issuer.Rotate(r.Context(), client, pair)
	if errors.Is(err, store.ErrNotFound) {
		// Lost a concurrent rotation between the checks above and the
		// conditional update.
		api.WriteError(w, api.InvalidGrant("Invalid or expired refresh token"))
		return
	}
	if err != nil {
		logger.Error("token rotation failed",
			slog.String("client_id", client.ClientID),
			slog.String("error", err.Error()))
		api.WriteError(w, api.TokenRotationFailed("Token rotation failed"))
		return
	}

	writeTokenResponse(w, issuer, newPair)
}

func writeTokenResponse(w http.ResponseWriter, issuer *Issuer, pair *models.TokenPair) {
	api.WriteSuccess(w, http.StatusOK, "", tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(issuer.AccessTTL().Seconds()),
	})
}

// HandleRevoke returns the POST /revoke handler. It runs behind the
// bearer middleware, so the presented token is already verified; what
// remains is spending the refresh side of its pair.
func HandleRevoke(issuer *Issuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			api.WriteError(w, api.Unauthorized("Missing or invalid Authorization header"))
			return
		}

		found, err := issuer.Revoke(r.Context(), tokenString)
		if err != nil {
			logger.Error("revocation failed", slog.String("error", err.Error()))
			api.WriteError(w, api.ServerError("An internal error occurred"))
			return
		}
		if !found {
			// The middleware accepts either half of a pair; revocation
			// works on the access token only.
			api.WriteError(w, api.InvalidToken("Invalid token"))
			return
		}

		api.WriteSuccess(w, http.StatusOK, "Token revoked successfully", nil)
	}
}
