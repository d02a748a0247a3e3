package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fieldgate/fieldgate/internal/api"
)

// registrationRequest is the POST /register body.
type registrationRequest struct {
	Name        string `json:"name"`
	RedirectURI string `json:"redirect_uri"`
}

// registrationResponse echoes the stored client plus its secret. This
// is the only place the secret ever leaves the server.
type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Name         string `json:"name"`
	RedirectURI  string `json:"redirect_uri"`
}

// HandleRegistration returns the client registration handler.
func HandleRegistration(registry *Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteError(w, api.InvalidRequest("Invalid request body"))
			return
		}

		client, err := registry.Register(r.Context(), req.Name, req.RedirectURI)
		switch {
		case errors.Is(err, ErrMissingFields):
			api.WriteError(w, api.InvalidRequest("Missing required fields").WithDetails(map[string]any{
				"required": []string{"name", "redirect_uri"},
				"provided": map[string]bool{
					"name":         req.Name != "",
					"redirect_uri": req.RedirectURI != "",
				},
			}))
			return
		case errors.Is(err, ErrInvalidRedirectURI):
			api.WriteError(w, api.InvalidRequest("Invalid redirect_uri"))
			return
		case err != nil:
			logger.Error("client registration failed", slog.String("error", err.Error()))
			api.WriteError(w, api.ServerError("An internal error occurred"))
			return
		}

		api.WriteSuccess(w, http.StatusOK, "", registrationResponse{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Name:         client.Name,
			RedirectURI:  client.RedirectURI,
		})
	}
}
