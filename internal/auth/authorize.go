package auth

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/internal/token"
)

// stateBytes is the number of random bytes in a generated state value,
// used when the authorize request did not carry one.
const stateBytes = 16

// consentPage renders the consent form. The state_token hidden field
// carries the signed round-trip of the state value; /confirm refuses to
// act without a verifiable one.
var consentPage = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>fieldgate</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 380px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.06);
  }
  .card h1 {
    font-size: 1.25rem;
    font-weight: 600;
    margin-bottom: 0.25rem;
  }
  .card p.sub {
    font-size: 0.85rem;
    color: #666;
    margin-bottom: 1.5rem;
  }
  .consent {
    background: #f8f9fa;
    border: 1px solid #e0e0e0;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-bottom: 1.25rem;
  }
  .consent p { margin-bottom: 0.3rem; }
  .consent p:last-child { margin-bottom: 0; }
  .consent .redirect { color: #666; word-break: break-all; }
  .consent code { font-size: 0.8rem; }
  .actions { display: flex; gap: 0.5rem; }
  button {
    flex: 1;
    padding: 0.6rem;
    border: none;
    border-radius: 6px;
    font-size: 0.9rem;
    font-weight: 500;
    cursor: pointer;
    transition: background 0.15s;
  }
  button.allow { background: #1a1a1a; color: #fff; }
  button.allow:hover { background: #333; }
  button.deny { background: #f0f0f0; color: #1a1a1a; border: 1px solid #d0d0d0; }
  button.deny:hover { background: #e4e4e4; }
</style>
</head>
<body>
<div class="card">
  <h1>fieldgate</h1>
  <p class="sub">An application is requesting access to the record API.</p>
  <div class="consent">
    <p><strong>{{.ClientName}}</strong> is requesting <code>{{.Scope}}</code> access.</p>
    <p class="redirect">You will be redirected to: <code>{{.RedirectURI}}</code></p>
  </div>
  <form method="POST" action="{{.ConfirmPath}}">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <input type="hidden" name="state" value="{{.State}}">
    <input type="hidden" name="state_token" value="{{.StateToken}}">
    <div class="actions">
      <button class="allow" type="submit" name="decision" value="allow">Allow</button>
      <button class="deny" type="submit" name="decision" value="deny">Deny</button>
    </div>
  </form>
</div>
</body>
</html>`))

type consentData struct {
	ClientName  string
	ClientID    string
	Scope       string
	RedirectURI string
	State       string
	StateToken  string
	ConfirmPath string
}

// ConsentConfig carries what the consent flow needs beyond the stores:
// the state-signing secret, how long a rendered form stays actionable,
// and where the form posts back to.
type ConsentConfig struct {
	StateSecret string
	StateTTL    time.Duration
	ConfirmPath string
}

// HandleAuthorize returns the GET /authorize handler. Validation
// failures are plain text, not the JSON envelope; this endpoint talks
// to a browser, not an API consumer.
func HandleAuthorize(cfg ConsentConfig, registry *Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		clientID := q.Get("client_id")
		responseType := q.Get("response_type")
		if responseType == "" {
			responseType = "code"
		}
		scope := q.Get("scope")
		if scope == "" {
			scope = models.ScopeRead
		}
		state := q.Get("state")
		if state == "" {
			state = token.RandomHex(stateBytes)
		}

		if responseType != "code" {
			http.Error(w, "Unsupported response_type, only 'code' is supported", http.StatusBadRequest)
			return
		}
		if clientID == "" {
			http.Error(w, "Missing client_id", http.StatusBadRequest)
			return
		}

		client, err := registry.Lookup(r.Context(), clientID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Invalid client_id", http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.Error("consent client lookup failed", slog.String("error", err.Error()))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		minted, err := MintState(cfg.StateSecret, client.ClientID, state, cfg.StateTTL, time.Now())
		if err != nil {
			logger.Error("minting state token failed", slog.String("error", err.Error()))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = consentPage.Execute(w, consentData{
			ClientName:  client.Name,
			ClientID:    client.ClientID,
			Scope:       scope,
			RedirectURI: client.RedirectURI,
			State:       state,
			StateToken:  minted,
			ConfirmPath: cfg.ConfirmPath,
		})
	}
}

// HandleConfirm returns the POST /confirm handler: verifies the signed
// state, then either issues an authorization code and redirects to the
// client's registered URI, or redirects with access_denied.
func HandleConfirm(cfg ConsentConfig, registry *Registry, issuer *Issuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form body", http.StatusBadRequest)
			return
		}

		decision := r.PostFormValue("decision")
		clientID := r.PostFormValue("client_id")
		scope := r.PostFormValue("scope")
		if scope == "" {
			scope = models.ScopeRead
		}
		state := r.PostFormValue("state")
		stateToken := r.PostFormValue("state_token")

		if !VerifyState(cfg.StateSecret, stateToken, clientID, state, time.Now()) {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		client, err := registry.Lookup(r.Context(), clientID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Invalid client_id", http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.Error("consent client lookup failed", slog.String("error", err.Error()))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		switch decision {
		case "allow":
			code, err := issuer.CreateCode(r.Context(), client)
			if err != nil {
				logger.Error("issuing authorization code failed", slog.String("error", err.Error()))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			redirectTo(w, r, client.RedirectURI, url.Values{
				"code":  {code.Code},
				"scope": {scope},
				"state": {state},
			})
		case "deny":
			redirectTo(w, r, client.RedirectURI, url.Values{
				"error": {"access_denied"},
				"state": {state},
			})
		default:
			http.Error(w, "Invalid decision parameter.", http.StatusBadRequest)
		}
	}
}

// redirectTo sends a 302 to the redirect URI with params merged into
// any query string the URI already carries.
func redirectTo(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}

	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, u.String(), http.StatusFound)
}
