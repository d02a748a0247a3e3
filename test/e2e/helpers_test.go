package e2e_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/fieldgate/fieldgate/internal/auth"
	"github.com/fieldgate/fieldgate/internal/metrics"
	"github.com/fieldgate/fieldgate/internal/records"
	"github.com/fieldgate/fieldgate/internal/schema"
	"github.com/fieldgate/fieldgate/internal/server"
	"github.com/fieldgate/fieldgate/internal/store/bolt"
	"github.com/stretchr/testify/require"
)

const (
	stateSecret = "e2e-state-secret-0123456789abcdef"
	redirectURI = "http://127.0.0.1:19876/callback"
	clientName  = "E2E Test App"
)

const partnerSchema = `
models:
  - name: res.partner
    description: Contacts
    fields:
      - name: name
        type: char
        label: Name
      - name: email
        type: char
        label: Email
      - name: create_date
        type: datetime
        label: Created on
`

const partnerRows = `[
  {"id": 1, "name": "Alice Carter", "email": "alice@example.com", "internal_ref": "X-1", "create_date": "2026-01-10 09:00:00", "created_at": "2026-01-10 09:00:00"},
  {"id": 2, "name": "Bob Mensah", "email": "bob@example.com", "internal_ref": "X-2", "create_date": "2026-02-20 09:00:00", "created_at": "2026-02-20 09:00:00"},
  {"id": 3, "name": "Carol Diaz", "email": "carol@example.com", "internal_ref": "X-3", "create_date": "2026-03-05 09:00:00", "created_at": "2026-03-05 09:00:00"}
]`

// harness holds the full e2e stack: a real HTTP server over the bolt
// store, the consent and token endpoints, and the record API.
type harness struct {
	URL    string
	Store  *bolt.Store
	Perms  *auth.Permissions
	Client *http.Client
}

// newHarness seeds a temp dataset and bolt store, wires the full stack
// via server.NewMux, and starts an httptest server with the metrics
// middleware applied the way main does it.
func newHarness(t *testing.T) *harness {
	t.Helper()

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dataDir, "res.partner.json"),
		[]byte(partnerRows),
		0o644,
	))

	st, err := bolt.Open(filepath.Join(t.TempDir(), "fieldgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := schema.Parse([]byte(partnerSchema))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	dataset, err := records.OpenDataset(dataDir, logger)
	require.NoError(t, err)

	registry := auth.NewRegistry(st, logger)
	issuer := auth.NewIssuer(auth.IssuerConfig{
		AccessTTL:  time.Hour,
		RefreshTTL: 720 * time.Hour,
		CodeTTL:    5 * time.Minute,
	}, st, st, logger)
	perms := auth.NewPermissions(st, reg)
	gateway := records.NewGateway(reg, perms, dataset, logger)
	m := metrics.New()

	mux := server.NewMux(server.MuxConfig{
		Store:       st,
		Registry:    registry,
		Issuer:      issuer,
		Permissions: perms,
		Gateway:     gateway,
		Schema:      reg,
		Consent: auth.ConsentConfig{
			StateSecret: stateSecret,
			StateTTL:    10 * time.Minute,
			ConfirmPath: "/api/v1/confirm",
		},
		Metrics: m,
		Logger:  logger,
	})

	ts := httptest.NewServer(m.Middleware(mux))
	t.Cleanup(ts.Close)

	return &harness{URL: ts.URL, Store: st, Perms: perms, Client: ts.Client()}
}

// envelope is the JSON response shape shared by every API endpoint.
type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	ErrorCode  string          `json:"error_code"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))

	return env
}

// tokenData is the data payload of a successful POST /api/v1/token.
type tokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// recordsData is the data payload of a successful GET /api/v1/records.
type recordsData struct {
	Records    []map[string]any `json:"records"`
	Pagination struct {
		Page         int `json:"page"`
		PerPage      int `json:"per_page"`
		TotalRecords int `json:"total_records"`
		TotalPages   int `json:"total_pages"`
	} `json:"pagination"`
}

// registerClient registers a client over HTTP and returns its issued
// credentials.
func (h *harness) registerClient(t *testing.T) (clientID, clientSecret string) {
	t.Helper()

	body := map[string]string{"name": clientName, "redirect_uri": redirectURI}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	resp := h.doPostJSON(t, "/api/v1/register", b)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)

	var creds struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &creds))
	require.NotEmpty(t, creds.ClientID)
	require.NotEmpty(t, creds.ClientSecret)

	return creds.ClientID, creds.ClientSecret
}

// grant configures field permissions directly, standing in for the
// admin CLI.
func (h *harness) grant(t *testing.T, clientID, model string, fields []string) {
	t.Helper()

	_, err := h.Perms.Grant(t.Context(), clientID, model, fields)
	require.NoError(t, err)
}

// authorize walks the consent flow for the client and returns the
// authorization code from the redirect. Steps: GET authorize (scrape
// the signed state token), POST confirm with decision=allow, parse the
// code out of the Location header.
func (h *harness) authorize(t *testing.T, clientID string) string {
	t.Helper()

	authURL := h.URL + "/api/v1/authorize?" + url.Values{
		"client_id": {clientID},
		"scope":     {"read"},
		"state":     {"e2e-state"},
	}.Encode()

	resp := h.doGet(t, authURL, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	stateToken := extractStateToken(t, string(bodyBytes))

	form := url.Values{
		"decision":    {"allow"},
		"client_id":   {clientID},
		"scope":       {"read"},
		"state":       {"e2e-state"},
		"state_token": {stateToken},
	}

	confirmResp := h.doPostFormNoRedirect(t, "/api/v1/confirm", form)
	defer confirmResp.Body.Close()

	require.Equal(t, http.StatusFound, confirmResp.StatusCode)

	loc := confirmResp.Header.Get("Location")
	require.NotEmpty(t, loc)

	locURL, err := url.Parse(loc)
	require.NoError(t, err)

	code := locURL.Query().Get("code")
	require.NotEmpty(t, code, "authorization code missing from redirect")

	return code
}

// exchangeCode swaps an authorization code for a token pair.
func (h *harness) exchangeCode(t *testing.T, clientID, clientSecret, code string) tokenData {
	t.Helper()

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"scope":         {"read"},
	}

	resp := h.doPostForm(t, "/api/v1/token", form)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)

	var tr tokenData
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	require.NotEmpty(t, tr.AccessToken)
	require.NotEmpty(t, tr.RefreshToken)

	return tr
}

// tokenFor runs register + grant + consent + exchange in one step and
// returns the credentials alongside the pair.
func (h *harness) tokenFor(t *testing.T, fields []string) (clientID, clientSecret string, tr tokenData) {
	t.Helper()

	clientID, clientSecret = h.registerClient(t)
	h.grant(t, clientID, "res.partner", fields)
	code := h.authorize(t, clientID)
	tr = h.exchangeCode(t, clientID, clientSecret, code)

	return clientID, clientSecret, tr
}

// refresh exchanges a refresh token and returns the raw response so
// callers can assert failures too.
func (h *harness) refresh(t *testing.T, clientID, clientSecret, refreshToken string) *http.Response {
	t.Helper()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
	}

	return h.doPostForm(t, "/api/v1/token", form)
}

// doGet performs a GET request, attaching a Bearer token when one is
// given.
func (h *harness) doGet(t *testing.T, fullURL, bearer string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), "GET", fullURL, nil)
	require.NoError(t, err)

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostForm performs a POST with form-encoded body.
func (h *harness) doPostForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), "POST", h.URL+path,
		bytes.NewBufferString(form.Encode()),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostFormNoRedirect performs a form POST that does not follow redirects.
func (h *harness) doPostFormNoRedirect(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()

	noRedirect := *h.Client
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(
		t.Context(), "POST", h.URL+path,
		bytes.NewBufferString(form.Encode()),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := noRedirect.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostJSON performs a POST with JSON body.
func (h *harness) doPostJSON(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), "POST", h.URL+path,
		bytes.NewReader(body),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// getRecords fetches /api/v1/records with the given query and Bearer
// token and returns the raw response.
func (h *harness) getRecords(t *testing.T, bearer string, query url.Values) *http.Response {
	t.Helper()

	return h.doGet(t, h.URL+"/api/v1/records?"+query.Encode(), bearer)
}

// extractStateToken scrapes the signed state token from the consent
// form HTML.
func extractStateToken(t *testing.T, body string) string {
	t.Helper()

	re := regexp.MustCompile(`name="state_token" value="([^"]+)"`)
	matches := re.FindStringSubmatch(body)
	require.Len(t, matches, 2, "state token not found in consent HTML")

	return matches[1]
}
