package e2e_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- authorization code flow ---

func TestAuthorizationCodeFlow_ReadsRecords(t *testing.T) {
	h := newHarness(t)

	_, _, tr := h.tokenFor(t, []string{"name", "email"})
	assert.Equal(t, "Bearer", tr.TokenType)
	assert.Equal(t, int64(3600), tr.ExpiresIn)

	resp := h.getRecords(t, tr.AccessToken, url.Values{"model_name": {"res.partner"}})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	assert.Equal(t, "success", env.Status)

	var data recordsData
	require.NoError(t, json.Unmarshal(env.Data, &data))

	require.Len(t, data.Records, 3)
	assert.Equal(t, 3, data.Pagination.TotalRecords)
	assert.Equal(t, 1, data.Pagination.Page)

	for _, record := range data.Records {
		assert.Contains(t, record, "id")
		assert.Contains(t, record, "name")
		assert.Contains(t, record, "email")
		assert.NotContains(t, record, "internal_ref", "field outside the catalogue must never leak")
		assert.NotContains(t, record, "create_date", "ungranted field must not be projected")
	}
}

func TestAuthorizationCodeFlow_ExplicitUngrantedField(t *testing.T) {
	h := newHarness(t)

	_, _, tr := h.tokenFor(t, []string{"name"})

	resp := h.getRecords(t, tr.AccessToken, url.Values{
		"model_name": {"res.partner"},
		"fields":     {"name,email"},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	assert.Equal(t, "FIELD_ACCESS_DENIED", env.ErrorCode)
}

func TestConsentDeny_NoCodeIssued(t *testing.T) {
	h := newHarness(t)

	clientID, _ := h.registerClient(t)

	resp := h.doGet(t, h.URL+"/api/v1/authorize?"+url.Values{
		"client_id": {clientID},
		"state":     {"e2e-state"},
	}.Encode(), "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	form := url.Values{
		"decision":    {"deny"},
		"client_id":   {clientID},
		"state":       {"e2e-state"},
		"state_token": {extractStateToken(t, string(body))},
	}

	confirmResp := h.doPostFormNoRedirect(t, "/api/v1/confirm", form)
	defer confirmResp.Body.Close()

	require.Equal(t, http.StatusFound, confirmResp.StatusCode)

	locURL, err := url.Parse(confirmResp.Header.Get("Location"))
	require.NoError(t, err)

	assert.Equal(t, "access_denied", locURL.Query().Get("error"))
	assert.Empty(t, locURL.Query().Get("code"))
}

// --- token lifecycle ---

func TestRefreshRotation(t *testing.T) {
	h := newHarness(t)

	clientID, clientSecret, tr := h.tokenFor(t, []string{"name"})

	resp := h.refresh(t, clientID, clientSecret, tr.RefreshToken)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)

	var rotated tokenData
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, tr.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, tr.RefreshToken, rotated.RefreshToken)

	// The rotated pair works against the record API.
	recordsResp := h.getRecords(t, rotated.AccessToken, url.Values{"model_name": {"res.partner"}})
	defer recordsResp.Body.Close()
	assert.Equal(t, http.StatusOK, recordsResp.StatusCode)

	// Replaying the spent refresh token must fail.
	replay := h.refresh(t, clientID, clientSecret, tr.RefreshToken)
	defer replay.Body.Close()

	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)
	assert.Equal(t, "INVALID_GRANT", decodeEnvelope(t, replay).ErrorCode)
}

func TestRevoke_KillsRefreshNotAccess(t *testing.T) {
	h := newHarness(t)

	clientID, clientSecret, tr := h.tokenFor(t, []string{"name"})

	resp := h.revoke(t, tr.AccessToken)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Token revoked successfully", decodeEnvelope(t, resp).Message)

	// The refresh side is dead.
	replay := h.refresh(t, clientID, clientSecret, tr.RefreshToken)
	defer replay.Body.Close()
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)

	// The access token stays usable until its expiry.
	recordsResp := h.getRecords(t, tr.AccessToken, url.Values{"model_name": {"res.partner"}})
	defer recordsResp.Body.Close()
	assert.Equal(t, http.StatusOK, recordsResp.StatusCode)
}

func TestDeactivatedClient_Rejected(t *testing.T) {
	h := newHarness(t)

	clientID, _, tr := h.tokenFor(t, []string{"name"})

	require.NoError(t, h.Store.SetClientActive(t.Context(), clientID, false))

	resp := h.getRecords(t, tr.AccessToken, url.Values{"model_name": {"res.partner"}})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INACTIVE_CLIENT", decodeEnvelope(t, resp).ErrorCode)
}

// --- unauthenticated and invalid token ---

func TestRecords_RequireBearer(t *testing.T) {
	h := newHarness(t)

	resp := h.getRecords(t, "", url.Values{"model_name": {"res.partner"}})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeEnvelope(t, resp).ErrorCode)
}

func TestRecords_GarbageTokenRejected(t *testing.T) {
	h := newHarness(t)

	resp := h.getRecords(t, "not-a-real-token", url.Values{"model_name": {"res.partner"}})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", decodeEnvelope(t, resp).ErrorCode)
}

// --- datetime filtering ---

func TestDatetimeWindow(t *testing.T) {
	h := newHarness(t)

	_, _, tr := h.tokenFor(t, []string{"name", "create_date"})

	resp := h.getRecords(t, tr.AccessToken, url.Values{
		"model_name":               {"res.partner"},
		"date_time_gte":            {"2026-02-01 00:00:00"},
		"date_time_lte":            {"2026-02-28 23:59:59"},
		"targetted_datetime_field": {"create_date"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data recordsData
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &data))

	require.Len(t, data.Records, 1)
	assert.Equal(t, "Bob Mensah", data.Records[0]["name"])
}

// --- permission discovery ---

func TestPermissionsListing(t *testing.T) {
	h := newHarness(t)

	_, _, tr := h.tokenFor(t, []string{"name", "email"})

	resp := h.doGet(t, h.URL+"/api/v1/permissions", tr.AccessToken)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing []struct {
		ModelName   string `json:"model_name"`
		Description string `json:"model_description"`
		Fields      []struct {
			Name  string `json:"name"`
			Type  string `json:"type"`
			Label string `json:"string"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &listing))

	require.Len(t, listing, 1)
	assert.Equal(t, "res.partner", listing[0].ModelName)
	assert.Equal(t, "Contacts", listing[0].Description)

	names := make([]string, 0, len(listing[0].Fields))
	for _, f := range listing[0].Fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "name")
	assert.Contains(t, names, "email")
}

// --- operational endpoints ---

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp := h.doGet(t, h.URL+"/healthz", "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]string
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &status))
	assert.Equal(t, "ok", status["status"])
}

func TestMetricsExposition(t *testing.T) {
	h := newHarness(t)

	_, _, tr := h.tokenFor(t, []string{"name"})

	recordsResp := h.getRecords(t, tr.AccessToken, url.Values{"model_name": {"res.partner"}})
	recordsResp.Body.Close()

	resp := h.doGet(t, h.URL+"/metrics", "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body),
		`fieldgate_http_requests_total{endpoint="/api/v1/records",method="GET",status="200"} 1`)
}

// --- helpers ---

// revoke posts the bearer token to the revocation endpoint.
func (h *harness) revoke(t *testing.T, accessToken string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), "POST", h.URL+"/api/v1/revoke", nil)
	require.NoError(t, err)

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}
