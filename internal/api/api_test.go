package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, 200, "", map[string]string{"k": "v"})

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(200), body["status_code"])
	assert.Equal(t, "Operation successful", body["message"])
	assert.Equal(t, map[string]any{"k": "v"}, body["data"])
}

func TestWriteSuccessCustomMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, 201, "Token revoked successfully", nil)

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "Token revoked successfully", decodeBody(t, rec)["message"])
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, InvalidGrant("Invalid or expired authorization code"))

	assert.Equal(t, 400, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, float64(400), body["status_code"])
	assert.Equal(t, "INVALID_GRANT", body["error_code"])
	assert.Equal(t, "Invalid or expired authorization code", body["message"])
	assert.NotContains(t, body, "details")
}

func TestWriteErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NoAccessibleModels("No model permissions found for client 'demo'").
		WithDetails(map[string]string{"client_id": "abc", "scope": "read"})
	WriteError(rec, err)

	assert.Equal(t, 404, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "NO_ACCESSIBLE_MODELS", body["error_code"])
	require.Contains(t, body, "details")
	assert.Equal(t, "abc", body["details"].(map[string]any)["client_id"])
}

func TestAsError(t *testing.T) {
	apiErr := AccessDenied("nope")
	assert.Same(t, apiErr, AsError(apiErr))

	generic := AsError(assert.AnError)
	assert.Equal(t, 500, generic.Status)
	assert.Equal(t, "SERVER_ERROR", generic.Code)
	assert.NotContains(t, generic.Message, assert.AnError.Error())
}

func TestPaginationBounds(t *testing.T) {
	tests := []struct {
		name       string
		page       int
		perPage    int
		total      int
		wantStart  int
		wantEnd    int
		wantPages  int
	}{
		{"first page", 1, 10, 25, 0, 10, 3},
		{"middle page", 2, 10, 25, 10, 20, 3},
		{"last partial page", 3, 10, 25, 20, 25, 3},
		{"past the end", 99, 10, 25, 25, 25, 3},
		{"empty set", 1, 10, 0, 0, 0, 0},
		{"exact multiple", 2, 5, 10, 5, 10, 2},
		{"floored inputs", -3, 0, 4, 0, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.page, tt.perPage)
			start, end := p.Bounds(tt.total)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, tt.wantPages, p.Info(tt.total).TotalPages)
			assert.Equal(t, tt.total, p.Info(tt.total).TotalRecords)
		})
	}
}

func TestParsePagination(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/records?page=2&per_page=50", nil)
	p := ParsePagination(r)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 50, p.PerPage)

	r = httptest.NewRequest("GET", "/api/v1/records?page=junk&per_page=", nil)
	p = ParsePagination(r)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.PerPage)

	r = httptest.NewRequest("GET", "/api/v1/records?page=-5&per_page=0", nil)
	p = ParsePagination(r)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 1, p.PerPage)
}
