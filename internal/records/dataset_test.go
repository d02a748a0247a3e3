package records

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeModelFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func openTestDataset(t *testing.T, dir string) *Dataset {
	t.Helper()
	d, err := OpenDataset(dir, testLogger)
	require.NoError(t, err)
	return d
}

func recordIDs(t *testing.T, rows []json.RawMessage) []int {
	t.Helper()
	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		var rec struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.Unmarshal(row, &rec))
		ids = append(ids, rec.ID)
	}
	return ids
}

// --- OpenDataset ---

func TestOpenDataset_LoadsAndSortsModels(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "res.partner.json", `[
		{"id": 3, "name": "Carol"},
		{"id": 1, "name": "Alice"},
		{"id": 2, "name": "Bob"}
	]`)
	writeModelFile(t, dir, "sale.order.json", `[{"id": 7, "name": "SO007"}]`)

	d := openTestDataset(t, dir)

	rows, err := d.Search(context.Background(), "res.partner", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, recordIDs(t, rows))

	rows, err = d.Search(context.Background(), "sale.order", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, recordIDs(t, rows))
}

func TestOpenDataset_SkipsNonModelEntries(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "res.partner.json", `[{"id": 1}]`)
	writeModelFile(t, dir, "README.txt", "not a model")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0755))

	d := openTestDataset(t, dir)

	rows, err := d.Search(context.Background(), "res.partner", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = d.Search(context.Background(), "README", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOpenDataset_RejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"not an array", `{"id": 1}`},
		{"invalid json", `[{"id": 1},`},
		{"non-object record", `[{"id": 1}, 42]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeModelFile(t, dir, "res.partner.json", tt.contents)

			_, err := OpenDataset(dir, testLogger)
			assert.Error(t, err)
		})
	}
}

func TestOpenDataset_MissingDirectory(t *testing.T) {
	_, err := OpenDataset(filepath.Join(t.TempDir(), "nope"), testLogger)
	assert.Error(t, err)
}

func TestModelName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/data/res.partner.json", "res.partner"},
		{"/data/sale.order.line.json", "sale.order.line"},
		{"crm.lead.json", "crm.lead"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, modelName(tt.path), "modelName(%q)", tt.path)
	}
}

// --- Search ---

func TestDataset_SearchUnknownModel(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "res.partner.json", `[{"id": 1}]`)
	d := openTestDataset(t, dir)

	rows, err := d.Search(context.Background(), "no.such.model", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDataset_SearchDateRange(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "res.partner.json", `[
		{"id": 1, "create_date": "2026-01-01 00:00:00"},
		{"id": 2, "create_date": "2026-02-15 08:30:00"},
		{"id": 3, "create_date": "2026-03-31 23:59:59"},
		{"id": 4, "create_date": "garbage"},
		{"id": 5}
	]`)
	d := openTestDataset(t, dir)

	parse := func(s string) time.Time {
		ts, err := time.Parse(DatetimeLayout, s)
		require.NoError(t, err)
		return ts
	}

	tests := []struct {
		name string
		gte  string
		lte  string
		want []int
	}{
		{"inner window", "2026-02-01 00:00:00", "2026-03-01 00:00:00", []int{2}},
		{"bounds are inclusive", "2026-01-01 00:00:00", "2026-03-31 23:59:59", []int{1, 2, 3}},
		{"empty window", "2025-01-01 00:00:00", "2025-12-31 23:59:59", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := d.Search(context.Background(), "res.partner", &DateRange{
				Field: "create_date",
				GTE:   parse(tt.gte),
				LTE:   parse(tt.lte),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, recordIDs(t, rows))
		})
	}
}

// --- Reload ---

func TestDataset_ReloadReplacesModel(t *testing.T) {
	dir := t.TempDir()
	path := writeModelFile(t, dir, "res.partner.json", `[{"id": 1}]`)
	d := openTestDataset(t, dir)

	writeModelFile(t, dir, "res.partner.json", `[{"id": 1}, {"id": 2}]`)
	require.NoError(t, d.loadFile(path))

	rows, err := d.Search(context.Background(), "res.partner", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, recordIDs(t, rows))
}

func TestDataset_DropModel(t *testing.T) {
	dir := t.TempDir()
	path := writeModelFile(t, dir, "res.partner.json", `[{"id": 1}]`)
	d := openTestDataset(t, dir)

	d.dropModel(path)

	rows, err := d.Search(context.Background(), "res.partner", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
