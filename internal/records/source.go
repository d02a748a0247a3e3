// Package records serves permission-filtered reads over the exposed
// models: it validates a record query against the schema registry and the
// client's grants, executes it against a Source, and projects out only
// the permitted fields.
package records

import (
	"context"
	"encoding/json"
	"time"
)

// DatetimeLayout is the fixed format for datetime filter parameters and
// for datetime values inside dataset records.
const DatetimeLayout = "2006-01-02 15:04:05"

// DateRange restricts a search to records whose Field value lies inside
// [GTE, LTE], both ends inclusive. Records without a parseable value in
// Field are excluded.
type DateRange struct {
	Field string
	GTE   time.Time
	LTE   time.Time
}

// Source is the underlying record storage the gateway reads from. Search
// returns raw JSON documents for the model, ordered by id; an unknown
// model yields an empty result, not an error.
type Source interface {
	Search(ctx context.Context, model string, filter *DateRange) ([]json.RawMessage, error)
}
