package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldgate/fieldgate/internal/api"
	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/schema"
)

// AccessChecker answers permission questions for a client. The essential
// fields (id, created_at, updated_at) are readable whenever the model
// itself is, regardless of grant rows.
type AccessChecker interface {
	CanAccessModel(ctx context.Context, clientID, model string) (bool, error)
	CanAccessField(ctx context.Context, clientID, model, field string) (bool, error)
	PermittedFields(ctx context.Context, clientID, model string) ([]string, error)
	Grants(ctx context.Context, clientID string) ([]*models.Permission, error)
}

// Query carries the raw record-listing parameters as received on the
// wire; the gateway owns all validation.
type Query struct {
	Model       string
	Fields      string
	Pagination  api.Pagination
	DatetimeGTE string
	DatetimeLTE string
	TargetField string
}

// Result is one page of projected records.
type Result struct {
	Records    []map[string]any   `json:"records"`
	Pagination api.PaginationInfo `json:"pagination"`
}

// Gateway validates record queries and executes them against a Source.
type Gateway struct {
	registry *schema.Registry
	access   AccessChecker
	source   Source
	logger   *slog.Logger
}

// NewGateway wires a gateway over the schema registry, the permission
// checker, and the record source.
func NewGateway(registry *schema.Registry, access AccessChecker, source Source, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		access:   access,
		source:   source,
		logger:   logger,
	}
}

// Read runs the full validation pipeline and returns one page of records.
// Failures come back as categorical API errors, never raw internals.
func (g *Gateway) Read(ctx context.Context, client *models.Client, q Query) (*Result, *api.Error) {
	if client == nil {
		return nil, api.InvalidClient("Client not found")
	}
	if !models.ValidScope(client.Scope) {
		return nil, api.InvalidScope("Client scope invalid")
	}

	if q.Model == "" {
		return nil, api.MissingParameter("No model_name provided")
	}

	allowed, err := g.access.CanAccessModel(ctx, client.ClientID, q.Model)
	if err != nil {
		return nil, g.internal(err, "checking model access")
	}
	if !allowed {
		return nil, api.AccessDenied(fmt.Sprintf("Model '%s' not accessible for this client", q.Model))
	}

	filter, apiErr := g.buildFilter(ctx, client, q)
	if apiErr != nil {
		return nil, apiErr
	}

	fieldList, apiErr := g.resolveFields(ctx, client, q)
	if apiErr != nil {
		return nil, apiErr
	}

	rows, err := g.source.Search(ctx, q.Model, filter)
	if err != nil {
		g.logger.Error("fetching records failed",
			slog.String("model", q.Model),
			slog.String("error", err.Error()),
		)

		return nil, api.ReadError()
	}

	q.Pagination = api.NewPagination(q.Pagination.Page, q.Pagination.PerPage)
	start, end := q.Pagination.Bounds(len(rows))

	page := make([]map[string]any, 0, end-start)
	for _, row := range rows[start:end] {
		projected, err := projectFields(row, fieldList)
		if err != nil {
			g.logger.Error("projecting record failed",
				slog.String("model", q.Model),
				slog.String("error", err.Error()),
			)

			return nil, api.ReadError()
		}

		page = append(page, projected)
	}

	return &Result{
		Records:    page,
		Pagination: q.Pagination.Info(len(rows)),
	}, nil
}

// buildFilter validates the datetime triple: all three parameters or
// none, both literals in the fixed layout, and a target field that
// exists, is a datetime, and is readable by the client.
func (g *Gateway) buildFilter(ctx context.Context, client *models.Client, q Query) (*DateRange, *api.Error) {
	provided := 0
	for _, v := range []string{q.DatetimeGTE, q.DatetimeLTE, q.TargetField} {
		if v != "" {
			provided++
		}
	}
	if provided == 0 {
		return nil, nil
	}
	if provided < 3 {
		return nil, api.InvalidDatetimeParams("All datetime parameters must be provided together")
	}

	gte, err := time.Parse(DatetimeLayout, q.DatetimeGTE)
	if err != nil {
		return nil, api.InvalidDatetimeFormat("Datetime must be in format: YYYY-MM-DD HH:MM:SS")
	}

	lte, err := time.Parse(DatetimeLayout, q.DatetimeLTE)
	if err != nil {
		return nil, api.InvalidDatetimeFormat("Datetime must be in format: YYYY-MM-DD HH:MM:SS")
	}

	model, ok := g.registry.Model(q.Model)
	if !ok {
		return nil, api.FieldNotFound(fmt.Sprintf("Field '%s' does not exist", q.TargetField))
	}

	field, ok := model.Field(q.TargetField)
	if !ok {
		return nil, api.FieldNotFound(fmt.Sprintf("Field '%s' does not exist", q.TargetField))
	}
	if !field.IsDatetime() {
		return nil, api.InvalidFieldType(fmt.Sprintf("Field '%s' must be datetime", q.TargetField))
	}

	allowed, err := g.access.CanAccessField(ctx, client.ClientID, q.Model, q.TargetField)
	if err != nil {
		return nil, g.internal(err, "checking field access")
	}
	if !allowed {
		return nil, api.FieldAccessDenied(fmt.Sprintf("Field '%s' not accessible", q.TargetField))
	}

	return &DateRange{Field: q.TargetField, GTE: gte, LTE: lte}, nil
}

// resolveFields expands the fields parameter into the projection list.
// The wildcard resolves to the client's full grant; an explicit list is
// checked field by field. "id" is always appended when absent.
func (g *Gateway) resolveFields(ctx context.Context, client *models.Client, q Query) ([]string, *api.Error) {
	fieldsParam := q.Fields
	if fieldsParam == "" {
		fieldsParam = "*"
	}

	var fieldList []string
	if fieldsParam == "*" {
		permitted, err := g.access.PermittedFields(ctx, client.ClientID, q.Model)
		if err != nil {
			return nil, g.internal(err, "resolving permitted fields")
		}
		if len(permitted) == 0 {
			return nil, api.NoFieldPermissions(fmt.Sprintf("No field permissions found for model '%s'", q.Model))
		}

		fieldList = permitted
	} else {
		for _, raw := range strings.Split(fieldsParam, ",") {
			field := strings.TrimSpace(raw)
			if field == "" {
				continue
			}

			allowed, err := g.access.CanAccessField(ctx, client.ClientID, q.Model, field)
			if err != nil {
				return nil, g.internal(err, "checking field access")
			}
			if !allowed {
				return nil, api.FieldAccessDenied(fmt.Sprintf("Field '%s' not accessible", field))
			}

			fieldList = append(fieldList, field)
		}
	}

	for _, f := range fieldList {
		if f == "id" {
			return fieldList, nil
		}
	}

	return append(fieldList, "id"), nil
}

// projectFields keeps only the permitted keys of a record. Keys absent
// from the record are omitted rather than nulled.
func projectFields(row json.RawMessage, fields []string) (map[string]any, error) {
	var full map[string]any
	if err := json.Unmarshal(row, &full); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := full[f]; ok {
			out[f] = v
		}
	}

	return out, nil
}

// internal logs a storage failure and maps it to the generic 500 kind.
func (g *Gateway) internal(err error, msg string) *api.Error {
	g.logger.Error(msg, slog.String("error", err.Error()))

	return api.ServerError("An internal error occurred")
}
