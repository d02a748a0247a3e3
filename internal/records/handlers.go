package records

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fieldgate/fieldgate/internal/api"
	"github.com/fieldgate/fieldgate/internal/auth"
	"github.com/fieldgate/fieldgate/internal/schema"
)

// HandleRecords serves GET /records: one page of permission-projected
// records for the authenticated client.
func HandleRecords(gateway *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := auth.ClientFromContext(r.Context())

		query := r.URL.Query()
		q := Query{
			Model:       query.Get("model_name"),
			Fields:      query.Get("fields"),
			Pagination:  api.ParsePagination(r),
			DatetimeGTE: query.Get("date_time_gte"),
			DatetimeLTE: query.Get("date_time_lte"),
			TargetField: query.Get("targetted_datetime_field"),
		}

		result, apiErr := gateway.Read(r.Context(), client, q)
		if apiErr != nil {
			api.WriteError(w, apiErr)
			return
		}

		api.WriteSuccess(w, http.StatusOK, "", result)
	}
}

// modelGrant is one entry of the permissions listing: a granted model and
// the schema descriptors of its granted fields.
type modelGrant struct {
	ModelName   string         `json:"model_name"`
	Description string         `json:"model_description"`
	Fields      []schema.Field `json:"fields"`
}

// HandlePermissions serves GET /permissions: the authenticated client's
// full grant, one entry per accessible model.
func HandlePermissions(registry *schema.Registry, access AccessChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := auth.ClientFromContext(r.Context())
		if client == nil {
			api.WriteError(w, api.InvalidClient("Client not found"))
			return
		}

		grants, err := access.Grants(r.Context(), client.ClientID)
		if err != nil {
			logger.Error("listing grants failed", slog.String("error", err.Error()))
			api.WriteError(w, api.ServerError("An internal error occurred"))
			return
		}
		if len(grants) == 0 {
			apiErr := api.NoAccessibleModels(fmt.Sprintf("No model permissions found for client '%s'", client.Name)).
				WithDetails(map[string]string{
					"client_id": client.ClientID,
					"scope":     client.Scope,
					"help":      "Contact administrator to configure model permissions",
				})
			api.WriteError(w, apiErr)
			return
		}

		listing := make([]modelGrant, 0, len(grants))
		for _, grant := range grants {
			model, ok := registry.Model(grant.Model)
			if !ok {
				logger.Error("granted model missing from schema", slog.String("model", grant.Model))
				api.WriteError(w, api.FieldFetchError())
				return
			}

			// Granted fields that have since left the schema are skipped
			// rather than failing the whole listing.
			fields := make([]schema.Field, 0, len(grant.Fields))
			for _, name := range grant.Fields {
				if f, ok := model.Field(name); ok {
					fields = append(fields, *f)
				}
			}

			listing = append(listing, modelGrant{
				ModelName:   model.Name,
				Description: model.Description,
				Fields:      fields,
			})
		}

		api.WriteSuccess(w, http.StatusOK, "", listing)
	}
}
