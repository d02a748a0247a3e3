package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/fieldgate/internal/models"
	"github.com/fieldgate/fieldgate/internal/schema"
	"github.com/fieldgate/fieldgate/internal/store"
)

// Permissions answers model and field access questions from the stored
// grant rows. It is the records.AccessChecker implementation and also
// backs the grant admin command.
type Permissions struct {
	perms    store.PermissionStore
	registry *schema.Registry
	now      func() time.Time
}

func NewPermissions(perms store.PermissionStore, registry *schema.Registry) *Permissions {
	return &Permissions{perms: perms, registry: registry, now: time.Now}
}

// CanAccessModel reports whether a grant row exists for (client, model).
func (p *Permissions) CanAccessModel(ctx context.Context, clientID, model string) (bool, error) {
	_, err := p.perms.GetPermission(ctx, clientID, model)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CanAccessField reports whether the client may read the field. The
// essential columns are always readable; any other field must be named
// in the client's grant for the model.
func (p *Permissions) CanAccessField(ctx context.Context, clientID, model, field string) (bool, error) {
	if schema.Essential(field) {
		return true, nil
	}
	perm, err := p.perms.GetPermission(ctx, clientID, model)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return perm.AllowsField(field), nil
}

// PermittedFields returns the granted field set for (client, model),
// nil when no grant exists.
func (p *Permissions) PermittedFields(ctx context.Context, clientID, model string) ([]string, error) {
	perm, err := p.perms.GetPermission(ctx, clientID, model)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return perm.Fields, nil
}

// Grants lists every grant row held by the client.
func (p *Permissions) Grants(ctx context.Context, clientID string) ([]*models.Permission, error) {
	return p.perms.ListPermissions(ctx, clientID)
}

// Grant validates the field list against the schema registry and
// creates or replaces the grant row for (client, model).
func (p *Permissions) Grant(ctx context.Context, clientID, model string, fields []string) (*models.Permission, error) {
	cleaned, err := p.registry.ValidateGrant(model, fields)
	if err != nil {
		return nil, err
	}
	perm := &models.Permission{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Model:     model,
		Fields:    cleaned,
		CreatedAt: p.now().UTC(),
	}
	if err := p.perms.UpsertPermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("storing permission: %w", err)
	}
	return perm, nil
}
