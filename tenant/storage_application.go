package tenant

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/sqlite"
)

// FindApplicationByCode returns the registry entry for code.
func (s *Store) FindApplicationByCode(ctx context.Context, tx *sqlite.Tx, code string) (*onboarding.Application, error) {
	var a onboarding.Application
	if err := get(ctx, tx, &a, sq.Select("*").From("applications").Where(sq.Eq{"code": code})); err != nil {
		if sqlite.IsNotFound(err) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListApplicationModules returns the module codes registered for an application.
func (s *Store) ListApplicationModules(ctx context.Context, tx *sqlite.Tx, appID platform.ID) ([]string, error) {
	mods := []string{}
	err := selectAll(ctx, tx, &mods, sq.Select("code").
		From("application_modules").
		Where(sq.Eq{"application_id": appID}).
		OrderBy("code"))
	if err != nil {
		return nil, err
	}
	return mods, nil
}

// UpsertApplication registers app and its modules. Existing rows keep their ids.
func (s *Store) UpsertApplication(ctx context.Context, tx *sqlite.Tx, app *onboarding.Application, modules []onboarding.ApplicationModule) error {
	existing, err := s.FindApplicationByCode(ctx, tx, app.Code)
	switch {
	case err == nil:
		app.ID = existing.ID
		app.CreatedAt = existing.CreatedAt
		if _, err := exec(ctx, tx, sq.Update("applications").
			Set("name", app.Name).
			Set("is_active", app.IsActive).
			Where(sq.Eq{"id": app.ID})); err != nil {
			return err
		}
	case err == ErrApplicationNotFound:
		app.ID = s.newID()
		app.CreatedAt = s.now()
		if _, err := exec(ctx, tx, sq.Insert("applications").
			Columns("id", "code", "name", "is_active", "created_at").
			Values(app.ID, app.Code, app.Name, app.IsActive, app.CreatedAt)); err != nil {
			return err
		}
	default:
		return err
	}

	for i := range modules {
		m := &modules[i]
		m.ApplicationID = app.ID
		_, err := exec(ctx, tx, sq.Insert("application_modules").
			Columns("id", "application_id", "code", "name").
			Values(s.newID(), m.ApplicationID, m.Code, m.Name).
			Suffix("ON CONFLICT (application_id, code) DO UPDATE SET name = excluded.name"))
		if err != nil {
			return err
		}
	}
	return nil
}

const entitlementColumns = "tenant_applications.*, applications.code AS app_code"

func entitlementQuery() sq.SelectBuilder {
	return sq.Select(entitlementColumns).
		From("tenant_applications").
		Join("applications ON applications.id = tenant_applications.application_id")
}

// FindEntitlement returns the tenant's oldest entitlement for an application, or nil when absent.
func (s *Store) FindEntitlement(ctx context.Context, tx *sqlite.Tx, tenantID, appID platform.ID) (*onboarding.Entitlement, error) {
	var e onboarding.Entitlement
	err := get(ctx, tx, &e, entitlementQuery().
		Where(sq.Eq{"tenant_applications.tenant_id": tenantID, "tenant_applications.application_id": appID}).
		OrderBy("tenant_applications.id").
		Limit(1))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// CreateEntitlement inserts e for the tenant bound to tx.
func (s *Store) CreateEntitlement(ctx context.Context, tx *sqlite.Tx, e *onboarding.Entitlement) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	e.ID = s.newID()
	e.TenantID = tenantID
	e.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("tenant_applications").
		Columns("id", "tenant_id", "application_id", "subscription_tier", "enabled_modules", "is_enabled", "expires_at", "created_at").
		Values(e.ID, e.TenantID, e.ApplicationID, e.SubscriptionTier, e.EnabledModules, e.IsEnabled, e.ExpiresAt, e.CreatedAt))
	return err
}

// ListEntitlements returns every entitlement row of the tenant.
func (s *Store) ListEntitlements(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID) ([]*onboarding.Entitlement, error) {
	ents := []*onboarding.Entitlement{}
	err := selectAll(ctx, tx, &ents, entitlementQuery().
		Where(sq.Eq{"tenant_applications.tenant_id": tenantID}).
		OrderBy("applications.code", "tenant_applications.id"))
	if err != nil {
		return nil, err
	}
	return ents, nil
}

// CleanupDuplicateEntitlements keeps the oldest entitlement per (tenant, application)
// of the tenant bound to tx and deletes the rest. It returns the number of rows removed.
func (s *Store) CleanupDuplicateEntitlements(ctx context.Context, tx *sqlite.Tx) (int64, error) {
	tenantID, err := tx.TenantID()
	if err != nil {
		return 0, err
	}
	keep := sq.Select("MIN(id)").
		From("tenant_applications").
		Where(sq.Eq{"tenant_id": tenantID}).
		GroupBy("application_id")
	keepSQL, keepArgs, err := keep.ToSql()
	if err != nil {
		return 0, err
	}

	res, err := exec(ctx, tx, sq.Delete("tenant_applications").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where("id NOT IN ("+keepSQL+")", keepArgs...))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
