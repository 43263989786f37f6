package tenant

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/sqlite"
)

// CreateUser inserts u for the tenant bound to tx.
func (s *Store) CreateUser(ctx context.Context, tx *sqlite.Tx, u *onboarding.User) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	if !u.ID.Valid() {
		u.ID = s.newID()
	}
	u.TenantID = tenantID
	u.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("users").
		Columns("id", "tenant_id", "external_id", "email", "name", "is_tenant_admin", "is_verified", "preferences", "created_at").
		Values(u.ID, u.TenantID, u.ExternalID, u.Email, u.Name, u.IsTenantAdmin, u.IsVerified, u.Preferences, u.CreatedAt))
	return err
}

// FindUserByExternalID returns the tenant's user bound to externalID.
func (s *Store) FindUserByExternalID(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, externalID string) (*onboarding.User, error) {
	var u onboarding.User
	err := get(ctx, tx, &u, sq.Select("*").
		From("users").
		Where(sq.Eq{"tenant_id": tenantID, "external_id": externalID}))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateRole inserts r for the tenant bound to tx.
func (s *Store) CreateRole(ctx context.Context, tx *sqlite.Tx, r *onboarding.Role) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	r.ID = s.newID()
	r.TenantID = tenantID
	r.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("roles").
		Columns("id", "tenant_id", "name", "permissions", "is_system", "created_at").
		Values(r.ID, r.TenantID, r.Name, r.Permissions, r.IsSystem, r.CreatedAt))
	return err
}

// FindRoleByName returns the tenant's role called name.
func (s *Store) FindRoleByName(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, name string) (*onboarding.Role, error) {
	var r onboarding.Role
	err := get(ctx, tx, &r, sq.Select("*").
		From("roles").
		Where(sq.Eq{"tenant_id": tenantID, "name": name}).
		OrderBy("id").
		Limit(1))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return &r, nil
}

// CountRoles returns the number of roles called name in the tenant.
func (s *Store) CountRoles(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, name string) (int, error) {
	var n int
	err := get(ctx, tx, &n, sq.Select("COUNT(*)").
		From("roles").
		Where(sq.Eq{"tenant_id": tenantID, "name": name}))
	return n, err
}

// CreateRoleAssignment inserts a for the tenant bound to tx.
func (s *Store) CreateRoleAssignment(ctx context.Context, tx *sqlite.Tx, a *onboarding.RoleAssignment) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	a.ID = s.newID()
	a.TenantID = tenantID
	a.AssignedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("role_assignments").
		Columns("id", "tenant_id", "user_id", "role_id", "organization_id", "assigned_at").
		Values(a.ID, a.TenantID, a.UserID, a.RoleID, a.OrganizationID, a.AssignedAt))
	return err
}

// FindRoleAssignment returns the assignment of role to user in org, or nil when absent.
func (s *Store) FindRoleAssignment(ctx context.Context, tx *sqlite.Tx, tenantID, userID, roleID, orgID platform.ID) (*onboarding.RoleAssignment, error) {
	var a onboarding.RoleAssignment
	err := get(ctx, tx, &a, sq.Select("*").
		From("role_assignments").
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID, "role_id": roleID, "organization_id": orgID}).
		Limit(1))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
