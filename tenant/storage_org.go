package tenant

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/sqlite"
)

// CreateRootOrganization inserts the root of the tenant's entity hierarchy.
// Ownership is back-filled by SetOrganizationOwner once the admin user exists.
func (s *Store) CreateRootOrganization(ctx context.Context, tx *sqlite.Tx, org *onboarding.Organization) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	if !org.ID.Valid() {
		org.ID = s.newID()
	}
	org.TenantID = tenantID
	org.ParentID = nil
	org.EntityLevel = onboarding.RootEntityLevel
	org.HierarchyPath = onboarding.RootHierarchyPath(org.ID)
	org.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("organizations").
		Columns("id", "tenant_id", "name", "parent_id", "entity_level", "hierarchy_path", "created_by", "updated_by", "created_at").
		Values(org.ID, org.TenantID, org.Name, nil, org.EntityLevel, org.HierarchyPath, org.CreatedBy, org.UpdatedBy, org.CreatedAt))
	return err
}

// SetOrganizationOwner back-fills the ownership fields of an organization.
func (s *Store) SetOrganizationOwner(ctx context.Context, tx *sqlite.Tx, orgID, userID platform.ID) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	res, err := exec(ctx, tx, sq.Update("organizations").
		Set("created_by", userID).
		Set("updated_by", userID).
		Where(sq.Eq{"id": orgID, "tenant_id": tenantID}))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrOrganizationNotFound
	}
	return nil
}

// ListRootOrganizations returns every organization of the tenant without a parent.
func (s *Store) ListRootOrganizations(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID) ([]*onboarding.Organization, error) {
	orgs := []*onboarding.Organization{}
	err := selectAll(ctx, tx, &orgs, sq.Select("*").
		From("organizations").
		Where(sq.Eq{"tenant_id": tenantID, "parent_id": nil}).
		OrderBy("id"))
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

// GetRootOrganization returns the oldest root organization of the tenant.
func (s *Store) GetRootOrganization(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID) (*onboarding.Organization, error) {
	orgs, err := s.ListRootOrganizations(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, ErrOrganizationNotFound
	}
	return orgs[0], nil
}

// CreateMembership inserts m for the tenant bound to tx.
func (s *Store) CreateMembership(ctx context.Context, tx *sqlite.Tx, m *onboarding.OrganizationMembership) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	m.ID = s.newID()
	m.TenantID = tenantID
	m.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("organization_memberships").
		Columns("id", "tenant_id", "user_id", "organization_id", "is_primary", "access_scope", "created_at").
		Values(m.ID, m.TenantID, m.UserID, m.OrganizationID, m.IsPrimary, m.AccessScope, m.CreatedAt))
	return err
}

// FindMembership returns the membership of user in org, or nil when absent.
func (s *Store) FindMembership(ctx context.Context, tx *sqlite.Tx, tenantID, userID, orgID platform.ID) (*onboarding.OrganizationMembership, error) {
	var m onboarding.OrganizationMembership
	err := get(ctx, tx, &m, sq.Select("*").
		From("organization_memberships").
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID, "organization_id": orgID}).
		Limit(1))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// CreateResponsiblePerson inserts p for the tenant bound to tx.
func (s *Store) CreateResponsiblePerson(ctx context.Context, tx *sqlite.Tx, p *onboarding.ResponsiblePerson) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	p.ID = s.newID()
	p.TenantID = tenantID
	p.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("responsible_persons").
		Columns("id", "tenant_id", "organization_id", "user_id", "responsibility", "scope", "created_at").
		Values(p.ID, p.TenantID, p.OrganizationID, p.UserID, p.Responsibility, p.Scope, p.CreatedAt))
	return err
}

// FindResponsiblePerson returns the owner binding of user for org, or nil when absent.
func (s *Store) FindResponsiblePerson(ctx context.Context, tx *sqlite.Tx, tenantID, userID, orgID platform.ID) (*onboarding.ResponsiblePerson, error) {
	var p onboarding.ResponsiblePerson
	err := get(ctx, tx, &p, sq.Select("*").
		From("responsible_persons").
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID, "organization_id": orgID}).
		Limit(1))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
