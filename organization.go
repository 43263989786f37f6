package onboarding

import (
	"time"

	"github.com/influxdata/onboarding/kit/platform"
)

// Organization is a node of a tenant's entity hierarchy.
// The root of the tree has no parent, sits at EntityLevel 1 and its
// HierarchyPath is "/<own id>".
type Organization struct {
	ID            platform.ID  `db:"id" json:"id"`
	TenantID      platform.ID  `db:"tenant_id" json:"tenantId"`
	Name          string       `db:"name" json:"name"`
	ParentID      *platform.ID `db:"parent_id" json:"parentEntityId"`
	EntityLevel   int          `db:"entity_level" json:"entityLevel"`
	HierarchyPath string       `db:"hierarchy_path" json:"hierarchyPath"`
	CreatedBy     *platform.ID `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy     *platform.ID `db:"updated_by" json:"updatedBy,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
}

// RootEntityLevel is the hierarchy level of a tenant's root organization.
const RootEntityLevel = 1

// RootHierarchyPath is the self-referential path of a root organization.
func RootHierarchyPath(id platform.ID) string {
	return "/" + id.String()
}

// IsRoot reports whether o has the shape of a root organization.
func (o *Organization) IsRoot() bool {
	return o.ParentID == nil &&
		o.EntityLevel == RootEntityLevel &&
		o.HierarchyPath == RootHierarchyPath(o.ID)
}

// OrganizationMembership asserts a user's access to an organization.
type OrganizationMembership struct {
	ID             platform.ID `db:"id" json:"id"`
	TenantID       platform.ID `db:"tenant_id" json:"tenantId"`
	UserID         platform.ID `db:"user_id" json:"userId"`
	OrganizationID platform.ID `db:"organization_id" json:"organizationId"`
	IsPrimary      bool        `db:"is_primary" json:"isPrimary"`
	AccessScope    string      `db:"access_scope" json:"accessScope"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// ResponsiblePerson binds the accountable user of an organization.
type ResponsiblePerson struct {
	ID             platform.ID `db:"id" json:"id"`
	TenantID       platform.ID `db:"tenant_id" json:"tenantId"`
	OrganizationID platform.ID `db:"organization_id" json:"organizationId"`
	UserID         platform.ID `db:"user_id" json:"userId"`
	Responsibility string      `db:"responsibility" json:"responsibility"`
	Scope          string      `db:"scope" json:"scope"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

const (
	AccessScopeFull        = "full"
	ResponsibilityOwner    = "owner"
	ResponsibilityScopeAll = "full"
)
