package onboarding

import (
	"time"

	"github.com/influxdata/onboarding/kit/platform"
)

// User is a member of a tenant bound to an identity provider identity.
type User struct {
	ID            platform.ID `db:"id" json:"id"`
	TenantID      platform.ID `db:"tenant_id" json:"tenantId"`
	ExternalID    string      `db:"external_id" json:"externalId"`
	Email         string      `db:"email" json:"email"`
	Name          string      `db:"name" json:"name"`
	IsTenantAdmin bool        `db:"is_tenant_admin" json:"isTenantAdmin"`
	IsVerified    bool        `db:"is_verified" json:"isVerified"`
	Preferences   JSONMap     `db:"preferences" json:"preferences,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
}

// Role is a snapshot of a permission set.
type Role struct {
	ID          platform.ID `db:"id" json:"id"`
	TenantID    platform.ID `db:"tenant_id" json:"tenantId"`
	Name        string      `db:"name" json:"name"`
	Permissions StringList  `db:"permissions" json:"permissions"`
	IsSystem    bool        `db:"is_system" json:"isSystem"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
}

// SuperAdminRoleName names the single system role every tenant receives at onboarding.
const SuperAdminRoleName = "Super Administrator"

// RoleAssignment binds a role to a user within an organization.
type RoleAssignment struct {
	ID             platform.ID `db:"id" json:"id"`
	TenantID       platform.ID `db:"tenant_id" json:"tenantId"`
	UserID         platform.ID `db:"user_id" json:"userId"`
	RoleID         platform.ID `db:"role_id" json:"roleId"`
	OrganizationID platform.ID `db:"organization_id" json:"organizationId"`
	AssignedAt     time.Time   `db:"assigned_at" json:"assignedAt"`
}
