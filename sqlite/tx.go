package sqlite

import (
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/kit/platform/errors"
	"github.com/jmoiron/sqlx"
)

// ErrNoTenantContext is returned by tenant-scoped writes issued before the
// transaction was bound to a tenant.
var ErrNoTenantContext = &errors.Error{
	Code: errors.EInternal,
	Msg:  "transaction has no tenant context",
}

// Tx is a transaction that can carry a tenant context. SQLite has no row-level
// security, so tenant-scoped storage functions read the tenant from the Tx and
// stamp it on every row they write.
type Tx struct {
	*sqlx.Tx

	tenantID platform.ID
}

// SetTenantContext binds the transaction to a tenant. It may be called once;
// rebinding to a different tenant is an error.
func (tx *Tx) SetTenantContext(id platform.ID) error {
	if !id.Valid() {
		return platform.ErrInvalidID
	}
	if tx.tenantID.Valid() && tx.tenantID != id {
		return &errors.Error{
			Code: errors.EInternal,
			Msg:  "transaction is already bound to tenant " + tx.tenantID.String(),
		}
	}
	tx.tenantID = id
	return nil
}

// TenantID returns the tenant the transaction is bound to.
func (tx *Tx) TenantID() (platform.ID, error) {
	if !tx.tenantID.Valid() {
		return 0, ErrNoTenantContext
	}
	return tx.tenantID, nil
}
