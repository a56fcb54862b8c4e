// Package directory resolves products, branches and users for the order
// engine. It is a read-only view over the master data owned elsewhere;
// catalog prices returned here are authoritative.
package directory

import (
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Product describes a catalog product.
type Product struct {
	ID           int64
	Name         shared.Text
	Unit         shared.Text
	Price        float64
	DepartmentID int64
}

// Branch describes a requesting branch.
type Branch struct {
	ID   int64
	Name shared.Text
}

// User describes a directory user with role and branch membership.
type User struct {
	ID       int64
	Username string
	Name     shared.Text
	Role     shared.Role
	BranchID int64
}

// IsChef reports whether the user can receive production tasks.
func (u User) IsChef() bool { return u.Role == shared.RoleChef }
