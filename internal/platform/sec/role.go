// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

// # User Roles

// UserRole represents the side of the marketplace an account belongs to.
type UserRole string

const (
	// Hires designers and owns projects
	RoleClient UserRole = "client"

	// Publishes a portfolio and works on client projects
	RoleDesigner UserRole = "designer"
)

// Roles lists every role accepted at signup.
var Roles = []string{string(RoleClient), string(RoleDesigner)}

// Valid reports whether r is one of the known marketplace roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleClient, RoleDesigner:
		return true
	default:
		return false
	}
}
