package domain

import (
	"fmt"
	"strings"
)

// Role gates which portal a user may sign in to.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleFarmer   Role = "FARMER"
	RoleCustomer Role = "CUSTOMER"
)

// ParseRole accepts any casing of a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFarmer, RoleCustomer:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
