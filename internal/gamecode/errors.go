package gamecode

import (
	"errors"
	"strings"
)

var (
	ErrPoolClosed       = errors.New("pool is closed")
	ErrRoleIneligible   = errors.New("missing required role")
	ErrRecentlySelected = errors.New("already selected in a previous round")
	ErrInvalidCount     = errors.New("count must be a positive integer")
	ErrEmptyPool        = errors.New("pool is empty")
	ErrDeliveryTimeout  = errors.New("delivery timed out")
)

// RoleError is returned by join when the member holds none of the roles the
// guild requires. It matches ErrRoleIneligible with errors.Is.
type RoleError struct {
	Required []string
}

func (e *RoleError) Reason() string {
	if len(e.Required) == 1 {
		return "requires the " + e.Required[0] + " role"
	}
	return "requires one of: " + strings.Join(e.Required, ", ")
}

func (e *RoleError) Error() string { return ErrRoleIneligible.Error() + ": " + e.Reason() }

func (e *RoleError) Is(target error) bool { return target == ErrRoleIneligible }
