package gamecode

import "strings"

// Member is a participant. Roles are only consulted at join time; the pool
// keeps ID and Name.
type Member struct {
	ID    int64
	Name  string
	Roles []string
}

func (m Member) withoutRoles() Member {
	return Member{ID: m.ID, Name: m.Name}
}

// Policy is the guild configuration the engine enforces on join and pick.
type Policy struct {
	// RequiredRoles, when non-empty, must intersect the joining member's roles.
	// Matching ignores case and surrounding space.
	RequiredRoles   []string
	ExcludeSelected bool
}

// admit checks role eligibility.
func (p Policy) admit(m Member) error {
	if len(p.RequiredRoles) == 0 {
		return nil
	}
	for _, want := range p.RequiredRoles {
		w := normalizeRole(want)
		if w == "" {
			continue
		}
		for _, have := range m.Roles {
			if normalizeRole(have) == w {
				return nil
			}
		}
	}
	return &RoleError{Required: append([]string(nil), p.RequiredRoles...)}
}

func normalizeRole(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PolicyFunc resolves the current policy for a guild. It is called on every
// join and pick so configuration reloads apply to the next operation.
type PolicyFunc func(guild int64) Policy
