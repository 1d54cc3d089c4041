package gamecode

// ExclusionSet remembers members picked in earlier rounds. Entries never
// expire; only Clear removes them.
type ExclusionSet struct {
	ids map[int64]struct{}
}

func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{ids: map[int64]struct{}{}}
}

func (e *ExclusionSet) Record(members ...Member) {
	for _, m := range members {
		e.ids[m.ID] = struct{}{}
	}
}

func (e *ExclusionSet) Contains(id int64) bool {
	if e == nil {
		return false
	}
	_, ok := e.ids[id]
	return ok
}

func (e *ExclusionSet) Len() int { return len(e.ids) }

func (e *ExclusionSet) Clear() int {
	n := len(e.ids)
	e.ids = map[int64]struct{}{}
	return n
}

// Without returns the members not in the set, keeping their order.
func (e *ExclusionSet) Without(members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if !e.Contains(m.ID) {
			out = append(out, m)
		}
	}
	return out
}
