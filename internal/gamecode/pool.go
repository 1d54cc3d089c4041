package gamecode

// State is the admission state of a pool.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Pool is one guild's membership and admission state. It is not safe for
// concurrent use; the registry serializes access per guild.
type Pool struct {
	state State
	title string
	order []int64
	byID  map[int64]Member
}

func NewPool() *Pool {
	return &Pool{byID: map[int64]Member{}}
}

func (p *Pool) State() State  { return p.state }
func (p *Pool) Title() string { return p.title }
func (p *Pool) Size() int     { return len(p.order) }

// Open accepts joins again. A non-empty title replaces the round title,
// an empty one keeps it. It reports whether the pool was already open.
func (p *Pool) Open(title string) bool {
	was := p.state == Open
	p.state = Open
	if title != "" {
		p.title = title
	}
	return was
}

// Close stops accepting joins and reports whether the pool was open.
func (p *Pool) Close() bool {
	was := p.state == Open
	p.state = Closed
	return was
}

// Join adds m if the pool is open and m passes policy. Joining twice is not
// an error; added reports whether m was new.
func (p *Pool) Join(m Member, pol Policy, excluded *ExclusionSet) (added bool, err error) {
	if p.state != Open {
		return false, ErrPoolClosed
	}
	if err := pol.admit(m); err != nil {
		return false, err
	}
	if pol.ExcludeSelected && excluded.Contains(m.ID) {
		return false, ErrRecentlySelected
	}
	if _, ok := p.byID[m.ID]; ok {
		return false, nil
	}
	p.byID[m.ID] = m.withoutRoles()
	p.order = append(p.order, m.ID)
	return true, nil
}

// Leave removes id if present. Leaving twice is not an error.
func (p *Pool) Leave(id int64) (removed bool, err error) {
	if p.state != Open {
		return false, ErrPoolClosed
	}
	if _, ok := p.byID[id]; !ok {
		return false, nil
	}
	delete(p.byID, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (p *Pool) Contains(id int64) bool {
	_, ok := p.byID[id]
	return ok
}

// Members returns a copy in join order.
func (p *Pool) Members() []Member {
	out := make([]Member, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// Clear empties the membership regardless of state and returns how many
// members were removed.
func (p *Pool) Clear() int {
	n := len(p.order)
	p.order = nil
	p.byID = map[int64]Member{}
	return n
}
