package gamecode

import (
	"slices"
	"sync"
	"time"
)

// guildState is everything the engine keeps for one guild.
type guildState struct {
	mu       sync.RWMutex
	pool     *Pool
	excluded *ExclusionSet
	batch    []Member
	round    Round
}

func newGuildState() *guildState {
	return &guildState{pool: NewPool(), excluded: NewExclusionSet()}
}

// Registry hands out per-guild state, creating it on first use. Entries are
// never removed.
type Registry struct {
	mu     sync.Mutex
	guilds map[int64]*guildState
}

func NewRegistry() *Registry {
	return &Registry{guilds: map[int64]*guildState{}}
}

func (r *Registry) get(guild int64) *guildState {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guilds[guild]
	if !ok {
		g = newGuildState()
		r.guilds[guild] = g
	}
	return g
}

// Guilds lists every guild that has state, sorted.
func (r *Registry) Guilds() []int64 {
	r.mu.Lock()
	out := make([]int64, 0, len(r.guilds))
	for id := range r.guilds {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// Status is a consistent copy of one guild's state.
type Status struct {
	Guild    int64
	State    State
	Title    string
	Members  []Member
	Selected []Member
	Excluded int
	Round    Round
}

func (g *guildState) status(guild int64) Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		Guild:    guild,
		State:    g.pool.State(),
		Title:    g.pool.Title(),
		Members:  g.pool.Members(),
		Selected: slices.Clone(g.batch),
		Excluded: g.excluded.Len(),
		Round:    g.round,
	}
}

// Round describes one pick.
type Round struct {
	ID        string
	Guild     int64
	Title     string
	PoolSize  int
	Requested int
	Selected  []Member
	At        time.Time
}

func (r Round) IsZero() bool { return r.ID == "" }
