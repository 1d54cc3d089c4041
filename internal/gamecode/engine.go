package gamecode

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"poolbot/internal/eventbus"
	logx "poolbot/pkg/logx"
)

type Options struct {
	Registry   *Registry
	Selector   *Selector
	Dispatcher *Dispatcher
	Policy     PolicyFunc
	Bus        eventbus.Bus
	Metrics    *Metrics
	Logger     logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the operation surface over all guilds.
type Engine struct {
	reg     *Registry
	sel     *Selector
	disp    *Dispatcher
	policy  PolicyFunc
	bus     eventbus.Bus
	metrics *Metrics
	log     logx.Logger
	now     func() time.Time

	idMu    sync.Mutex
	entropy io.Reader
}

// NewEngine fills unset options with defaults. Dispatcher is required for
// Pick and Resend.
func NewEngine(opt Options) *Engine {
	e := &Engine{
		reg:     opt.Registry,
		sel:     opt.Selector,
		disp:    opt.Dispatcher,
		policy:  opt.Policy,
		bus:     opt.Bus,
		metrics: opt.Metrics,
		log:     opt.Logger,
		now:     opt.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if e.reg == nil {
		e.reg = NewRegistry()
	}
	if e.sel == nil {
		e.sel = NewSelector(nil)
	}
	if e.policy == nil {
		e.policy = func(int64) Policy { return Policy{} }
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}

func (e *Engine) newRoundID(at time.Time) string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), e.entropy).String()
}

// Join adds m to the guild's pool. added is false when m was already in it.
func (e *Engine) Join(guild int64, m Member) (added bool, err error) {
	pol := e.policy(guild)
	g := e.reg.get(guild)

	g.mu.Lock()
	added, err = g.pool.Join(m, pol, g.excluded)
	size := g.pool.Size()
	g.mu.Unlock()

	e.metrics.observeJoin(joinResult(added, err))
	if added {
		e.metrics.setPoolSize(guild, size)
	}
	return added, err
}

// Leave removes a member from the guild's pool.
func (e *Engine) Leave(guild, memberID int64) (removed bool, err error) {
	g := e.reg.get(guild)

	g.mu.Lock()
	removed, err = g.pool.Leave(memberID)
	size := g.pool.Size()
	g.mu.Unlock()

	if removed {
		e.metrics.setPoolSize(guild, size)
	}
	return removed, err
}

// Open starts accepting joins. An empty title keeps the previous one.
// changed is false if the pool was already open under the same title.
func (e *Engine) Open(guild int64, title string) (st Status, changed bool) {
	g := e.reg.get(guild)
	g.mu.Lock()
	prev := g.pool.Title()
	wasOpen := g.pool.Open(title)
	changed = !wasOpen || g.pool.Title() != prev
	g.mu.Unlock()

	st = g.status(guild)
	if changed {
		e.publish(EventOpened, PoolEvent{Guild: guild, Title: st.Title, Members: len(st.Members)})
		e.log.Info("pool opened", logx.Int64("guild", guild), logx.String("title", st.Title), logx.Bool("reopened", !wasOpen))
	}
	return st, changed
}

// Close stops accepting joins. changed is false if the pool was already
// closed.
func (e *Engine) Close(guild int64) (st Status, changed bool) {
	g := e.reg.get(guild)
	g.mu.Lock()
	changed = g.pool.Close()
	g.mu.Unlock()

	st = g.status(guild)
	if changed {
		e.publish(EventClosed, PoolEvent{Guild: guild, Title: st.Title, Members: len(st.Members)})
		e.log.Info("pool closed", logx.Int64("guild", guild), logx.Int("members", len(st.Members)))
	}
	return st, changed
}

// Draw selects up to count members, closes the pool, replaces the guild's
// selection and records exclusions when the guild policy asks for it.
// With exclusion on, members picked in earlier rounds are not candidates,
// and ErrEmptyPool is returned when nobody else is left. Membership is
// left intact. Nothing changes on error.
func (e *Engine) Draw(guild int64, count int) (Round, error) {
	if count <= 0 {
		return Round{}, ErrInvalidCount
	}
	pol := e.policy(guild)
	g := e.reg.get(guild)

	g.mu.Lock()
	members := g.pool.Members()
	if pol.ExcludeSelected {
		members = g.excluded.Without(members)
	}
	if len(members) == 0 {
		g.mu.Unlock()
		return Round{}, ErrEmptyPool
	}
	picked := e.sel.Sample(members, count)
	g.pool.Close()
	if pol.ExcludeSelected {
		g.excluded.Record(picked...)
	}
	at := e.now()
	r := Round{
		ID:        e.newRoundID(at),
		Guild:     guild,
		Title:     g.pool.Title(),
		PoolSize:  len(members),
		Requested: count,
		Selected:  picked,
		At:        at,
	}
	g.batch = picked
	g.round = r
	g.mu.Unlock()

	e.metrics.observeRound(len(picked))
	e.publish(EventPicked, r)
	e.log.Info("round drawn",
		logx.Int64("guild", guild),
		logx.String("round", r.ID),
		logx.Int("pool", r.PoolSize),
		logx.Int("requested", count),
		logx.Int("selected", len(picked)),
	)
	return r, nil
}

type PickResult struct {
	Round  Round
	Report Report
}

// Pick draws and then messages every selected member.
func (e *Engine) Pick(ctx context.Context, guild int64, count int, message string) (PickResult, error) {
	r, err := e.Draw(guild, count)
	if err != nil {
		return PickResult{}, err
	}
	rep := e.dispatch(ctx, r, false, message)
	return PickResult{Round: r, Report: rep}, nil
}

// Resend messages the guild's last selection again without drawing. With no
// earlier pick it returns an empty report.
func (e *Engine) Resend(ctx context.Context, guild int64, message string) (Round, Report) {
	g := e.reg.get(guild)
	g.mu.RLock()
	r := g.round
	r.Selected = append([]Member(nil), g.batch...)
	g.mu.RUnlock()

	if len(r.Selected) == 0 {
		return r, Report{}
	}
	return r, e.dispatch(ctx, r, true, message)
}

func (e *Engine) dispatch(ctx context.Context, r Round, resend bool, message string) Report {
	rep := e.disp.Dispatch(ctx, r.Selected, message)
	ev := DispatchEvent{
		Guild:     r.Guild,
		RoundID:   r.ID,
		Resend:    resend,
		Attempted: rep.Attempted,
		Delivered: len(rep.Delivered),
		Permanent: rep.Count(FailurePermanent),
		Transient: rep.Count(FailureTransient),
	}
	e.publish(EventDispatched, ev)

	fields := []logx.Field{
		logx.Int64("guild", r.Guild),
		logx.String("round", r.ID),
		logx.Bool("resend", resend),
		logx.Int("delivered", ev.Delivered),
		logx.Int("permanent", ev.Permanent),
		logx.Int("transient", ev.Transient),
		logx.Duration("took", rep.Took),
	}
	if rep.OK() {
		e.log.Info("round dispatched", fields...)
	} else {
		e.log.Warn("round dispatched with failures", fields...)
	}
	return rep
}

// List returns the guild's members in join order.
func (e *Engine) List(guild int64) []Member {
	g := e.reg.get(guild)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pool.Members()
}

func (e *Engine) Size(guild int64) int {
	g := e.reg.get(guild)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pool.Size()
}

func (e *Engine) Status(guild int64) Status {
	return e.reg.get(guild).status(guild)
}

// Selection returns a copy of the guild's last pick.
func (e *Engine) Selection(guild int64) []Member {
	g := e.reg.get(guild)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Member(nil), g.batch...)
}

// ClearPool empties the membership in any state and returns how many
// members were removed.
func (e *Engine) ClearPool(guild int64) int {
	g := e.reg.get(guild)
	g.mu.Lock()
	n := g.pool.Clear()
	g.mu.Unlock()

	e.metrics.setPoolSize(guild, 0)
	e.publish(EventCleared, PoolEvent{Guild: guild, What: "pool", Removed: n})
	return n
}

// ClearSelected forgets every previously selected member.
func (e *Engine) ClearSelected(guild int64) int {
	g := e.reg.get(guild)
	g.mu.Lock()
	n := g.excluded.Clear()
	g.mu.Unlock()

	e.publish(EventCleared, PoolEvent{Guild: guild, What: "selected", Removed: n})
	return n
}
