package gamecode

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolbot/internal/eventbus"
	logx "poolbot/pkg/logx"
)

type engineFixture struct {
	*Engine
	sender  *fakeSender
	bus     eventbus.Bus
	metrics *Metrics
	policy  map[int64]Policy
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		sender:  newFakeSender(),
		bus:     eventbus.New(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		policy:  map[int64]Policy{},
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.Engine = NewEngine(Options{
		Selector:   NewSelector(rand.NewPCG(1, 2)),
		Dispatcher: NewDispatcher(fastDispatch, f.sender, logx.Nop(), nil),
		Policy:     func(g int64) Policy { return f.policy[g] },
		Bus:        f.bus,
		Metrics:    f.metrics,
		Now:        func() time.Time { return clock },
	})
	return f
}

func named(id int64, name string, roles ...string) Member {
	return Member{ID: id, Name: name, Roles: roles}
}

func ids(ms []Member) []int64 {
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestEngineJoinWhileClosed(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	_, err := f.Join(1, named(10, "alice"))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Zero(t, f.Size(1))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Joins.WithLabelValues("closed")))
}

func TestEngineGuildsAreIndependent(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "A")
	_, err := f.Join(1, named(10, "alice"))
	require.NoError(t, err)

	_, err = f.Join(2, named(10, "alice"))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, 1, f.Size(1))
	assert.Zero(t, f.Size(2))
	assert.Equal(t, []int64{1, 2}, f.Registry().Guilds())
}

func TestEngineTriviaRound(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	st, changed := f.Open(1, "Trivia")
	assert.True(t, changed)
	assert.Equal(t, Open, st.State)
	assert.Equal(t, "Trivia", st.Title)

	for _, m := range []Member{named(1, "A"), named(2, "B"), named(3, "C")} {
		added, err := f.Join(1, m)
		require.NoError(t, err)
		assert.True(t, added)
	}

	res, err := f.Pick(context.Background(), 1, 2, "Code: 1234")
	require.NoError(t, err)

	assert.Len(t, res.Round.Selected, 2)
	assert.Equal(t, "Trivia", res.Round.Title)
	assert.Equal(t, 3, res.Round.PoolSize)
	assert.Equal(t, 2, res.Round.Requested)
	assert.Len(t, res.Report.Delivered, 2)
	assert.True(t, res.Report.OK())
	for _, m := range res.Round.Selected {
		assert.Equal(t, []string{"Code: 1234"}, f.sender.got(m.ID))
	}

	st = f.Status(1)
	assert.Equal(t, Closed, st.State)
	assert.Equal(t, []int64{1, 2, 3}, ids(st.Members), "membership is retained after a pick")
	assert.Equal(t, ids(res.Round.Selected), ids(st.Selected))
	assert.Equal(t, res.Round.ID, st.Round.ID)

	_, err = ulid.ParseStrict(res.Round.ID)
	assert.NoError(t, err)

	_, err = f.Join(1, named(4, "D"))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestEnginePickBounds(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "")
	for id := int64(1); id <= 3; id++ {
		_, err := f.Join(1, named(id, ""))
		require.NoError(t, err)
	}

	_, err := f.Pick(context.Background(), 1, 0, "x")
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = f.Pick(context.Background(), 1, -1, "x")
	assert.ErrorIs(t, err, ErrInvalidCount)
	assert.Equal(t, Open, f.Status(1).State, "invalid count changes nothing")

	res, err := f.Pick(context.Background(), 1, 10, "x")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(res.Round.Selected))
	assert.Equal(t, 3, res.Report.Attempted)
}

func TestEnginePickEmptyPool(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "Empty")

	_, err := f.Pick(context.Background(), 1, 3, "x")
	assert.ErrorIs(t, err, ErrEmptyPool)

	st := f.Status(1)
	assert.Equal(t, Open, st.State)
	assert.True(t, st.Round.IsZero())
	assert.Zero(t, f.sender.callCount())
}

func TestEngineExclusion(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.policy[1] = Policy{ExcludeSelected: true}
	f.Open(1, "")
	_, err := f.Join(1, named(7, "seven"))
	require.NoError(t, err)

	_, err = f.Pick(context.Background(), 1, 1, "x")
	require.NoError(t, err)
	f.ClearPool(1)
	f.Open(1, "")

	_, err = f.Join(1, named(7, "seven"))
	assert.ErrorIs(t, err, ErrRecentlySelected)
	assert.Equal(t, 1, f.Status(1).Excluded)

	assert.Equal(t, 1, f.ClearSelected(1))
	added, err := f.Join(1, named(7, "seven"))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestEngineExclusionAcrossRounds(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.policy[1] = Policy{ExcludeSelected: true}
	f.Open(1, "First")
	for _, m := range []Member{named(1, "A"), named(2, "B"), named(3, "C")} {
		_, err := f.Join(1, m)
		require.NoError(t, err)
	}

	first, err := f.Pick(context.Background(), 1, 1, "code-1")
	require.NoError(t, err)
	require.Len(t, first.Round.Selected, 1)
	winner := first.Round.Selected[0].ID

	f.Open(1, "Second")
	second, err := f.Pick(context.Background(), 1, 3, "code-2")
	require.NoError(t, err)
	assert.NotContains(t, ids(second.Round.Selected), winner)
	assert.Len(t, second.Round.Selected, 2)
	assert.Equal(t, 2, second.Round.PoolSize)
	assert.Equal(t, []string{"code-1"}, f.sender.got(winner))
	for _, m := range second.Round.Selected {
		assert.Equal(t, []string{"code-2"}, f.sender.got(m.ID))
	}
	assert.Equal(t, []int64{1, 2, 3}, ids(f.List(1)), "membership is retained")

	f.Open(1, "Third")
	_, err = f.Pick(context.Background(), 1, 1, "code-3")
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.Equal(t, ids(second.Round.Selected), ids(f.Status(1).Selected), "selection unchanged on error")

	f.ClearSelected(1)
	third, err := f.Pick(context.Background(), 1, 3, "code-3")
	require.NoError(t, err)
	assert.Len(t, third.Round.Selected, 3)
}

func TestEngineOpenUnchangedIsQuiet(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ch, unsub := f.bus.Subscribe(16, EventOpened)
	defer unsub()

	f.Open(1, "T")
	f.Open(1, "")
	f.Open(1, "T")
	f.Open(1, "U")

	var titles []string
	for len(titles) < 2 {
		select {
		case ev := <-ch:
			titles = append(titles, ev.Data.(PoolEvent).Title)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", titles)
		}
	}
	assert.Equal(t, []string{"T", "U"}, titles)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineNoExclusionByDefault(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "")
	_, err := f.Join(1, named(7, "seven"))
	require.NoError(t, err)
	_, err = f.Pick(context.Background(), 1, 1, "x")
	require.NoError(t, err)

	assert.Zero(t, f.Status(1).Excluded)
}

func TestEngineRoleIneligible(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.policy[1] = Policy{RequiredRoles: []string{"player"}}
	f.Open(1, "")

	_, err := f.Join(1, named(1, "a", "member"))
	assert.ErrorIs(t, err, ErrRoleIneligible)
	assert.Zero(t, f.Size(1))

	_, err = f.Join(1, named(2, "b", "Player"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Size(1))
}

func TestEngineResend(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	r, rep := f.Resend(context.Background(), 1, "nobody")
	assert.True(t, r.IsZero())
	assert.Zero(t, rep.Attempted)
	assert.Zero(t, f.sender.callCount())

	f.policy[1] = Policy{ExcludeSelected: true}
	f.Open(1, "")
	for id := int64(1); id <= 4; id++ {
		_, err := f.Join(1, named(id, ""))
		require.NoError(t, err)
	}
	res, err := f.Pick(context.Background(), 1, 2, "first")
	require.NoError(t, err)
	excluded := f.Status(1).Excluded

	r, rep = f.Resend(context.Background(), 1, "second")
	assert.Equal(t, res.Round.ID, r.ID)
	assert.Equal(t, ids(res.Round.Selected), ids(rep.Delivered))
	assert.Equal(t, excluded, f.Status(1).Excluded, "resend does not touch exclusions")
	for _, m := range res.Round.Selected {
		assert.Equal(t, []string{"first", "second"}, f.sender.got(m.ID))
	}
}

func TestEngineClearPoolKeepsState(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "T")
	_, _ = f.Join(1, named(1, ""))
	_, _ = f.Join(1, named(2, ""))

	assert.Equal(t, 2, f.ClearPool(1))
	st := f.Status(1)
	assert.Empty(t, st.Members)
	assert.Equal(t, Open, st.State)
	assert.Equal(t, "T", st.Title)
}

func TestEngineCloseIdempotent(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	_, changed := f.Close(1)
	assert.False(t, changed)

	f.Open(1, "")
	_, changed = f.Open(1, "")
	assert.False(t, changed)
	_, changed = f.Open(1, "again")
	assert.True(t, changed, "a new title is a change")
	_, changed = f.Open(1, "again")
	assert.False(t, changed)
	st, changed := f.Close(1)
	assert.True(t, changed)
	assert.Equal(t, "again", st.Title)
}

func TestEngineEvents(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ch, unsub := f.bus.Subscribe(16, "gamecode.")
	defer unsub()

	f.Open(1, "T")
	_, _ = f.Join(1, named(1, ""))
	_, err := f.Pick(context.Background(), 1, 1, "x")
	require.NoError(t, err)

	var types []string
	for len(types) < 3 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", types)
		}
	}
	assert.Equal(t, []string{EventOpened, EventPicked, EventDispatched}, types)
}

func TestEngineMetrics(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "")
	_, _ = f.Join(1, named(1, ""))
	_, _ = f.Join(1, named(1, ""))
	_, _ = f.Join(1, named(2, ""))
	_, err := f.Pick(context.Background(), 1, 5, "x")
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Joins.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Joins.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rounds))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Selected))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PoolMembers.WithLabelValues("1")))
}

func TestEngineConcurrentJoinAndPick(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.Open(1, "")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined = map[int64]bool{}
	)
	for id := int64(1); id <= 200; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := f.Join(1, named(id, ""))
			if err == nil && added {
				mu.Lock()
				joined[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Add(1)
	var res PickResult
	var pickErr error
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		res, pickErr = f.Pick(context.Background(), 1, 5, "x")
	}()
	wg.Wait()

	got := f.List(1)
	assert.Len(t, got, len(joined), "every accepted join is a member and nothing else is")
	for _, m := range got {
		assert.True(t, joined[m.ID])
	}
	if pickErr == nil {
		for _, m := range res.Round.Selected {
			assert.True(t, joined[m.ID], "selected members came from the pool")
		}
	} else {
		assert.ErrorIs(t, pickErr, ErrEmptyPool)
	}
}
