package gamecode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "poolbot/internal/transport"
	logx "poolbot/pkg/logx"
)

// fakeSender records deliveries and fails for configured users.
type fakeSender struct {
	mu       sync.Mutex
	received map[int64][]string
	fail     map[int64]error
	calls    int
}

func newFakeSender() *fakeSender {
	return &fakeSender{received: map[int64][]string{}, fail: map[int64]error{}}
}

func (s *fakeSender) SendPrivate(_ context.Context, userID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.fail[userID]; err != nil {
		return err
	}
	s.received[userID] = append(s.received[userID], text)
	return nil
}

func (s *fakeSender) got(userID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received[userID]...)
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var fastDispatch = DispatchConfig{Workers: 4, RatePerSec: 1000, Burst: 100, SendTimeout: time.Second}

func unreachable(id int64) error {
	return fmt.Errorf("send to %d: %w", id, kit.ErrRecipientUnreachable)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	s := newFakeSender()
	s.fail[2] = unreachable(2)
	d := NewDispatcher(fastDispatch, s, logx.Nop(), nil)

	rep := d.Dispatch(context.Background(), members(1, 2, 3), "code 42")

	assert.Equal(t, 3, rep.Attempted)
	assert.Equal(t, members(1, 3), rep.Delivered)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, int64(2), rep.Failures[0].Member.ID)
	assert.Equal(t, FailurePermanent, rep.Failures[0].Kind)
	assert.ErrorIs(t, rep.Failures[0].Err, kit.ErrRecipientUnreachable)
	assert.False(t, rep.OK())

	assert.Equal(t, []string{"code 42"}, s.got(1))
	assert.Empty(t, s.got(2))
	assert.Equal(t, []string{"code 42"}, s.got(3))
}

func TestDispatchReportsEveryFailure(t *testing.T) {
	t.Parallel()

	s := newFakeSender()
	all := members(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	for _, m := range all {
		if m.ID%2 == 0 {
			s.fail[m.ID] = errors.New("flood wait")
		}
	}
	d := NewDispatcher(fastDispatch, s, logx.Nop(), nil)

	rep := d.Dispatch(context.Background(), all, "hi")

	assert.Equal(t, 10, rep.Attempted)
	assert.Len(t, rep.Delivered, 5)
	assert.Len(t, rep.Failures, 5)
	assert.Equal(t, 5, rep.Count(FailureTransient))
	assert.Zero(t, rep.Count(FailurePermanent))
	for i, f := range rep.Failures {
		assert.Equal(t, int64(2*(i+1)), f.Member.ID, "failures keep recipient order")
	}
	assert.Equal(t, 10, s.callCount(), "no retries")
}

func TestDispatchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// This sender ignores ctx entirely.
	stuck := SenderFunc(func(_ context.Context, userID int64, _ string) error {
		if userID == 1 {
			<-release
		}
		return nil
	})
	cfg := fastDispatch
	cfg.SendTimeout = 30 * time.Millisecond
	d := NewDispatcher(cfg, stuck, logx.Nop(), nil)

	start := time.Now()
	rep := d.Dispatch(context.Background(), members(1, 2), "x")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, members(2), rep.Delivered)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, FailureTransient, rep.Failures[0].Kind)
	assert.ErrorIs(t, rep.Failures[0].Err, ErrDeliveryTimeout)
	assert.ErrorIs(t, rep.Failures[0].Err, context.DeadlineExceeded)
}

func TestDispatchCancelledContext(t *testing.T) {
	t.Parallel()

	s := newFakeSender()
	d := NewDispatcher(fastDispatch, s, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := d.Dispatch(ctx, members(1, 2, 3), "x")

	assert.Empty(t, rep.Delivered)
	require.Len(t, rep.Failures, 3)
	for _, f := range rep.Failures {
		assert.Equal(t, FailureTransient, f.Kind)
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
	assert.Zero(t, s.callCount())
}

func TestDispatchEmpty(t *testing.T) {
	t.Parallel()

	s := newFakeSender()
	rep := NewDispatcher(fastDispatch, s, logx.Nop(), nil).Dispatch(context.Background(), nil, "x")
	assert.Zero(t, rep.Attempted)
	assert.True(t, rep.OK())
	assert.Zero(t, s.callCount())
}

func TestDispatchBoundsParallelism(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	s := SenderFunc(func(context.Context, int64, string) error {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	cfg := fastDispatch
	cfg.Workers = 2
	rep := NewDispatcher(cfg, s, logx.Nop(), nil).Dispatch(context.Background(), members(1, 2, 3, 4, 5, 6), "x")

	assert.Len(t, rep.Delivered, 6)
	assert.LessOrEqual(t, peak, 2)
}

func TestDispatchConfigDefaultsAndApply(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, newFakeSender(), logx.Nop(), nil)
	assert.Equal(t, DispatchConfig{Workers: 4, RatePerSec: 20, Burst: 4, SendTimeout: 10 * time.Second}, d.Config())

	d.Apply(DispatchConfig{Workers: 8, RatePerSec: 5})
	assert.Equal(t, DispatchConfig{Workers: 8, RatePerSec: 5, Burst: 8, SendTimeout: 10 * time.Second}, d.Config())
}

func TestDispatchMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := newFakeSender()
	s.fail[2] = unreachable(2)
	s.fail[3] = errors.New("network")

	NewDispatcher(fastDispatch, s, logx.Nop(), m).Dispatch(context.Background(), members(1, 2, 3), "x")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("permanent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("transient")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DispatchDuration))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FailurePermanent, Classify(unreachable(1)))
	assert.Equal(t, FailureTransient, Classify(errors.New("boom")))
	assert.Equal(t, FailureTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, "permanent", FailurePermanent.String())
	assert.Equal(t, "unknown", FailureKind(0).String())
}
