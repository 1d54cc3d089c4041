package gamecode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	kit "poolbot/internal/transport"
	logx "poolbot/pkg/logx"
)

// Sender delivers one private message.
type Sender interface {
	SendPrivate(ctx context.Context, userID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, userID int64, text string) error

func (f SenderFunc) SendPrivate(ctx context.Context, userID int64, text string) error {
	return f(ctx, userID, text)
}

type FailureKind int

const (
	// FailureTransient covers timeouts, rate limits and network errors.
	FailureTransient FailureKind = iota + 1
	// FailurePermanent means the recipient cannot be reached until they
	// change something on their side (DM closed, bot blocked).
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailurePermanent:
		return "permanent"
	case FailureTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Classify maps a delivery error to a failure kind.
func Classify(err error) FailureKind {
	if errors.Is(err, kit.ErrRecipientUnreachable) {
		return FailurePermanent
	}
	return FailureTransient
}

type Failure struct {
	Member Member
	Kind   FailureKind
	Err    error
}

// Report is the aggregate outcome of one fan-out. Delivered and Failures
// follow recipient order.
type Report struct {
	Attempted int
	Delivered []Member
	Failures  []Failure
	Took      time.Duration
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

func (r Report) Count(kind FailureKind) int {
	n := 0
	for _, f := range r.Failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

type DispatchConfig struct {
	Workers     int
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
}

const (
	defaultWorkers     = 4
	defaultRatePerSec  = 20
	defaultSendTimeout = 10 * time.Second
)

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = c.Workers
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Dispatcher fans a message out to recipients with bounded parallelism, a
// shared rate limit and a timeout per delivery. One recipient failing never
// stops the others, and nothing is retried here: callers resend explicitly.
type Dispatcher struct {
	sender  Sender
	log     logx.Logger
	metrics *Metrics

	mu      sync.RWMutex
	cfg     DispatchConfig
	limiter *rate.Limiter
}

func NewDispatcher(cfg DispatchConfig, sender Sender, log logx.Logger, metrics *Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		sender:  sender,
		log:     log,
		metrics: metrics,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// Apply swaps limits for subsequent dispatches.
func (d *Dispatcher) Apply(cfg DispatchConfig) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	d.limiter.SetBurst(cfg.Burst)
	d.mu.Unlock()
}

func (d *Dispatcher) Config() DispatchConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Dispatch attempts every recipient and returns once all attempts finished.
// If ctx is cancelled, recipients not yet attempted are reported as transient
// failures carrying the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Member, text string) Report {
	start := time.Now()
	cfg := d.Config()

	outcomes := make([]Failure, len(recipients))
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, m := range recipients {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, cfg.SendTimeout, m, text)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Attempted: len(recipients), Took: time.Since(start)}
	for _, o := range outcomes {
		if o.Err == nil {
			rep.Delivered = append(rep.Delivered, o.Member)
			d.metrics.observeDelivery("delivered")
			continue
		}
		rep.Failures = append(rep.Failures, o)
		d.metrics.observeDelivery(o.Kind.String())
		d.log.Debug("delivery failed",
			logx.Int64("user_id", o.Member.ID),
			logx.String("kind", o.Kind.String()),
			logx.Err(o.Err),
		)
	}
	d.metrics.observeDispatch(rep.Took)
	return rep
}

// deliver returns a Failure with a nil Err on success.
func (d *Dispatcher) deliver(ctx context.Context, timeout time.Duration, m Member, text string) Failure {
	out := Failure{Member: m}
	if err := ctx.Err(); err != nil {
		out.Kind, out.Err = FailureTransient, err
		return out
	}
	if err := d.limiter.Wait(ctx); err != nil {
		out.Kind, out.Err = FailureTransient, err
		return out
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The sender runs in its own goroutine so a sender that ignores ctx
	// still cannot hold up the fan-out past the timeout.
	done := make(chan error, 1)
	go func() { done <- d.sender.SendPrivate(sctx, m.ID, text) }()

	var err error
	select {
	case err = <-done:
	case <-sctx.Done():
		err = sctx.Err()
	}
	if err == nil {
		return out
	}
	if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s: %w", ErrDeliveryTimeout, timeout, err)
	}
	out.Kind, out.Err = Classify(err), err
	return out
}
