package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"poolbot/internal/eventbus"
	logx "poolbot/pkg/logx"
)

var ErrUnknownSchedule = errors.New("unknown schedule")

// SecondOptional accepts both 5-field and 6-field (with seconds) specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location
	c   *cron.Cron

	base    context.Context
	runCtx  context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		entries: map[string]*entry{},
	}
}

// Validate reports whether schedule would be accepted by AddSchedule.
func Validate(schedule string) error {
	p, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if p.Kind == SpecCron {
		if _, err := specParser.Parse(p.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", p.Cron, err)
		}
	}
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering registered schedules when the service is enabled.
// ctx bounds every job run; it is kept so Apply can start the service later.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	if s.cfg.Enabled {
		s.startLocked()
	} else {
		s.log.Info("scheduler disabled")
	}
}

// Stop halts triggering, cancels in-flight runs and waits for them until ctx
// expires. Registered schedules are kept.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	done := s.stopLocked()
	s.base = nil
	s.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running jobs")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates the configuration. Enabling or disabling takes effect at
// once when the service has been started; a timezone change re-registers
// every schedule in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.base == nil {
		return
	}
	switch {
	case cfg.Enabled && s.c == nil:
		s.startLocked()
	case !cfg.Enabled && s.c != nil:
		s.stopLocked()
		s.log.Info("scheduler disabled")
	case s.c != nil && strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.stopLocked()
		s.startLocked()
	}
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.runCtx, s.cancel = context.WithCancel(s.base)
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

// stopLocked returns a context that is done once running jobs have returned.
func (s *Service) stopLocked() context.Context {
	if s.c == nil {
		return closedCtx()
	}
	s.cancel()
	done := s.c.Stop()
	s.c = nil
	return done
}

func closedCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// AddSchedule registers job under name, replacing any schedule with the same
// name. schedule is anything ParseSchedule accepts.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	p, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := p.Spec()
	if p.Kind == SpecCron {
		if _, err := specParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid cron %q: %w", spec, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}
	s.entries[name] = e
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(e); err != nil {
		delete(s.entries, name)
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) registerLocked(e *entry) error {
	job := cron.FuncJob(func() { s.run(e) })
	if every, ok := strings.CutPrefix(e.spec, "@every "); ok {
		if d, err := time.ParseDuration(every); err == nil && d > 0 {
			e.id = s.c.Schedule(intervalWithSpread(d, time.Now().In(s.loc)), job)
			return nil
		}
	}
	id, err := s.c.AddJob(e.spec, job)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// Remove unregisters name. It reports whether the schedule existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

// Names returns registered schedule names with the given prefix, sorted.
func (s *Service) Names(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for n := range s.entries {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Trigger runs name once, outside of its schedule, and waits for it.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownSchedule
	}
	return s.run(e)
}

func (s *Service) run(e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.log.Debug("schedule skipped; previous run still active", logx.String("name", e.name))
		return nil
	}
	defer e.running.Store(false)

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	start := time.Now()
	err := s.safeRun(ctx, e)
	took := time.Since(start)
	e.runs.Add(1)
	ev := RunEvent{Name: e.name, Took: took}
	if err != nil {
		e.fails.Add(1)
		e.lastErr.Store(err.Error())
		ev.Err = err.Error()
		s.log.Warn("schedule run failed", logx.String("name", e.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("schedule run ok", logx.String("name", e.name), logx.Duration("took", took))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRun, Data: ev})
	}
	return err
}

func (s *Service) safeRun(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.job(ctx)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
	}
	for _, e := range s.entries {
		info := ScheduleInfo{
			Name:     e.name,
			Spec:     e.spec,
			Timeout:  e.timeout,
			Runs:     e.runs.Load(),
			Failures: e.fails.Load(),
			Skipped:  e.skipped.Load(),
		}
		if v, ok := e.lastErr.Load().(string); ok {
			info.LastError = v
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}
