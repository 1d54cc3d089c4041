package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"poolbot/internal/config"
	"poolbot/internal/eventbus"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
)

const callTimeout = 10 * time.Second

// Manager enables, configures and stops plugins to match the current config
// and publishes the commands of running plugins to the router.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	deps Deps
	cmds CommandRegistry

	reg     map[string]Plugin
	run     map[string]bool
	inited  map[string]bool
	hash    map[string]uint64
	lastErr map[string]string
	cancel  map[string]context.CancelFunc

	// base outlives call-scoped contexts passed to Apply; Stop cancels it.
	base       context.Context
	baseCancel context.CancelFunc
}

func NewManager(log logx.Logger, deps Deps, cmds CommandRegistry) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Logger.IsZero() {
		deps.Logger = log
	}
	return &Manager{
		log:     log,
		deps:    deps,
		cmds:    cmds,
		reg:     map[string]Plugin{},
		run:     map[string]bool{},
		inited:  map[string]bool{},
		hash:    map[string]uint64{},
		lastErr: map[string]string{},
		cancel:  map[string]context.CancelFunc{},
	}
}

func (m *Manager) Register(p ...Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pl := range p {
		m.reg[pl.Name()] = pl
	}
}

func (m *Manager) emit(typ string, ev pluginEvent) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// Start binds the manager to ctx and brings plugins in line with cfg.
func (m *Manager) Start(ctx context.Context, cfg *config.Config) {
	m.mu.Lock()
	if m.base == nil {
		m.base, m.baseCancel = context.WithCancel(ctx)
	}
	m.mu.Unlock()
	m.Apply(cfg)
}

// Validate runs every enabled plugin's ConfigValidator against cfg.
func (m *Manager) Validate(ctx context.Context, cfg *config.Config) error {
	for _, name := range m.names() {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		v, ok := m.plugin(name).(ConfigValidator)
		if !ok {
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := v.ValidateConfig(vctx, raw.Config)
		cancel()
		if err != nil {
			return fmt.Errorf("plugins.%s: %w", name, err)
		}
	}
	return nil
}

// Apply reconciles plugins with cfg. A plugin whose config fails to apply
// while running keeps its previous config.
func (m *Manager) Apply(cfg *config.Config) {
	m.mu.Lock()
	base := m.base
	m.mu.Unlock()
	if base == nil {
		return
	}

	for _, name := range m.names() {
		p := m.plugin(name)
		raw, ok := cfg.Plugins[name]
		enabled := ok && raw.Enabled
		m.mu.Lock()
		running := m.run[name]
		prev := m.hash[name]
		m.mu.Unlock()
		h := config.HashRaw(raw.Config)

		switch {
		case enabled && !running:
			m.startOne(base, name, p, raw)
		case !enabled && running:
			sctx, cancel := context.WithTimeout(base, callTimeout)
			m.stopOne(sctx, name, "disabled")
			cancel()
		case enabled && running && h != prev:
			cp, ok := p.(ConfigurablePlugin)
			if !ok {
				break
			}
			if err := m.configure(base, name, p, cp, raw); err != nil {
				m.fail(name, "config", err)
				break
			}
			m.mu.Lock()
			m.hash[name] = h
			delete(m.lastErr, name)
			m.mu.Unlock()
			m.log.Info("plugin config applied", logx.String("plugin", name))
			m.emit(EventConfigApplied, pluginEvent{Plugin: name})
		}
	}
	m.refreshRegistry()
}

func (m *Manager) configure(ctx context.Context, name string, p Plugin, cp ConfigurablePlugin, raw config.PluginConfigRaw) error {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if v, ok := p.(ConfigValidator); ok {
		if err := v.ValidateConfig(cctx, raw.Config); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
	}
	return m.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
}

func (m *Manager) startOne(base context.Context, name string, p Plugin, raw config.PluginConfigRaw) {
	start := time.Now()
	pctx, cancel := context.WithCancel(base)

	m.mu.Lock()
	needInit := !m.inited[name]
	deps := m.deps
	m.mu.Unlock()
	if needInit {
		deps.Logger = deps.Logger.With(logx.String("plugin", name))
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := m.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			cancel()
			m.fail(name, "init", err)
			return
		}
		m.mu.Lock()
		m.inited[name] = true
		m.mu.Unlock()
	}

	if cp, ok := p.(ConfigurablePlugin); ok {
		if err := m.configure(pctx, name, p, cp, raw); err != nil {
			cancel()
			m.fail(name, "config", err)
			return
		}
	}

	if err := m.startWithTimeout(name, p, pctx, cancel); err != nil {
		cancel()
		m.fail(name, "start", err)
		return
	}

	m.mu.Lock()
	m.run[name] = true
	m.cancel[name] = cancel
	m.hash[name] = config.HashRaw(raw.Config)
	delete(m.lastErr, name)
	m.mu.Unlock()

	took := time.Since(start)
	m.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", took))
	m.emit(EventStarted, pluginEvent{Plugin: name, TookMS: took.Milliseconds()})
}

// startWithTimeout calls Start(pctx) but gives up after callTimeout; the
// plugin context is cancelled in that case.
func (m *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() {
		done <- m.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()
	t := time.NewTimer(callTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		return fmt.Errorf("start timeout (%s)", callTimeout)
	}
}

func (m *Manager) stopOne(ctx context.Context, name, reason string) {
	m.mu.Lock()
	p := m.reg[name]
	running := m.run[name]
	cancel := m.cancel[name]
	m.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		if err := m.safeCall("plugin.stop."+name, func() error { return p.Stop(ctx) }); err != nil {
			m.log.Warn("plugin stop error", logx.String("plugin", name), logx.Err(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(ctx.Err()))
	}

	m.mu.Lock()
	m.run[name] = false
	delete(m.cancel, name)
	delete(m.hash, name)
	m.mu.Unlock()

	took := time.Since(start)
	m.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", reason), logx.Duration("took", took))
	m.emit(EventStopped, pluginEvent{Plugin: name, Stage: reason, TookMS: took.Milliseconds()})
}

// Stop stops every running plugin and clears the command registry.
func (m *Manager) Stop(ctx context.Context) {
	for _, name := range m.names() {
		m.stopOne(ctx, name, "shutdown")
	}
	m.mu.Lock()
	if m.baseCancel != nil {
		m.baseCancel()
	}
	m.base, m.baseCancel = nil, nil
	m.mu.Unlock()
	m.refreshRegistry()
}

func (m *Manager) fail(name, stage string, err error) {
	m.mu.Lock()
	m.lastErr[name] = stage + ": " + err.Error()
	m.mu.Unlock()
	m.log.Error("plugin "+stage+" failed", logx.String("plugin", name), logx.Err(err))
	m.emit(EventFailed, pluginEvent{Plugin: name, Stage: stage, Err: err.Error()})
}

func (m *Manager) refreshRegistry() {
	var (
		cmds  []router.Command
		authz router.Authorizer
	)
	for _, name := range m.names() {
		m.mu.Lock()
		running := m.run[name]
		p := m.reg[name]
		m.mu.Unlock()
		if !running {
			continue
		}
		cmds = append(cmds, m.safeCommands(name, p)...)
		if ap, ok := p.(AuthorizerProvider); ok && authz == nil {
			authz = ap.Authorizer()
		}
	}
	if m.cmds != nil {
		m.cmds.SetAuthorizer(authz)
		m.cmds.SetRegistry(cmds)
	}
}

func (m *Manager) safeCommands(name string, p Plugin) (out []router.Command) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin Commands()", logx.String("plugin", name), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Commands()
}

func (m *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (m *Manager) Snapshot(cfg *config.Config) []Status {
	out := []Status{}
	for _, name := range m.names() {
		m.mu.Lock()
		st := Status{Name: name, Running: m.run[name], LastErr: m.lastErr[name]}
		p := m.reg[name]
		m.mu.Unlock()
		if cfg != nil {
			st.Enabled = cfg.Plugins[name].Enabled
		}
		if st.Running {
			st.Commands = len(m.safeCommands(name, p))
		}
		out = append(out, st)
	}
	return out
}

func (m *Manager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.reg))
	for n := range m.reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) plugin(name string) Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg[name]
}
