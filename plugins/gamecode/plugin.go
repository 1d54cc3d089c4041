// Package gamecode is the chat surface of the game code pool: members join
// and leave a per-group pool, moderators open, close and draw from it, and
// drawn members receive the code privately.
package gamecode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gc "poolbot/internal/gamecode"
	"poolbot/internal/plugin"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
)

const (
	Name = "gamecode"

	autoClosePrefix  = "gamecode.autoclose."
	autoCloseDefault = autoClosePrefix + "all"
	autoCloseTimeout = 30 * time.Second
)

type Plugin struct {
	mu  sync.RWMutex
	cfg Config

	log    logx.Logger
	deps   plugin.Deps
	engine *gc.Engine

	runMu   sync.Mutex
	started bool
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	if deps.Adapter == nil {
		return fmt.Errorf("adapter required")
	}
	p.deps = deps
	p.log = deps.Logger
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	disp := deps.Dispatcher
	if disp == nil {
		disp = gc.NewDispatcher(gc.DispatchConfig{}, AdapterSender(deps.Adapter), p.log.With(logx.String("comp", "dispatcher")), deps.Metrics)
	}
	p.engine = gc.NewEngine(gc.Options{
		Dispatcher: disp,
		Policy:     p.policy,
		Bus:        deps.Bus,
		Metrics:    deps.Metrics,
		Logger:     p.log.With(logx.String("comp", "engine")),
	})
	return nil
}

func (p *Plugin) Start(context.Context) error {
	p.runMu.Lock()
	p.started = true
	p.runMu.Unlock()
	p.syncAutoClose()
	return nil
}

// Stop removes auto-close schedules. Pool state is kept in memory so a
// re-enabled plugin continues where it left off.
func (p *Plugin) Stop(context.Context) error {
	p.runMu.Lock()
	p.started = false
	p.runMu.Unlock()
	if s := p.deps.Scheduler; s != nil {
		for _, name := range s.Names(autoClosePrefix) {
			s.Remove(name)
		}
	}
	return nil
}

func (p *Plugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	_, err := parseConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	c, err := parseConfig(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	p.syncAutoClose()
	return nil
}

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) guildConfig(chatID int64) (GuildConfig, bool) {
	return p.config().For(chatID)
}

func (p *Plugin) policy(guild int64) gc.Policy {
	g, _ := p.guildConfig(guild)
	return g.policy()
}

// Engine exposes the pool engine, mainly for status endpoints and tests.
func (p *Plugin) Engine() *gc.Engine { return p.engine }

// Authorizer grants moderator commands to a group's mod_users and to members
// holding one of its mod_roles. Owners are allowed by the router itself.
func (p *Plugin) Authorizer() router.Authorizer {
	return func(ctx context.Context, chatID, userID int64) (bool, error) {
		g, ok := p.guildConfig(chatID)
		if !ok {
			return false, nil
		}
		if g.isModUser(userID) {
			return true, nil
		}
		if len(g.ModRoles) == 0 {
			return false, nil
		}
		m, err := p.deps.Adapter.LookupMember(ctx, chatID, userID)
		if err != nil {
			return false, err
		}
		return g.hasModRole(m.Roles), nil
	}
}

// syncAutoClose registers one auto-close schedule per listed guild, or a
// single schedule covering every known pool when no guild is listed.
func (p *Plugin) syncAutoClose() {
	s := p.deps.Scheduler
	if s == nil {
		return
	}
	p.runMu.Lock()
	started := p.started
	p.runMu.Unlock()
	if !started {
		return
	}

	cfg := p.config()
	want := map[string]string{}
	targets := map[string]int64{}
	if len(cfg.guilds) == 0 {
		if spec := strings.TrimSpace(cfg.Defaults.AutoClose); spec != "" {
			want[autoCloseDefault] = spec
		}
	} else {
		for _, id := range cfg.Explicit() {
			g, _ := cfg.For(id)
			if spec := strings.TrimSpace(g.AutoClose); spec != "" {
				name := autoClosePrefix + strconv.FormatInt(id, 10)
				want[name] = spec
				targets[name] = id
			}
		}
	}

	for _, name := range s.Names(autoClosePrefix) {
		if _, ok := want[name]; !ok {
			s.Remove(name)
		}
	}
	for name, spec := range want {
		var job func(ctx context.Context) error
		if id, ok := targets[name]; ok {
			job = func(ctx context.Context) error { p.autoClose(ctx, id); return nil }
		} else {
			job = func(ctx context.Context) error {
				for _, id := range p.engine.Registry().Guilds() {
					p.autoClose(ctx, id)
				}
				return nil
			}
		}
		if err := s.AddSchedule(name, spec, autoCloseTimeout, job); err != nil {
			p.log.Error("auto-close schedule rejected", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		}
	}
}
