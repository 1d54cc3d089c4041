// Package app wires the bot together: config, logging, transport, command
// router, plugins and the supporting services, plus hot reload and ordered
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"poolbot/internal/config"
	"poolbot/internal/eventbus"
	"poolbot/internal/gamecode"
	"poolbot/internal/observability/debugsrv"
	"poolbot/internal/plugin"
	rtsup "poolbot/internal/runtime/supervisor"
	"poolbot/internal/storage"
	"poolbot/internal/task/scheduler"
	kit "poolbot/internal/transport"
	telegram "poolbot/internal/transport/telegram/adapter"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
	gcplugin "poolbot/plugins/gamecode"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	sink  *logSink
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	owners  atomic.Pointer[[]int64]

	reg   *prometheus.Registry
	disp  *gamecode.Dispatcher
	sched *scheduler.Service
	debug *debugsrv.Service

	cmdm *router.CommandManager
	pm   *plugin.Manager

	updates chan kit.Update
}

// Check parses and validates the file at path, including plugin configs,
// without touching the network. With no plugins given, the game code plugin
// is checked.
func Check(path string, plugins ...plugin.Plugin) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	pm := plugin.NewManager(logx.Nop(), plugin.Deps{}, nil)
	pm.Register(withDefaults(plugins)...)
	if err := validate(context.Background(), cfg, pm); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(ctx context.Context, cfg *config.Config, pm *plugin.Manager) error {
	return errors.Join(config.Validate(cfg), pm.Validate(ctx, cfg))
}

// New loads the config at path and builds a stopped app serving Telegram.
// With no plugins given, the game code plugin is registered.
func New(path string, plugins ...plugin.Plugin) (*App, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	poll, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll},
		logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, ad, plugins...)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, ad kit.Adapter, plugins ...plugin.Plugin) (*App, error) {
	a := &App{
		cfgm:    cfgm,
		adapter: ad,
		sink:    &logSink{ad: ad},
		bus:     eventbus.New(),
		reg:     prometheus.NewRegistry(),
		updates: make(chan kit.Update, 256),
	}
	a.setOwners(cfg.Telegram.OwnerUserIDs)

	// The chat target must be set before Apply enables forwarding.
	a.sink.setTarget(logTarget(cfg))
	a.logs, a.log = logx.New(mapLogging(cfg), a.sink)
	a.log = a.log.With(logx.String("comp", "app"))
	cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, a.logs.Logger()); err != nil {
		return nil, err
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gamecode.NewMetrics(a.reg)

	dc, err := mapDispatch(cfg)
	if err != nil {
		return nil, err
	}
	a.disp = gamecode.NewDispatcher(dc, gcplugin.AdapterSender(ad), a.logs.Logger().With(logx.String("comp", "dispatcher")), metrics)
	a.sched = scheduler.New(mapScheduler(cfg), a.logs.Logger().With(logx.String("comp", "scheduler")), a.bus)
	a.debug = debugsrv.New(mapDebug(cfg), a.reg, a.logs.Logger().With(logx.String("comp", "debug")))

	a.cmdm = router.NewCommandManager(a.logs.Logger().With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	if un, ok := ad.(interface{ Username() string }); ok {
		a.cmdm.SetBotUsername(un.Username())
	}

	a.pm = plugin.NewManager(a.logs.Logger().With(logx.String("comp", "plugins")), plugin.Deps{
		Logger:     a.logs.Logger(),
		Adapter:    ad,
		Bus:        a.bus,
		Store:      a.store,
		Scheduler:  a.sched,
		Dispatcher: a.disp,
		Metrics:    metrics,
		Owners:     a.Owners,
	}, a.cmdm)
	a.pm.Register(withDefaults(plugins)...)
	return a, nil
}

func withDefaults(plugins []plugin.Plugin) []plugin.Plugin {
	if len(plugins) == 0 {
		return []plugin.Plugin{gcplugin.New()}
	}
	return plugins
}

func (a *App) setOwners(ids []int64) {
	cp := append([]int64(nil), ids...)
	a.owners.Store(&cp)
}

// Owners returns the owner ids of the current config.
func (a *App) Owners() []int64 {
	if p := a.owners.Load(); p != nil {
		return *p
	}
	return nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app context is canceled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validate(c, cfg, a.pm)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}
	a.pm.Start(a.sup.Context(), a.cfgm.Get())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				next = drainLatest(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// drainLatest coalesces a burst of reloads into the newest one.
func drainLatest(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-ch:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig pushes a validated config into every live component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields, plugins := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}
	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed("telegram") && prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.sink.setTarget(logTarget(next))
	a.logs.Apply(mapLogging(next))

	a.setOwners(next.Telegram.OwnerUserIDs)
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if dc, err := mapDispatch(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}

	a.sched.Apply(mapScheduler(next))
	a.debug.Reconfigure(ctx, mapDebug(next))
	a.pm.Apply(next)

	if len(plugins) > 0 {
		a.log.Debug("plugin config changes detected", logx.Strings("plugins", plugins))
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.sup.Cancel()

	a.step(ctx, "plugins", 4*time.Second, func(c context.Context) error { a.pm.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
		max = time.Until(dl)
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
