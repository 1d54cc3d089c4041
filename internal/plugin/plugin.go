package plugin

import (
	"context"
	"encoding/json"

	"poolbot/internal/eventbus"
	"poolbot/internal/gamecode"
	"poolbot/internal/storage"
	"poolbot/internal/task/scheduler"
	kit "poolbot/internal/transport"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
)

// Plugin is a unit of chat functionality enabled through plugins.<name> in
// the config file.
type Plugin interface {
	Name() string
	// Init is called once, before the first Start.
	Init(ctx context.Context, deps Deps) error
	// Start receives a context that lives until the plugin is disabled or the
	// manager stops.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

// ConfigurablePlugin receives its raw config blob before Start and whenever
// the blob changes on reload.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator checks a config blob without applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// AuthorizerProvider supplies the moderator check for AccessModerator
// commands.
type AuthorizerProvider interface {
	Authorizer() router.Authorizer
}

type Deps struct {
	Logger     logx.Logger
	Adapter    kit.Adapter
	Bus        eventbus.Bus
	Store      storage.Store
	Scheduler  *scheduler.Service
	Dispatcher *gamecode.Dispatcher
	Metrics    *gamecode.Metrics
	// Owners returns the current owner ids; it follows config reloads.
	Owners func() []int64
}

// CommandRegistry receives the merged command set of running plugins.
type CommandRegistry interface {
	SetRegistry(cmds []router.Command)
	SetAuthorizer(fn router.Authorizer)
}

// Status is a point-in-time view of one registered plugin.
type Status struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	Commands int    `json:"commands"`
	LastErr  string `json:"last_err,omitempty"`
}

const (
	EventStarted       = "plugin.started"
	EventStopped       = "plugin.stopped"
	EventConfigApplied = "plugin.config_applied"
	EventFailed        = "plugin.failed"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}
