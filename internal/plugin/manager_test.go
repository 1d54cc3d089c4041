package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolbot/internal/config"
	"poolbot/internal/eventbus"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
)

type fakePlugin struct {
	mu       sync.Mutex
	inits    int
	starts   int
	stops    int
	applied  []string
	rejectOn string
	startErr error
	started  context.Context
}

func (p *fakePlugin) Name() string { return "fake" }

func (p *fakePlugin) Init(context.Context, Deps) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	p.started = ctx
	return p.startErr
}

func (p *fakePlugin) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlugin) Commands() []router.Command {
	return []router.Command{{Route: "ping", Handle: func(context.Context, *router.Request) error { return nil }}}
}

func (p *fakePlugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	if p.rejectOn != "" && string(raw) == p.rejectOn {
		return errors.New("rejected")
	}
	return nil
}

func (p *fakePlugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, string(raw))
	return nil
}

func (p *fakePlugin) Authorizer() router.Authorizer {
	return func(context.Context, int64, int64) (bool, error) { return true, nil }
}

type fakeRegistry struct {
	cmds  []router.Command
	authz router.Authorizer
	calls int
}

func (r *fakeRegistry) SetRegistry(cmds []router.Command)  { r.cmds = cmds; r.calls++ }
func (r *fakeRegistry) SetAuthorizer(fn router.Authorizer) { r.authz = fn }

func cfgWith(enabled bool, raw string) *config.Config {
	return &config.Config{Plugins: map[string]config.PluginConfigRaw{
		"fake": {Enabled: enabled, Config: json.RawMessage(raw)},
	}}
}

func TestManagerLifecycle(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "plugin.")
	defer unsub()

	p := &fakePlugin{}
	reg := &fakeRegistry{}
	m := NewManager(logx.Nop(), Deps{Bus: bus}, reg)
	m.Register(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, cfgWith(true, `{"a":1}`))

	assert.Equal(t, 1, p.inits)
	assert.Equal(t, 1, p.starts)
	assert.Equal(t, []string{`{"a":1}`}, p.applied)
	require.Len(t, reg.cmds, 1)
	assert.Equal(t, "ping", reg.cmds[0].Route)
	assert.NotNil(t, reg.authz)
	assert.Equal(t, EventStarted, (<-events).Type)

	// Same content with different formatting is not re-applied.
	m.Apply(cfgWith(true, `{ "a": 1 }`))
	assert.Len(t, p.applied, 1)

	m.Apply(cfgWith(true, `{"a":2}`))
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, p.applied)
	assert.Equal(t, EventConfigApplied, (<-events).Type)

	m.Apply(cfgWith(false, `{"a":2}`))
	assert.Equal(t, 1, p.stops)
	assert.Empty(t, reg.cmds)
	assert.Nil(t, reg.authz)
	assert.Error(t, p.started.Err(), "plugin context cancelled on disable")

	// Re-enable does not re-run Init.
	m.Apply(cfgWith(true, `{"a":2}`))
	assert.Equal(t, 1, p.inits)
	assert.Equal(t, 2, p.starts)

	m.Stop(context.Background())
	assert.Equal(t, 2, p.stops)
	st := m.Snapshot(cfgWith(true, `{}`))
	require.Len(t, st, 1)
	assert.False(t, st[0].Running)
}

func TestManagerRejectedConfigKeepsPrevious(t *testing.T) {
	p := &fakePlugin{rejectOn: `{"bad":true}`}
	reg := &fakeRegistry{}
	m := NewManager(logx.Nop(), Deps{}, reg)
	m.Register(p)
	m.Start(context.Background(), cfgWith(true, `{"a":1}`))
	defer m.Stop(context.Background())

	m.Apply(cfgWith(true, `{"bad":true}`))
	assert.Equal(t, []string{`{"a":1}`}, p.applied)

	st := m.Snapshot(cfgWith(true, `{"bad":true}`))
	require.Len(t, st, 1)
	assert.True(t, st[0].Running)
	assert.Contains(t, st[0].LastErr, "rejected")

	err := m.Validate(context.Background(), cfgWith(true, `{"bad":true}`))
	assert.ErrorContains(t, err, "plugins.fake")
	assert.NoError(t, m.Validate(context.Background(), cfgWith(false, `{"bad":true}`)))
}

func TestManagerStartFailure(t *testing.T) {
	p := &fakePlugin{startErr: errors.New("no")}
	reg := &fakeRegistry{}
	m := NewManager(logx.Nop(), Deps{}, reg)
	m.Register(p)
	m.Start(context.Background(), cfgWith(true, `{}`))

	assert.Empty(t, reg.cmds)
	st := m.Snapshot(nil)
	assert.False(t, st[0].Running)
	assert.Equal(t, "start: no", st[0].LastErr)
}

func TestApplyBeforeStartIsNoop(t *testing.T) {
	p := &fakePlugin{}
	m := NewManager(logx.Nop(), Deps{}, &fakeRegistry{})
	m.Register(p)
	m.Apply(cfgWith(true, `{}`))
	assert.Zero(t, p.starts)
}
