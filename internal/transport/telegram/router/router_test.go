package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "poolbot/internal/transport"
	"poolbot/internal/transport/transporttest"
	logx "poolbot/pkg/logx"
)

func noop(context.Context, *Request) error { return nil }

func newTestManager(t *testing.T) (*CommandManager, *transporttest.Adapter) {
	t.Helper()
	fa := transporttest.New()
	m := NewCommandManager(logx.Nop(), fa, []int64{1})
	m.SetRegistry([]Command{
		{Route: "join", Description: "join the pool", Handle: noop},
		{Route: "game open", Description: "open the pool", Access: AccessModerator, Handle: noop},
		{Route: "game pick", Description: "pick members", Access: AccessModerator, Handle: noop},
		{Route: "start", Aliases: []string{"hello-there"}, Handle: noop},
	})
	return m, fa
}

func TestMatch(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	m.SetBotUsername("@PoolBot")

	tests := []struct {
		text     string
		ok       bool
		route    string
		args     []string
		consumed int
	}{
		{text: "hello", ok: false},
		{text: "/join", ok: true, route: "join", consumed: 1},
		{text: "/join@poolbot", ok: true, route: "join", consumed: 1},
		{text: "/join@otherbot", ok: false},
		{text: "/GAME Pick 2 hi", ok: true, route: "game pick", args: []string{"2", "hi"}, consumed: 2},
		{text: "/game_pick 2 hi", ok: true, route: "game pick", args: []string{"2", "hi"}, consumed: 1},
		{text: "/hello_there", ok: true, route: "start", consumed: 1},
	}
	for _, tt := range tests {
		node, _, args, consumed, ok := m.match(tt.text)
		require.Equal(t, tt.ok, ok, tt.text)
		if !ok {
			continue
		}
		require.NotNil(t, node, tt.text)
		require.NotNil(t, node.cmd, tt.text)
		assert.Equal(t, tt.route, node.cmd.Route, tt.text)
		assert.Equal(t, tt.consumed, consumed, tt.text)
		if tt.args != nil {
			assert.Equal(t, tt.args, args, tt.text)
		}
	}

	node, path, _, _, ok := m.match("/game")
	require.True(t, ok)
	assert.Nil(t, node.cmd, "group node without handler")
	assert.Equal(t, []string{"game"}, path)

	node, _, _, _, ok = m.match("/nope")
	assert.True(t, ok)
	assert.Nil(t, node)
}

func TestRequestRest(t *testing.T) {
	t.Parallel()

	text := "/game pick 2   Code:  1234\n  second line  "
	req := &Request{Message: &kit.Message{Text: text}, consumed: 2}
	assert.Equal(t, "2   Code:  1234\n  second line", req.Rest(0))
	assert.Equal(t, "Code:  1234\n  second line", req.Rest(1))
	assert.Equal(t, "", req.Rest(10))

	req = &Request{Message: &kit.Message{Text: "/game_pick 3\nhello"}, consumed: 1}
	assert.Equal(t, "hello", req.Rest(1))
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "game_pick", sanitizeCommand("game pick"))
	assert.Equal(t, "clear_pool", sanitizeCommand("Clear-Pool"))
	assert.Equal(t, "cmd_1x", sanitizeCommand("1x"))
	assert.Equal(t, "", sanitizeCommand("!!"))
	assert.Len(t, sanitizeCommand(strings.Repeat("a", 40)), 32)
}

func TestBuildMenu(t *testing.T) {
	t.Parallel()

	m, fa := newTestManager(t)
	menu := buildMenu(m.root, []Command{
		{Route: "game open", Description: "open", Access: AccessModerator},
		{Route: "join", Description: "join"},
	})
	var names []string
	for _, c := range menu {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"game", "help", "join", "start", "game_open"}, names)
	assert.True(t, strings.HasPrefix(menu[0].Description, "(mods)"))

	assert.Eventually(t, func() bool { return len(fa.MenuCommands()) > 0 }, time.Second, 10*time.Millisecond,
		"SetRegistry pushes the menu")
}

func TestHelpText(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	top := m.helpText(nil)
	assert.Contains(t, top, "<code>/join</code>: join the pool")
	assert.Contains(t, top, "<code>/game</code>: subcommands: open, pick <i>(mods)</i>")

	node := m.helpText([]string{"game", "pick"})
	assert.Contains(t, node, "Moderators only")
	assert.Contains(t, node, "/game_pick")

	assert.Contains(t, m.helpText([]string{"zzz"}), "Unknown command")
}

func TestMWAccess(t *testing.T) {
	t.Parallel()

	fa := transporttest.New()
	mods := map[int64]bool{5: true}
	authz := func(_ context.Context, _, user int64) (bool, error) {
		if user == 9 {
			return false, errors.New("lookup failed")
		}
		return mods[user], nil
	}
	called := 0
	h := Chain(func(context.Context, *Request) error { called++; return nil }, MWAccess(AccessModerator, authz))

	for _, tc := range []struct {
		from int64
		want error
	}{
		{from: 1}, // owner
		{from: 5}, // moderator
		{from: 7, want: ErrUnauthorized},
	} {
		req := &Request{FromID: tc.from, Owners: []int64{1}, Adapter: fa, Message: &kit.Message{ID: 1}}
		err := h(context.Background(), req)
		if tc.want == nil {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, tc.want)
		}
	}
	assert.Equal(t, 2, called)
	assert.Equal(t, []string{msgUnauthorized}, fa.SentTo(0))

	err := h(context.Background(), &Request{FromID: 9, Adapter: fa})
	assert.ErrorContains(t, err, "lookup failed")
}

func TestDispatchLoop(t *testing.T) {
	t.Parallel()

	fa := transporttest.New()
	m := NewCommandManager(logx.Nop(), fa, nil)
	got := make(chan *Request, 1)
	m.SetRegistry([]Command{
		{Route: "join", Scope: ChatGroup, Handle: func(_ context.Context, r *Request) error { got <- r; return nil }},
		{Route: "boom", Handle: func(context.Context, *Request) error { panic("x") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 4)
	done := make(chan struct{})
	go func() { _ = m.DispatchLoop(ctx, updates); close(done) }()

	msg := func(text string, group bool) kit.Update {
		return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			ID: 1, ChatID: -10, FromID: 3, Text: text, IsGroup: group, IsPrivate: !group,
		}}
	}
	// Wait for workers before sending.
	require.Eventually(t, func() bool {
		m.runMu.Lock()
		defer m.runMu.Unlock()
		return m.running
	}, time.Second, 5*time.Millisecond)

	updates <- msg("/boom", true)
	updates <- msg("/join", false)
	updates <- msg("/join extra", true)

	select {
	case r := <-got:
		assert.Equal(t, []string{"extra"}, r.Args)
		assert.NotEmpty(t, r.ReqID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	assert.Contains(t, fa.SentTo(-10), msgGroupOnly)

	cancel()
	<-done
}
