package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "poolbot/internal/runtime/supervisor"
	kit "poolbot/internal/transport"
	logx "poolbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessModerator
	AccessOwnerOnly
)

// ChatScope restricts where a command may be used.
type ChatScope int

const (
	ChatAny ChatScope = iota
	ChatGroup
	ChatPrivate
)

type Command struct {
	// Route is a space-separated command path, e.g. "join" or "game pick".
	Route       string
	Aliases     []string // root-level aliases
	Description string
	Usage       string
	Access      Access
	Scope       ChatScope

	Timeout time.Duration
	Handle  HandlerFunc
}

// Authorizer decides AccessModerator commands. Owners are allowed before
// it is consulted.
type Authorizer func(ctx context.Context, chatID, userID int64) (bool, error)

const (
	msgUnknown      = "Unknown command. Try /help"
	msgUnauthorized = "Only moderators can do that."
	msgGroupOnly    = "This command only works in a group."
	msgPrivateOnly  = "Send this command to me in a private chat."
	msgBusy         = "Busy, try again in a moment."
)

type CommandManager struct {
	mu       sync.RWMutex
	root     *cmdNode
	alias    map[string]*cmdNode
	owners   []int64
	authz    Authorizer
	username string

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:    newNode(),
		alias:   map[string]*cmdNode{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) SetAuthorizer(fn Authorizer) {
	m.mu.Lock()
	m.authz = fn
	m.mu.Unlock()
}

// SetBotUsername makes "/cmd@otherbot" commands addressed to other bots be
// ignored.
func (m *CommandManager) SetBotUsername(name string) {
	m.mu.Lock()
	m.username = strings.TrimPrefix(strings.TrimSpace(name), "@")
	m.mu.Unlock()
}

// SetRegistry installs cmds plus the built-in /help and refreshes the
// platform command menu in the background.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Description: "show available commands",
		Usage:       "/help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newNode()
	alias := map[string]*cmdNode{}
	var leaves []Command
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		leaves = append(leaves, c)

		// Multi-token routes get a Telegram-safe alias ("game pick" ->
		// "game_pick"). Single-token names are never aliased to themselves
		// or subcommand traversal would be skipped.
		if name, ok := menuName(route); ok && (len(route) > 1 || name != route[0]) {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				alias[a] = leaf
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenu(root, leaves)
	refresh := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}
	m.runMu.Lock()
	sup := m.sup
	m.runMu.Unlock()
	if sup != nil {
		sup.Go("telegram.menu.update", refresh)
		return
	}
	go func() { _ = refresh(context.Background()) }()
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(m.jobs)))
	for i := 0; i < workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), m.worker,
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			job()
		}
	}
}

func (m *CommandManager) enqueue(job func()) bool {
	m.runMu.Lock()
	running := m.running
	m.runMu.Unlock()
	if !running {
		return false
	}
	select {
	case m.jobs <- job:
		return true
	default:
		return false
	}
}

// match resolves the command for text. consumed counts the raw tokens the
// route used. ok is false when text is not a command for this bot.
func (m *CommandManager) match(text string) (node *cmdNode, path []string, args []string, consumed int, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return nil, nil, nil, 0, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")

	m.mu.RLock()
	root, alias, username := m.root, m.alias, m.username
	m.mu.RUnlock()

	if i := strings.IndexByte(word, '@'); i >= 0 {
		if username != "" && !strings.EqualFold(word[i+1:], username) {
			return nil, nil, nil, 0, false
		}
		word = word[:i]
	}
	word = strings.ToLower(word)
	args = parts[1:]

	if leaf, found := alias[word]; found {
		return leaf, splitRoute(leaf.cmd.Route), args, 1, true
	}
	cur, found := root.child(word)
	if !found {
		return nil, []string{word}, args, 1, true
	}
	path = []string{word}
	for len(args) > 0 {
		next, found := cur.child(strings.ToLower(args[0]))
		if !found {
			break
		}
		cur = next
		path = append(path, strings.ToLower(args[0]))
		args = args[1:]
	}
	return cur, path, args, len(path), true
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	node, path, args, consumed, ok := m.match(strings.TrimSpace(msg.Text))
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	reply := func(text string) {
		_, _ = m.adapter.SendText(ctx, chat, text, &kit.SendOptions{ReplyTo: msg.ID, ParseMode: "HTML", DisablePreview: true})
	}

	if node == nil {
		// Groups see every bot's commands; only answer unknown ones in DMs.
		if msg.IsPrivate {
			reply(msgUnknown)
		}
		return
	}
	if node.cmd == nil {
		reply(m.helpText(path))
		return
	}
	cmd := *node.cmd

	switch {
	case cmd.Scope == ChatGroup && !msg.IsGroup:
		reply(msgGroupOnly)
		return
	case cmd.Scope == ChatPrivate && !msg.IsPrivate:
		reply(msgPrivateOnly)
		return
	}

	m.mu.RLock()
	owners := append([]int64(nil), m.owners...)
	authz := m.authz
	m.mu.RUnlock()

	rid := uuid.NewString()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)
	req := &Request{
		Update:   up,
		Message:  msg,
		Chat:     chat,
		FromID:   msg.FromID,
		Path:     path,
		Command:  cmd.Route,
		Args:     args,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger:   reqLog,
		Owners:   owners,
		consumed: consumed,
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWAccess(cmd.Access, authz),
		MWTimeout(cmd.Timeout),
	)
	if !m.enqueue(func() { _ = final(ctx, req) }) {
		reply(msgBusy)
	}
}
