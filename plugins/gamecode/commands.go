package gamecode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gc "poolbot/internal/gamecode"
	"poolbot/internal/storage"
	kit "poolbot/internal/transport"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
	"poolbot/pkg/tgui"
)

const (
	msgNotEnabled      = "Game codes are not enabled in this chat."
	msgClosed          = "You can't join the pool, it's not open right now."
	msgLeaveClosed     = "The pool is currently closed."
	msgRecentlyPicked  = "You cannot join this pool because you were recently selected."
	msgAlreadyJoined   = "You are already in the pool."
	msgNotJoined       = "You were not in the pool."
	msgEmptyPool       = "The pool is empty, there is nobody to pick."
	msgAllExcluded     = "Everyone in the pool was picked in an earlier round. Use /game clear_selected to let them play again."
	msgLookupFailed    = "I could not check your membership right now, please try again."
	msgBadCount        = "Count must be a positive number."
	msgNothingToResend = "Nobody has been picked yet."

	listPageSize    = 50
	historyDefault  = 10
	historyMax      = 50
	dispatchTimeout = 5 * time.Minute
)

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "let the bot message you privately",
			Scope:       router.ChatPrivate,
			Handle:      p.cmdStart,
		},
		{
			Route:       "join",
			Description: "join the open game pool",
			Scope:       router.ChatGroup,
			Handle:      p.cmdJoin,
		},
		{
			Route:       "leave",
			Description: "leave the game pool",
			Scope:       router.ChatGroup,
			Handle:      p.cmdLeave,
		},
		{
			Route:       "game open",
			Description: "open a new pool for people to join",
			Usage:       "/game open [title]",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdOpen,
		},
		{
			Route:       "game close",
			Description: "close the open pool",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdClose,
		},
		{
			Route:       "game pick",
			Description: "pick members at random and message them",
			Usage:       "/game pick <count> <message>",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Timeout:     dispatchTimeout,
			Handle:      p.cmdPick,
		},
		{
			Route:       "game resend",
			Description: "message the last picked members again",
			Usage:       "/game resend <message>",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Timeout:     dispatchTimeout,
			Handle:      p.cmdResend,
		},
		{
			Route:       "game list",
			Description: "show everyone in the pool",
			Usage:       "/game list [page]",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdList,
		},
		{
			Route:       "game status",
			Description: "show pool state",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdStatus,
		},
		{
			Route:       "game clear_pool",
			Description: "remove everyone from the pool",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdClearPool,
		},
		{
			Route:       "game clear_selected",
			Description: "make previously picked members eligible again",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdClearSelected,
		},
		{
			Route:       "game history",
			Description: "recent moderator actions",
			Usage:       "/game history [n]",
			Access:      router.AccessModerator,
			Scope:       router.ChatGroup,
			Handle:      p.cmdHistory,
		},
	}
}

// reply sends an escaped plain-text answer to the command message.
func reply(ctx context.Context, req *router.Request, text string) error {
	return req.Reply(ctx, tgui.Esc(text).String())
}

// guild resolves the chat's config and answers when the chat is not enabled.
func (p *Plugin) guild(ctx context.Context, req *router.Request) (GuildConfig, bool) {
	g, ok := p.guildConfig(req.Chat.ChatID)
	if !ok {
		_ = reply(ctx, req, msgNotEnabled)
	}
	return g, ok
}

func (p *Plugin) cmdStart(ctx context.Context, req *router.Request) error {
	name := "there"
	if req.Message != nil && req.Message.FromName != "" {
		name = req.Message.FromName
	}
	msg := tgui.New().
		Title("👋", "Hi "+name+"!").
		Line("You can now receive game codes from me.").
		Line("Send /join in your group while a pool is open to take part.").
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) cmdJoin(ctx context.Context, req *router.Request) error {
	g, ok := p.guild(ctx, req)
	if !ok {
		return nil
	}
	guild := req.Chat.ChatID
	km, err := req.Adapter.LookupMember(ctx, guild, req.FromID)
	if err != nil {
		_ = reply(ctx, req, msgLookupFailed)
		return fmt.Errorf("lookup member: %w", err)
	}
	m := gc.Member{ID: km.ID, Name: displayName(km), Roles: km.Roles}

	added, err := p.engine.Join(guild, m)
	var roleErr *gc.RoleError
	switch {
	case errors.Is(err, gc.ErrPoolClosed):
		return reply(ctx, req, msgClosed)
	case errors.As(err, &roleErr):
		return reply(ctx, req, "You can't join: "+roleErr.Reason()+".")
	case errors.Is(err, gc.ErrRecentlySelected):
		return reply(ctx, req, msgRecentlyPicked)
	case err != nil:
		return err
	case !added:
		return reply(ctx, req, msgAlreadyJoined)
	}
	st := p.engine.Status(guild)
	return reply(ctx, req, render(g.Messages.Joined, vars{Title: st.Title, Name: m.Name, Total: len(st.Members)}))
}

func (p *Plugin) cmdLeave(ctx context.Context, req *router.Request) error {
	g, ok := p.guild(ctx, req)
	if !ok {
		return nil
	}
	guild := req.Chat.ChatID
	removed, err := p.engine.Leave(guild, req.FromID)
	switch {
	case errors.Is(err, gc.ErrPoolClosed):
		return reply(ctx, req, msgLeaveClosed)
	case err != nil:
		return err
	case !removed:
		return reply(ctx, req, msgNotJoined)
	}
	st := p.engine.Status(guild)
	return reply(ctx, req, render(g.Messages.Left, vars{Title: st.Title, Total: len(st.Members)}))
}

func (p *Plugin) cmdOpen(ctx context.Context, req *router.Request) error {
	g, ok := p.guild(ctx, req)
	if !ok {
		return nil
	}
	guild := req.Chat.ChatID
	title := req.Rest(0)
	st, changed := p.engine.Open(guild, title)
	if !changed {
		return reply(ctx, req, "The pool for "+render("{title}", vars{Title: st.Title})+" is already open.")
	}
	p.audit(ctx, req, storage.AuditEntry{Action: "open", Title: st.Title})
	v := vars{Title: st.Title, Total: len(st.Members)}
	p.announce(ctx, g, req.Chat, tgui.New().
		Title("🎮", render(g.Messages.Opened, v)).
		Line(render(g.Messages.OpenedSubtitle, v)))
	return reply(ctx, req, "Done, opened a pool with title "+render("{title}", v)+".")
}

func (p *Plugin) cmdClose(ctx context.Context, req *router.Request) error {
	g, ok := p.guild(ctx, req)
	if !ok {
		return nil
	}
	st, changed := p.engine.Close(req.Chat.ChatID)
	if !changed {
		return reply(ctx, req, "The pool is already closed.")
	}
	p.audit(ctx, req, storage.AuditEntry{Action: "close", Title: st.Title, OK: len(st.Members)})
	p.announceClosed(ctx, g, req.Chat, st)
	return reply(ctx, req, "Done, pool is closed.")
}

func (p *Plugin) announceClosed(ctx context.Context, g GuildConfig, fallback kit.ChatTarget, st gc.Status) {
	v := vars{Title: st.Title, Total: len(st.Members)}
	p.announce(ctx, g, fallback, tgui.New().
		Title("🔒", render(g.Messages.Closed, v)).
		KV("Total entries", strconv.Itoa(len(st.Members))))
}

// autoClose is the scheduled close of one guild's pool.
func (p *Plugin) autoClose(ctx context.Context, guild int64) {
	g, ok := p.guildConfig(guild)
	if !ok {
		return
	}
	st, changed := p.engine.Close(guild)
	if !changed {
		return
	}
	p.log.Info("pool auto-closed", logx.Int64("guild", guild), logx.Int("members", len(st.Members)))
	p.writeAudit(ctx, storage.AuditEntry{ChatID: guild, ActorName: "scheduler", Action: "close", Title: st.Title, OK: len(st.Members)})
	p.announceClosed(ctx, g, kit.ChatTarget{ChatID: guild, ThreadID: g.AnnounceThread}, st)
}

func (p *Plugin) cmdPick(ctx context.Context, req *router.Request) error {
	g, ok := p.guild(ctx, req)
	if !ok {
		return nil
	}
	const usage = "Usage: /game pick <count> <message>"
	if len(req.Args) < 2 {
		return reply(ctx, req, usage)
	}
	count, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return reply(ctx, req, msgBadCount+" "+usage)
	}
	message := req.Rest(1)
	guild := req.Chat.ChatID

	st := p.engine.Status(guild)
	v := vars{Title: st.Title, Count: min(max(count, 0), len(st.Members)), Total: len(st.Members)}
	start := time.Now()
	res, err := p.engine.Pick(ctx, guild, count, withFooter(message, g.Messages.DMFooter, v))
	switch {
	case errors.Is(err, gc.ErrInvalidCount):
		return reply(ctx, req, msgBadCount)
	case errors.Is(err, gc.ErrEmptyPool) && len(st.Members) > 0:
		return reply(ctx, req, msgAllExcluded)
	case errors.Is(err, gc.ErrEmptyPool):
		return reply(ctx, req, msgEmptyPool)
	case err != nil:
		return err
	}
	r, rep := res.Round, res.Report

	names := make([]string, 0, len(r.Selected))
	for _, m := range r.Selected {
		names = append(names, m.Name)
	}
	v = vars{Title: r.Title, Count: len(r.Selected), Total: r.PoolSize}
	p.announce(ctx, g, req.Chat, tgui.New().
		Title("🎲", render(g.Messages.PickedAnnounce, v)).
		KV("Total entries", strconv.Itoa(r.PoolSize)).
		Bullets(names...))

	p.audit(ctx, req, storage.AuditEntry{
		Action:  "pick",
		Title:   r.Title,
		RoundID: r.ID,
		OK:      len(rep.Delivered),
		Fail:    len(rep.Failures),
		Error:   firstFailure(rep),
		TookMS:  time.Since(start).Milliseconds(),
	})
	return p.sendReport(ctx, req, r, rep, false)
}

func (p *Plugin) cmdResend(ctx context.Context, req *router.Request) error {
	g, ok := p.guild(ctx, req)
	if !ok {
		return nil
	}
	message := req.Rest(0)
	if message == "" {
		return reply(ctx, req, "Usage: /game resend <message>")
	}
	guild := req.Chat.ChatID
	sel := p.engine.Selection(guild)
	if len(sel) == 0 {
		return reply(ctx, req, msgNothingToResend)
	}
	st := p.engine.Status(guild)
	v := vars{Title: st.Round.Title, Count: len(sel), Total: st.Round.PoolSize}

	start := time.Now()
	r, rep := p.engine.Resend(ctx, guild, withFooter(message, g.Messages.DMFooter, v))
	p.audit(ctx, req, storage.AuditEntry{
		Action:  "resend",
		Title:   r.Title,
		RoundID: r.ID,
		OK:      len(rep.Delivered),
		Fail:    len(rep.Failures),
		Error:   firstFailure(rep),
		TookMS:  time.Since(start).Milliseconds(),
	})
	return p.sendReport(ctx, req, r, rep, true)
}

func (p *Plugin) cmdList(ctx context.Context, req *router.Request) error {
	if _, ok := p.guild(ctx, req); !ok {
		return nil
	}
	page := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return reply(ctx, req, "Usage: /game list [page]")
		}
		page = n
	}
	members := p.engine.List(req.Chat.ChatID)
	return p.replyMsg(ctx, req, formatList(members, page-1))
}

func (p *Plugin) cmdStatus(ctx context.Context, req *router.Request) error {
	if _, ok := p.guild(ctx, req); !ok {
		return nil
	}
	return p.replyMsg(ctx, req, formatStatus(p.engine.Status(req.Chat.ChatID)))
}

func (p *Plugin) cmdClearPool(ctx context.Context, req *router.Request) error {
	if _, ok := p.guild(ctx, req); !ok {
		return nil
	}
	n := p.engine.ClearPool(req.Chat.ChatID)
	p.audit(ctx, req, storage.AuditEntry{Action: "clear_pool", OK: n})
	return reply(ctx, req, fmt.Sprintf("All done! Removed %d member(s) from the pool.", n))
}

func (p *Plugin) cmdClearSelected(ctx context.Context, req *router.Request) error {
	if _, ok := p.guild(ctx, req); !ok {
		return nil
	}
	n := p.engine.ClearSelected(req.Chat.ChatID)
	p.audit(ctx, req, storage.AuditEntry{Action: "clear_selected", OK: n})
	return reply(ctx, req, fmt.Sprintf("All done! %d previously picked member(s) can join again.", n))
}

func (p *Plugin) cmdHistory(ctx context.Context, req *router.Request) error {
	if _, ok := p.guild(ctx, req); !ok {
		return nil
	}
	if p.deps.Store == nil {
		return reply(ctx, req, "History is unavailable: audit storage is disabled.")
	}
	n := historyDefault
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v < 1 {
			return reply(ctx, req, "Usage: /game history [n]")
		}
		n = min(v, historyMax)
	}
	entries, err := p.deps.Store.RecentAudit(ctx, req.Chat.ChatID, n)
	if err != nil {
		return fmt.Errorf("recent audit: %w", err)
	}
	return p.replyMsg(ctx, req, formatHistory(entries))
}

func (p *Plugin) replyMsg(ctx context.Context, req *router.Request, b *tgui.Builder) error {
	if req.Message != nil {
		b.ReplyTo(req.Message.ID)
	}
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) sendReport(ctx context.Context, req *router.Request, r gc.Round, rep gc.Report, resend bool) error {
	return p.replyMsg(ctx, req, formatReport(r, rep, resend))
}

// announce posts to the guild's announce chat, or to fallback when none is
// configured. Failures are logged; the command still completes.
func (p *Plugin) announce(ctx context.Context, g GuildConfig, fallback kit.ChatTarget, b *tgui.Builder) {
	to := fallback
	if g.AnnounceChat != 0 {
		to = kit.ChatTarget{ChatID: g.AnnounceChat, ThreadID: g.AnnounceThread}
	}
	if _, err := b.Build().Send(ctx, p.deps.Adapter, to); err != nil {
		p.log.Warn("announcement failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func displayName(m kit.Member) string {
	switch {
	case m.DisplayName != "":
		return m.DisplayName
	case m.Username != "":
		return "@" + m.Username
	default:
		return "user " + strconv.FormatInt(m.ID, 10)
	}
}
