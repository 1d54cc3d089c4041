package adapter

import (
	"context"
	"hash/fnv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "poolbot/internal/transport"
	logx "poolbot/pkg/logx"
	"poolbot/pkg/tgui"
)

// LookupMember fetches the user's status in chatID. Roles carries the
// status ("creator", "administrator", "member", ...) and the custom title
// when one is set.
func (a *Adapter) LookupMember(ctx context.Context, chatID, userID int64) (kit.Member, error) {
	if err := ctx.Err(); err != nil {
		return kit.Member{}, err
	}
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return kit.Member{}, err
	}
	return convertMember(userID, cm), nil
}

func convertMember(userID int64, cm *tele.ChatMember) kit.Member {
	m := kit.Member{ID: userID}
	if cm == nil {
		return m
	}
	if cm.User != nil {
		m.Username = cm.User.Username
		m.DisplayName = displayName(cm.User)
	}
	if cm.Role != "" {
		m.Roles = append(m.Roles, string(cm.Role))
	}
	if t := strings.TrimSpace(cm.Title); t != "" {
		m.Roles = append(m.Roles, t)
	}
	return m
}

const maxMenuDescription = 256

// UpdateMenuCommands publishes the command menu. It only calls Telegram when
// the list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	out := make([]tele.Command, 0, len(cmds))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := menuDescription(c)
		out = append(out, tele.Command{Text: c.Command, Description: d})
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		if len(out) == 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

// menuDescription falls back to the command name and fits Telegram's
// 256 character limit without splitting a rune.
func menuDescription(c kit.BotCommand) string {
	d := strings.TrimSpace(c.Description)
	if d == "" {
		d = c.Command
	}
	return tgui.TruncRunes(d, maxMenuDescription)
}
