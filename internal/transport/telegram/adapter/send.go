package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "poolbot/internal/transport"
)

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if html && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(opt *kit.SendOptions, threadID int, first bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
	if first && opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo}
	}
	return so
}

func (a *Adapter) send(ctx context.Context, to tele.Recipient, target kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(to, chunk, sendOptions(opt, target.ThreadID, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: target.ChatID, ThreadID: target.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, &tele.Chat{ID: to.ChatID}, to, text, opt)
}

// SendPrivate messages userID directly. Errors that only the user can fix
// wrap kit.ErrRecipientUnreachable.
func (a *Adapter) SendPrivate(ctx context.Context, userID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ref, err := a.send(ctx, tele.ChatID(userID), kit.ChatTarget{ChatID: userID}, text, opt)
	if err != nil {
		return ref, classify(err)
	}
	return ref, nil
}

// classify marks errors that retrying cannot fix. A 403 means the bot was
// blocked, never started or the account is gone. "chat not found" means the
// user never opened a private chat with the bot.
func classify(err error) error {
	var te *tele.Error
	if errors.As(err, &te) {
		if te.Code == 403 || errors.Is(err, tele.ErrChatNotFound) {
			return fmt.Errorf("%w: %w", kit.ErrRecipientUnreachable, err)
		}
	}
	return err
}
