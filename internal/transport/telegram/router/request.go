package router

import (
	"context"
	"strings"
	"unicode"

	kit "poolbot/internal/transport"
	logx "poolbot/pkg/logx"
)

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched route tokens
	Command string
	Args    []string // whitespace separated tokens after the route
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64

	// consumed is how many leading tokens of the raw text the route used.
	consumed int
}

// Rest returns the raw message text after the route and the first n args,
// with the original spacing and newlines kept. Only the surrounding
// whitespace is trimmed.
func (r *Request) Rest(n int) string {
	if r.Message == nil {
		return ""
	}
	s := r.Message.Text
	for i := 0; i < r.consumed+n; i++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		s = s[end:]
	}
	return strings.TrimSpace(s)
}

func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.Owners) }

// Reply answers in the request's chat and thread as a reply to the command
// message. Text is sent as HTML.
func (r *Request) Reply(ctx context.Context, text string) error {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
