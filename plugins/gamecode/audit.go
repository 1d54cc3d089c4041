package gamecode

import (
	"context"
	"time"

	"poolbot/internal/storage"
	"poolbot/internal/transport/telegram/router"
	logx "poolbot/pkg/logx"
)

// audit records a moderator action taken through req.
func (p *Plugin) audit(ctx context.Context, req *router.Request, e storage.AuditEntry) {
	e.ChatID = req.Chat.ChatID
	e.ActorID = req.FromID
	if req.Message != nil {
		e.ActorName = req.Message.FromName
		if e.ActorName == "" && req.Message.FromUsername != "" {
			e.ActorName = "@" + req.Message.FromUsername
		}
	}
	p.writeAudit(ctx, e)
}

// writeAudit never fails the caller; a lost audit line is logged.
func (p *Plugin) writeAudit(ctx context.Context, e storage.AuditEntry) {
	if p.deps.Store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	// The command context may already be near its deadline after a long
	// fan-out.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Store.AppendAudit(actx, e); err != nil {
		p.log.Warn("audit write failed", logx.String("action", e.Action), logx.Int64("chat_id", e.ChatID), logx.Err(err))
	}
}
