package app

import (
	"context"
	"sync/atomic"

	kit "poolbot/internal/transport"
)

// logSink forwards rendered log records to the operator log chat. Records
// are dropped while no target is configured.
type logSink struct {
	ad     kit.Adapter
	target atomic.Pointer[kit.ChatTarget]
}

func (s *logSink) setTarget(t kit.ChatTarget, ok bool) {
	if !ok {
		s.target.Store(nil)
		return
	}
	s.target.Store(&t)
}

func (s *logSink) SendLog(ctx context.Context, text string) error {
	t := s.target.Load()
	if t == nil {
		return nil
	}
	_, err := s.ad.SendText(ctx, *t, text, &kit.SendOptions{DisablePreview: true})
	return err
}
