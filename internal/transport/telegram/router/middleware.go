package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "poolbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

var ErrUnauthorized = errors.New("unauthorized")

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWAccess rejects requests below the required access level and tells the
// user so.
func MWAccess(need Access, authz Authorizer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if need == AccessEveryone || req.IsOwner() {
				return next(ctx, req)
			}
			if need == AccessModerator && authz != nil {
				ok, err := authz(ctx, req.Chat.ChatID, req.FromID)
				if err != nil {
					return fmt.Errorf("authorize: %w", err)
				}
				if ok {
					return next(ctx, req)
				}
			}
			_ = req.Reply(ctx, msgUnauthorized)
			return ErrUnauthorized
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			switch {
			case errors.Is(err, ErrUnauthorized):
				logger.Debug("request denied", logx.Duration("dur", d))
			case err != nil:
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			case d >= 750*time.Millisecond:
				// Short successful requests stay at DEBUG.
				logger.Info("request ok", logx.Duration("dur", d))
			default:
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}
