package relay

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// Request is one update moving through the dispatch chain.
type Request struct {
	Update *tele.Update
	Event  Event
	Logger logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

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

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
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

			fields := append(eventFields(req.Event), logx.Duration("dur", d))
			if err != nil {
				logger.Warn("update failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				logger.Info("update ok", fields...)
			} else {
				logger.Debug("update ok", fields...)
			}
			return err
		}
	}
}

// MWDedup drops updates whose update_id was already claimed inside window.
// Store failures let the update through.
func MWDedup(d storage.Dedup, window time.Duration, now func() time.Time) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d == nil || window <= 0 || req.Update == nil || req.Update.ID == 0 {
				return next(ctx, req)
			}
			key := "update:" + strconv.Itoa(req.Update.ID)
			ok, err := d.ClaimDedup(ctx, key, now().Add(window))
			if err != nil {
				req.Logger.Warn("dedup claim failed", logx.String("key", key), logx.Err(err))
				return next(ctx, req)
			}
			if !ok {
				req.Logger.Debug("duplicate update skipped", logx.String("key", key))
				return nil
			}
			return next(ctx, req)
		}
	}
}

func eventFields(ev Event) []logx.Field {
	switch e := ev.(type) {
	case TextEvent:
		fields := []logx.Field{logx.String("kind", string(KindText)), logx.Int64("chat_id", e.Identity)}
		if strings.HasPrefix(e.Text, "/") {
			fields = append(fields, logx.String("cmd", e.Text))
		}
		return fields
	case CallbackEvent:
		return []logx.Field{
			logx.String("kind", string(KindCallback)),
			logx.Int64("chat_id", e.Identity),
			logx.Int64("from_id", e.Actor),
			logx.String("payload", e.Payload),
		}
	default:
		return []logx.Field{logx.String("kind", string(KindUnrecognized))}
	}
}
