// Package fanout delivers one broadcast text to every recipient of a target cohort.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// DefaultRatePerSec stays under the Bot API bulk-send ceiling (~30 msg/s).
const DefaultRatePerSec = 25

type Config struct {
	// Workers > 1 enables a bounded concurrent stage. 0 or 1 sends sequentially
	// in store order.
	Workers int
	// RatePerSec paces outbound sends. 0 means DefaultRatePerSec, < 0 disables pacing.
	RatePerSec int
	// SendTimeout bounds each send as seen by the Messenger's ctx. The telegram
	// adapter honors it between message chunks; a single Bot API request is
	// bounded by telegram.timeout. 0 means no per-send timeout.
	SendTimeout time.Duration
}

// Result summarizes one fan-out.
//
// Sent counts send attempts issued, successful or not. Failed is informational.
type Result struct {
	Sent   int
	Failed int
	Took   time.Duration
}

type Engine struct {
	store   storage.Cohorts
	msg     transport.Messenger
	log     logx.Logger
	workers int
	limiter *rate.Limiter
	timeout time.Duration
}

func New(cfg Config, store storage.Cohorts, msg transport.Messenger, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var lim *rate.Limiter
	rps := cfg.RatePerSec
	if rps == 0 {
		rps = DefaultRatePerSec
	}
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return &Engine{
		store:   store,
		msg:     msg,
		log:     log,
		workers: workers,
		limiter: lim,
		timeout: cfg.SendTimeout,
	}
}

// FanOut resolves the recipients of target and sends text to each of them.
//
// A listing failure returns a zero Result and the error. Per-recipient failures
// are logged and never stop the fan-out. A canceled ctx stops issuing new sends;
// the partial Result is returned together with ctx.Err().
func (e *Engine) FanOut(ctx context.Context, text string, target storage.Target) (Result, error) {
	start := time.Now()
	recipients, err := e.store.ListCohort(ctx, target)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients for %s: %w", target, err)
	}

	e.log.Info("fanout started", logx.String("target", string(target)), logx.Int("total", len(recipients)), logx.Int("workers", e.workers))

	var res Result
	if e.workers <= 1 || len(recipients) <= 1 {
		res, err = e.sequential(ctx, text, recipients)
	} else {
		res, err = e.concurrent(ctx, text, recipients)
	}
	res.Took = time.Since(start)

	fields := []logx.Field{
		logx.String("target", string(target)),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", res.Took),
	}
	switch {
	case err != nil:
		e.log.Warn("fanout interrupted", append(fields, logx.Err(err))...)
	case res.Failed > 0:
		e.log.Warn("fanout finished with failures", fields...)
	default:
		e.log.Info("fanout finished", fields...)
	}
	return res, err
}

func (e *Engine) sequential(ctx context.Context, text string, recipients []storage.CohortRecord) (Result, error) {
	var res Result
	for _, r := range recipients {
		if err := e.wait(ctx); err != nil {
			return res, err
		}
		if err := e.sendOne(ctx, r.ChatID, text); err != nil {
			res.Failed++
		}
		res.Sent++
	}
	return res, nil
}

// concurrent sends through at most e.workers goroutines. Completion order is not
// store order.
func (e *Engine) concurrent(ctx context.Context, text string, recipients []storage.CohortRecord) (Result, error) {
	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.workers)

	var stopErr error
	for _, r := range recipients {
		if err := e.wait(ctx); err != nil {
			stopErr = err
			break
		}
		chatID := r.ChatID
		g.Go(func() error {
			if err := e.sendOne(ctx, chatID, text); err != nil {
				failed.Add(1)
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return Result{Sent: int(sent.Load()), Failed: int(failed.Load())}, stopErr
}

func (e *Engine) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *Engine) sendOne(ctx context.Context, chatID int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in fanout send", logx.Int64("chat_id", chatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	sctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err = e.msg.SendText(sctx, chatID, text, nil); err != nil {
		e.log.Warn("fanout send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return err
}
