package relay

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

type DispatcherConfig struct {
	// DedupWindow is how long an update_id is remembered. 0 disables dedup.
	DedupWindow time.Duration
	// Timeout bounds the handling of one update. 0 means no limit.
	Timeout time.Duration
}

// Dispatcher is the webhook entry point. Handle never returns an error and
// never panics.
type Dispatcher struct {
	machine *Machine
	log     logx.Logger
	h       HandlerFunc
}

// NewDispatcher wires the dispatch chain. dedup may be nil.
func NewDispatcher(cfg DispatcherConfig, m *Machine, dedup storage.Dedup, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{machine: m, log: log}
	d.h = Chain(d.route,
		MWRequestLog(log),
		MWPanicRecover(log),
		MWTimeout(cfg.Timeout),
		MWDedup(dedup, cfg.DedupWindow, m.set.now),
	)
	return d
}

func (d *Dispatcher) Handle(ctx context.Context, u *tele.Update) {
	d.HandleWithLogger(ctx, u, d.log)
}

// HandleWithLogger is Handle with a request-scoped logger.
func (d *Dispatcher) HandleWithLogger(ctx context.Context, u *tele.Update, log logx.Logger) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic outside dispatch chain", logx.Any("panic", r))
		}
	}()
	if log.IsZero() {
		log = d.log
	}
	if u != nil && u.ID != 0 {
		log = log.With(logx.Int("update_id", u.ID))
	}
	req := &Request{Update: u, Event: Classify(u), Logger: log}
	_ = d.h(ctx, req)
}

func (d *Dispatcher) route(ctx context.Context, req *Request) error {
	switch ev := req.Event.(type) {
	case TextEvent:
		return d.machine.HandleText(ctx, ev)
	case CallbackEvent:
		return d.machine.HandleCallback(ctx, ev)
	default:
		return nil
	}
}
