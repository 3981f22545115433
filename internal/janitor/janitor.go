// Package janitor periodically prunes stale broadcast sessions and expired
// update dedup keys on a cron schedule.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

const DefaultSchedule = "@every 10m"

type Config struct {
	// Schedule is a cron spec (5 or 6 fields) or a descriptor such as "@every 10m".
	Schedule string
	// SessionTTL is the session validity window. 0 keeps sessions forever.
	SessionTTL time.Duration
	Timezone   string
	// Timeout bounds one sweep. 0 means 1 minute.
	Timeout time.Duration
}

// Store is what a sweep prunes.
type Store interface {
	PruneSessions(ctx context.Context, before time.Time) (int, error)
	PruneDedup(ctx context.Context, now time.Time) (int, error)
}

type Report struct {
	Sessions int
	Dedup    int
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	store  Store
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	now    func() time.Time

	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Service{
		cfg:   cfg,
		store: store,
		log:   log,
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return nil
}

// Start registers the sweep and starts cron. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	sched, err := s.parser.Parse(strings.TrimSpace(s.cfg.Schedule))
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", s.cfg.Schedule, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	runCtx := s.runCtx
	s.c.Schedule(sched, cron.FuncJob(func() { _, _ = s.RunOnce(runCtx) }))
	s.c.Start()
	s.log.Info("janitor started", logx.String("schedule", s.cfg.Schedule), logx.Duration("session_ttl", s.cfg.SessionTTL))
	return nil
}

// Stop halts scheduling and waits for a running sweep until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()
	s.log.Info("janitor stopped")
}

// RunOnce performs one sweep. Both prunes run even if the first fails.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	now := s.now()
	var rep Report
	var errs []error
	if s.cfg.SessionTTL > 0 {
		n, err := s.store.PruneSessions(ctx, now.Add(-s.cfg.SessionTTL))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune sessions: %w", err))
		}
		rep.Sessions = n
	}
	n, err := s.store.PruneDedup(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune dedup: %w", err))
	}
	rep.Dedup = n

	err = errors.Join(errs...)
	switch {
	case err != nil:
		s.log.Warn("janitor sweep failed", logx.Err(err), logx.Int("sessions", rep.Sessions), logx.Int("dedup", rep.Dedup))
	case rep.Sessions > 0 || rep.Dedup > 0:
		s.log.Info("janitor sweep", logx.Int("sessions", rep.Sessions), logx.Int("dedup", rep.Dedup))
	default:
		s.log.Debug("janitor sweep: nothing to prune")
	}
	return rep, err
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
