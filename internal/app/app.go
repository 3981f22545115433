// Package app wires configuration, logging, storage, the relay state machine,
// the webhook server and the janitor into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Vagrant55/kaf-telegram-bot/internal/config"
	"github.com/Vagrant55/kaf-telegram-bot/internal/fanout"
	"github.com/Vagrant55/kaf-telegram-bot/internal/janitor"
	"github.com/Vagrant55/kaf-telegram-bot/internal/relay"
	rtsup "github.com/Vagrant55/kaf-telegram-bot/internal/runtime/supervisor"
	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	"github.com/Vagrant55/kaf-telegram-bot/internal/transport/telegram"
	"github.com/Vagrant55/kaf-telegram-bot/internal/webhook"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
	"github.com/Vagrant55/kaf-telegram-bot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   storage.Store
	fan     *fanout.Engine
	machine *relay.Machine
	disp    *relay.Dispatcher
	server  *webhook.Server
	janitor *janitor.Service
}

type Option func(*options)

type options struct {
	environ map[string]string
	store   storage.Store
}

// WithEnviron replaces the process environment as the config override source.
func WithEnviron(vars map[string]string) Option {
	return func(o *options) { o.environ = vars }
}

// WithStore uses st instead of opening the configured store. The app closes
// it on Stop.
func WithStore(st storage.Store) Option {
	return func(o *options) { o.store = st }
}

// NewApp loads and validates the config and builds every component. Nothing
// runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	if o.environ != nil {
		cfgm.SetEnviron(o.environ)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if o.store != nil && strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "memory"
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	d, err := config.ResolveDurations(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapTelegramConfig(cfg, d), bootLog)
	if err != nil {
		return nil, err
	}

	// The adapter exists before the log service, so the Telegram sink can use it.
	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))
	ad.SetLogger(logSvc.Logger().With(logx.String("comp", "telegram")))

	store := o.store
	if store == nil {
		store, err = OpenStore(cfg, logSvc.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}
	log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	set := relay.NewSettings(cfg.Telegram.AdminIDs, d.SessionTTL)
	if len(set.Admins()) == 0 {
		log.Warn("no admin chat ids configured; broadcasting is disabled")
	}

	fan := fanout.New(mapFanoutConfig(cfg, d), store, ad, logSvc.Logger().With(logx.String("comp", "fanout")))
	machine := relay.NewMachine(set, store, ad, fan, logSvc.Logger().With(logx.String("comp", "relay")))
	disp := relay.NewDispatcher(mapDispatcherConfig(d), machine, store, logSvc.Logger().With(logx.String("comp", "dispatch")))
	server := webhook.New(mapWebhookConfig(cfg, d), disp, logSvc.Logger().With(logx.String("comp", "webhook")))

	var jan *janitor.Service
	if cfg.JanitorEnabled() {
		jan = janitor.New(mapJanitorConfig(cfg, d), store, logSvc.Logger().With(logx.String("comp", "janitor")))
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		fan:     fan,
		machine: machine,
		disp:    disp,
		server:  server,
		janitor: jan,
	}, nil
}

// validateConfig runs the startup checks plus those config cannot do itself.
// Reloads use the same rules.
func validateConfig(_ context.Context, cfg *config.Config) error {
	var errs []error
	if err := config.Validate(cfg); err != nil {
		errs = append(errs, err)
	}
	if s := strings.TrimSpace(cfg.Janitor.Schedule); s != "" {
		if err := janitor.ValidateSchedule(s); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Janitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("janitor.timezone: invalid %q: %w", tz, err))
		}
	}
	return errors.Join(errs...)
}

// Addr is the webhook listen address once started.
func (a *App) Addr() string { return a.server.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if a.janitor != nil {
		if err := a.janitor.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if err := a.server.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	serverDone := a.server.Done()
	a.sup.Go("webhook.monitor", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-serverDone:
			return a.server.Err()
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if wd := systemd.WatchdogInterval(); wd > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error { return systemd.RunWatchdog(c, wd) })
	}
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.String("addr", a.server.Addr()))
	return nil
}

// reloadLoop applies logging changes from config reloads. Every other section
// is read once at startup and only logged as requiring a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
		// Coalesce bursts: keep only the latest config.
		for drained := false; !drained; {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				drained = true
			}
		}

		sections, attrs, restart := config.SummarizeChange(lastApplied, next)
		lastApplied = next
		if len(sections) == 0 {
			a.log.Debug("config reload received, but no effective changes detected")
			continue
		}

		a.logs.Apply(mapLoggingConfig(next))

		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
		if len(restart) > 0 {
			a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
		}
	}
}

// Stop shuts components down in dependency order. Each step has its own upper
// bound so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStatic()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// The webhook drains in-flight updates before the context is canceled, so a
	// running broadcast can finish.
	a.step(ctx, "webhook", 10*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "janitor", 2*time.Second, func(c context.Context) error {
		if a.janitor != nil {
			a.janitor.Stop(c)
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	err := a.sup.Err()
	if err != nil {
		a.log.Error("stopped with error", logx.Err(err))
	} else {
		a.log.Info("stopped")
	}
	_ = a.logs.Close()
	return err
}

// closeStatic releases resources of an app that was never started.
func (a *App) closeStatic() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}

// step runs fn with a bounded timeout that never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
