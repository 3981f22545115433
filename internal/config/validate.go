package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingToken = errors.New("telegram token is not configured (telegram.token or TELEGRAM_BOT_TOKEN)")
	ErrMissingStore = errors.New("storage is not configured (storage.driver, STORAGE_DRIVER or SUPABASE_URL)")
)

// FieldError is a validation failure for one config field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

const (
	DefaultTelegramTimeout = 10 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultIdleTimeout     = 60 * time.Second
	DefaultDedupWindow     = 10 * time.Minute
	DefaultSendTimeout     = 15 * time.Second
	DefaultSessionTTL      = 24 * time.Hour
	DefaultHTTPTimeout     = 10 * time.Second
)

// Durations holds the parsed duration fields with defaults applied.
type Durations struct {
	TelegramTimeout time.Duration

	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	DedupWindow   time.Duration
	HandleTimeout time.Duration

	SendTimeout time.Duration
	SessionTTL  time.Duration

	BusyTimeout time.Duration
	HTTPTimeout time.Duration
}

// ResolveDurations parses every duration field. All invalid fields are reported.
func ResolveDurations(cfg *Config) (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	or := func(dst *time.Duration, path, raw string, def time.Duration) {
		v, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}
	unless := func(dst *time.Duration, path, raw string, def time.Duration) {
		v, err := ParseDurationUnlessSet(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}

	or(&d.TelegramTimeout, "telegram.timeout", cfg.Telegram.Timeout, DefaultTelegramTimeout)
	or(&d.ReadTimeout, "webhook.read_timeout", cfg.Webhook.ReadTimeout, DefaultReadTimeout)
	or(&d.WriteTimeout, "webhook.write_timeout", cfg.Webhook.WriteTimeout, DefaultWriteTimeout)
	or(&d.IdleTimeout, "webhook.idle_timeout", cfg.Webhook.IdleTimeout, DefaultIdleTimeout)
	unless(&d.DedupWindow, "webhook.dedup_window", cfg.Webhook.DedupWindow, DefaultDedupWindow)
	unless(&d.HandleTimeout, "webhook.handle_timeout", cfg.Webhook.HandleTimeout, 0)
	unless(&d.SendTimeout, "broadcast.send_timeout", cfg.Broadcast.SendTimeout, DefaultSendTimeout)
	unless(&d.SessionTTL, "broadcast.session_ttl", cfg.Broadcast.SessionTTL, DefaultSessionTTL)
	or(&d.BusyTimeout, "storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	or(&d.HTTPTimeout, "storage.http_timeout", cfg.Storage.HTTPTimeout, DefaultHTTPTimeout)

	return d, errors.Join(errs...)
}

// Validate checks that cfg can start the service.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	for _, id := range cfg.Telegram.AdminIDs {
		if id == 0 {
			errs = append(errs, &FieldError{Field: "telegram.admin_ids", Err: errors.New("chat id 0 is not valid")})
			break
		}
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); driver {
	case "", "none":
		errs = append(errs, ErrMissingStore)
	case "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, &FieldError{Field: "storage.path", Err: fmt.Errorf("required for driver %q", driver)})
		}
	case "supabase", "postgrest":
		if strings.TrimSpace(cfg.Storage.URL) == "" {
			errs = append(errs, &FieldError{Field: "storage.url", Err: errors.New("required for supabase")})
		}
		if strings.TrimSpace(cfg.Storage.Key) == "" {
			errs = append(errs, &FieldError{Field: "storage.key", Err: errors.New("required for supabase")})
		}
	default:
		errs = append(errs, &FieldError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", driver)})
	}

	if cfg.Webhook.MaxBodyBytes < 0 {
		errs = append(errs, &FieldError{Field: "webhook.max_body_bytes", Err: errors.New("must be >= 0")})
	}
	if cfg.Broadcast.Workers < 0 {
		errs = append(errs, &FieldError{Field: "broadcast.workers", Err: errors.New("must be >= 0")})
	}
	if t := cfg.Logging.Telegram; t.Enabled && t.ChatID == 0 {
		errs = append(errs, &FieldError{Field: "logging.telegram.chat_id", Err: errors.New("required when enabled")})
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, &FieldError{Field: "logging.file.path", Err: errors.New("required when enabled")})
	}

	if _, err := ResolveDurations(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// JanitorEnabled reports the effective janitor switch (default on).
func (c *Config) JanitorEnabled() bool {
	return c.Janitor.Enabled == nil || *c.Janitor.Enabled
}
