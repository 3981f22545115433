package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the variables a hosted deployment is configured with.
// Set values win over the config file.
type envOverrides struct {
	Token         string  `env:"TELEGRAM_BOT_TOKEN"`
	SupabaseURL   string  `env:"SUPABASE_URL"`
	SupabaseKey   string  `env:"SUPABASE_ANON_KEY"`
	AdminIDs      []int64 `env:"ADMIN_CHAT_IDS" envSeparator:","`
	Port          string  `env:"PORT"`
	StorageDriver string  `env:"STORAGE_DRIVER"`
	StoragePath   string  `env:"STORAGE_PATH"`
	LogLevel      string  `env:"LOG_LEVEL"`
}

// environ returns the process environment as a map.
func environ() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// ApplyEnv overlays environment variables from vars onto cfg.
func ApplyEnv(cfg *Config, vars map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		return err
	}

	if v := strings.TrimSpace(o.Token); v != "" {
		cfg.Telegram.Token = v
	}
	if len(o.AdminIDs) > 0 {
		cfg.Telegram.AdminIDs = o.AdminIDs
	}
	if v := strings.TrimSpace(o.SupabaseURL); v != "" {
		cfg.Storage.URL = v
		// SUPABASE_URL alone selects the supabase driver unless one is set.
		if strings.TrimSpace(cfg.Storage.Driver) == "" && strings.TrimSpace(o.StorageDriver) == "" {
			cfg.Storage.Driver = "supabase"
		}
	}
	if v := strings.TrimSpace(o.SupabaseKey); v != "" {
		cfg.Storage.Key = v
	}
	if v := strings.TrimSpace(o.StorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := strings.TrimSpace(o.StoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(o.Port); v != "" {
		if _, err := strconv.ParseUint(v, 10, 16); err != nil {
			return &FieldError{Field: "PORT", Err: err}
		}
		cfg.Webhook.Addr = ":" + v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
