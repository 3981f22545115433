package app

import (
	"strings"
	"time"

	"github.com/Vagrant55/kaf-telegram-bot/internal/config"
	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

const defaultBusyTimeout = time.Second

func mapStorageConfig(cfg *config.Config, d config.Durations) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	switch driver {
	case "sqlite", "sqlite3":
		out.BusyTimeout = d.BusyTimeout
		if out.BusyTimeout <= 0 {
			out.BusyTimeout = defaultBusyTimeout
		}
	case "supabase", "postgrest":
		out.URL = strings.TrimSpace(sc.URL)
		out.Key = strings.TrimSpace(sc.Key)
		out.HTTPTimeout = d.HTTPTimeout
	}
	return out
}

// OpenStore opens the store configured in cfg. The cohorts command uses it
// without starting the service.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	d, err := config.ResolveDurations(cfg)
	if err != nil {
		return nil, err
	}
	sc := mapStorageConfig(cfg, d)
	if sc.Driver == "" || sc.Driver == "none" {
		return nil, config.ErrMissingStore
	}
	return storage.Open(sc, log)
}
