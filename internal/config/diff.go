package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// SummarizeChange compares two configs and returns the changed sections, safe
// structured fields for logging (never secrets), and the changed sections that
// only take effect after a restart. Logging is the only hot-applied section.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(section string, hot bool, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !hot {
			restart = append(restart, section)
		}
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.APIURL != n.APIURL || o.Timeout != n.Timeout || !reflect.DeepEqual(o.AdminIDs, n.AdminIDs) {
		mark("telegram", false,
			logx.Int("telegram.admin_count", len(n.AdminIDs)),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(n.APIURL) != ""),
		)
	}

	if oldCfg.Webhook != newCfg.Webhook {
		mark("webhook", false,
			logx.String("webhook.addr", newCfg.Webhook.Addr),
			logx.String("webhook.path", newCfg.Webhook.Path),
			logx.String("webhook.dedup_window", newCfg.Webhook.DedupWindow),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		mark("broadcast", false,
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.String("broadcast.session_ttl", newCfg.Broadcast.SessionTTL),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", false,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.key_set", strings.TrimSpace(newCfg.Storage.Key) != ""),
		)
	}

	if oldCfg.JanitorEnabled() != newCfg.JanitorEnabled() ||
		oldCfg.Janitor.Schedule != newCfg.Janitor.Schedule ||
		oldCfg.Janitor.Timezone != newCfg.Janitor.Timezone {
		mark("janitor", false,
			logx.Bool("janitor.enabled", newCfg.JanitorEnabled()),
			logx.String("janitor.schedule", newCfg.Janitor.Schedule),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", true,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		oldCfg.Pprof.Prefix != newCfg.Pprof.Prefix ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		oldCfg.Pprof.Token != newCfg.Pprof.Token {
		mark("pprof", false,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
