package app

import (
	"github.com/Vagrant55/kaf-telegram-bot/internal/config"
	"github.com/Vagrant55/kaf-telegram-bot/internal/fanout"
	"github.com/Vagrant55/kaf-telegram-bot/internal/janitor"
	"github.com/Vagrant55/kaf-telegram-bot/internal/relay"
	"github.com/Vagrant55/kaf-telegram-bot/internal/transport/telegram"
	"github.com/Vagrant55/kaf-telegram-bot/internal/webhook"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// Config section to component config mapping. Durations are resolved once so
// every mapper sees the same defaults.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config, d config.Durations) telegram.Config {
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: d.TelegramTimeout,
	}
}

func mapFanoutConfig(cfg *config.Config, d config.Durations) fanout.Config {
	return fanout.Config{
		Workers:     cfg.Broadcast.Workers,
		RatePerSec:  cfg.Broadcast.RatePerSec,
		SendTimeout: d.SendTimeout,
	}
}

func mapDispatcherConfig(d config.Durations) relay.DispatcherConfig {
	return relay.DispatcherConfig{DedupWindow: d.DedupWindow, Timeout: d.HandleTimeout}
}

func mapWebhookConfig(cfg *config.Config, d config.Durations) webhook.Config {
	w := cfg.Webhook
	return webhook.Config{
		Addr:         w.Addr,
		Path:         w.Path,
		MaxBodyBytes: w.MaxBodyBytes,
		ReadTimeout:  d.ReadTimeout,
		WriteTimeout: d.WriteTimeout,
		IdleTimeout:  d.IdleTimeout,
		Pprof: webhook.PprofConfig{
			Enabled:       cfg.Pprof.Enabled,
			Prefix:        cfg.Pprof.Prefix,
			Token:         cfg.Pprof.Token,
			AllowInsecure: cfg.Pprof.AllowInsecure,
		},
	}
}

func mapJanitorConfig(cfg *config.Config, d config.Durations) janitor.Config {
	return janitor.Config{
		Schedule:   cfg.Janitor.Schedule,
		SessionTTL: d.SessionTTL,
		Timezone:   cfg.Janitor.Timezone,
	}
}
