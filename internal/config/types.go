package config

// Config is the on-disk configuration (JSON or YAML). Environment variables
// override selected fields after the file is read; see env.go.
//
// Durations are Go duration strings ("500ms", "10s", "24h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Webhook   WebhookConfig   `json:"webhook"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Janitor   JanitorConfig   `json:"janitor"`
	Logging   LoggingConfig   `json:"logging"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides https://api.telegram.org (local bot-api server).
	APIURL string `json:"api_url,omitempty"`
	// AdminIDs is the privileged set allowed to open the broadcast menu.
	AdminIDs []int64 `json:"admin_ids"`
	Timeout  string  `json:"timeout,omitempty"`
}

// WebhookConfig controls the inbound HTTP server.
//
// Defaults:
//   - addr: ":10000"
//   - path: "/"
//   - max_body_bytes: 1 MiB
//   - dedup_window: "10m" ("0s" disables update dedup)
//   - handle_timeout: "0s" (no limit)
type WebhookConfig struct {
	Addr          string `json:"addr,omitempty"`
	Path          string `json:"path,omitempty"`
	MaxBodyBytes  int64  `json:"max_body_bytes,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	HandleTimeout string `json:"handle_timeout,omitempty"`
}

// BroadcastConfig controls fan-out and the pending-session window.
//
// Defaults:
//   - workers: 1 (sequential, store order)
//   - rate_per_sec: 25 (-1 disables pacing)
//   - send_timeout: "15s"
//   - session_ttl: "24h" ("0s" keeps sessions until used)
type BroadcastConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	SessionTTL  string `json:"session_ttl,omitempty"`
}

// StorageConfig selects the persisted store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relay.db" }
//	"storage": { "driver": "supabase", "url": "https://xyz.supabase.co", "key": "..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	URL         string `json:"url,omitempty"`          // supabase
	Key         string `json:"key,omitempty"`          // supabase (do not log)
	HTTPTimeout string `json:"http_timeout,omitempty"` // supabase
}

type JanitorConfig struct {
	// Enabled defaults to true when omitted.
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PprofConfig mounts pprof on the webhook listener. A token is required unless
// allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
