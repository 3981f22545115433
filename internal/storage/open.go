package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// Cohorts stores cohort records keyed by chat id.
type Cohorts interface {
	// UpsertCohort inserts or overwrites the record for r.ChatID.
	UpsertCohort(ctx context.Context, r CohortRecord) error
	// ListCohort returns records matching t in store iteration order.
	ListCohort(ctx context.Context, t Target) ([]CohortRecord, error)
}

// Sessions stores at most one pending broadcast session per admin.
type Sessions interface {
	PutSession(ctx context.Context, s Session) error
	// TakeSession atomically deletes and returns the session for chatID.
	// Two concurrent takes for the same chat never both report ok.
	TakeSession(ctx context.Context, chatID int64) (Session, bool, error)
	// PruneSessions deletes sessions created before the cutoff.
	PruneSessions(ctx context.Context, before time.Time) (int, error)
}

// Dedup remembers keys for a bounded window.
type Dedup interface {
	// ClaimDedup records key until the given time. It reports false if the key
	// is already held by an unexpired claim.
	ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error)
	PruneDedup(ctx context.Context, now time.Time) (int, error)
}

type Audit interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Store is the persistence API used by the relay.
type Store interface {
	Cohorts
	Sessions
	Dedup
	Audit
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "supabase", "postgrest":
		return openSupabase(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
