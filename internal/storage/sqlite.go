package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertCohort(ctx context.Context, r CohortRecord) error {
	if err := r.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employees(chat_id, name, type) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET name=excluded.name, type=excluded.type`,
		r.ChatID, r.Name, string(r.Cohort),
	)
	return err
}

func (s *sqliteStore) ListCohort(ctx context.Context, t Target) ([]CohortRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if t == TargetAll {
		rows, err = s.db.QueryContext(ctx, `SELECT chat_id, name, type FROM employees`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT chat_id, name, type FROM employees WHERE type = ?`, string(t))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CohortRecord, 0, 64)
	for rows.Next() {
		var (
			r      CohortRecord
			cohort string
		)
		if err := rows.Scan(&r.ChatID, &r.Name, &cohort); err != nil {
			return nil, err
		}
		r.Cohort = Cohort(cohort)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_sessions(chat_id, awaiting_broadcast_type, created_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET awaiting_broadcast_type=excluded.awaiting_broadcast_type, created_at=excluded.created_at`,
		sess.ChatID, string(sess.Target), unixMilli(sess.CreatedAt),
	)
	return err
}

func (s *sqliteStore) TakeSession(ctx context.Context, chatID int64) (Session, bool, error) {
	var (
		target string
		ms     int64
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM admin_sessions WHERE chat_id = ? RETURNING awaiting_broadcast_type, created_at`,
		chatID,
	).Scan(&target, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	sess := Session{ChatID: chatID, Target: Target(target)}
	if ms > 0 {
		sess.CreatedAt = time.UnixMilli(ms)
	}
	return sess, true, nil
}

func (s *sqliteStore) PruneSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM admin_sessions WHERE created_at > 0 AND created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error) {
	if key == "" {
		return true, nil
	}
	// Insert, or take over an expired claim. An unexpired claim leaves the row untouched.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until WHERE dedup.until < ?`,
		key, until.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) PruneDedup(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, fail, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	return err
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
