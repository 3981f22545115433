package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// Table names in the Supabase project. employees and admin_sessions are the
// base schema; admin_sessions.created_at, webhook_dedup and broadcast_audit come
// from supabase/migrations.sql and are optional.
const (
	tableEmployees = "employees"
	tableSessions  = "admin_sessions"
	tableDedup     = "webhook_dedup"
	tableAudit     = "broadcast_audit"
)

// supabaseStore talks to a Supabase project through its PostgREST API.
//
// Atomicity comes from single-statement requests: TakeSession is one DELETE with
// "Prefer: return=representation", so only one caller ever receives the row.
//
// A missing optional column or table is detected on first use and the feature
// is switched off for the life of the store: sessions are written without
// created_at (and never expire), dedup claims always succeed, audit entries are
// dropped.
type supabaseStore struct {
	base string // https://<project>.supabase.co/rest/v1/
	key  string
	http *http.Client
	log  logx.Logger

	noCreatedAt atomic.Bool
	noDedup     atomic.Bool
	noAudit     atomic.Bool
}

// apiError is a non-2xx PostgREST answer.
type apiError struct {
	Method  string
	Table   string
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supabase %s %s failed: %s (code=%s http=%d)", e.Method, e.Table, e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("supabase %s %s failed: http=%d", e.Method, e.Table, e.Status)
}

// missingColumn reports a write or filter naming a column the table lacks.
// PGRST204: not in the schema cache. 42703: undefined_column.
func missingColumn(err error, col string) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	return (ae.Code == "PGRST204" || ae.Code == "42703") && strings.Contains(ae.Message, col)
}

// missingTable reports a request against a table that does not exist.
// PGRST205: not in the schema cache. 42P01: undefined_table.
func missingTable(err error) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == "PGRST205" || ae.Code == "42P01" || (ae.Code == "" && ae.Status == http.StatusNotFound)
}

// disable switches an optional feature off once and says so.
func (s *supabaseStore) disable(flag *atomic.Bool, what string, err error) {
	if flag.CompareAndSwap(false, true) {
		s.log.Warn("supabase schema lacks "+what+", feature disabled; apply supabase/migrations.sql to enable it", logx.Err(err))
	}
}

func openSupabase(cfg Config, log logx.Logger) (Store, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("supabase url is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, errors.New("supabase key is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", raw)
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(u.String(), "/") + "/rest/v1/"
	return &supabaseStore{
		base: base,
		key:  key,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

func (s *supabaseStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// do sends one PostgREST request. When out is non-nil the response body is decoded into it.
func (s *supabaseStore) do(ctx context.Context, method, table string, q url.Values, prefer string, body, out any) error {
	endpoint := s.base + table
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var perr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(b, &perr)
		return &apiError{Method: method, Table: table, Status: resp.StatusCode, Code: perr.Code, Message: perr.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func eq(v string) string { return "eq." + v }

func (s *supabaseStore) UpsertCohort(ctx context.Context, r CohortRecord) error {
	if err := r.validate(); err != nil {
		return err
	}
	q := url.Values{"on_conflict": {"chat_id"}}
	return s.do(ctx, http.MethodPost, tableEmployees, q,
		"resolution=merge-duplicates,return=minimal", []CohortRecord{r}, nil)
}

func (s *supabaseStore) ListCohort(ctx context.Context, t Target) ([]CohortRecord, error) {
	q := url.Values{"select": {"chat_id,name,type"}}
	if t != TargetAll {
		q.Set("type", eq(string(t)))
	}
	var out []CohortRecord
	if err := s.do(ctx, http.MethodGet, tableEmployees, q, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// sessionRow mirrors admin_sessions; created_at may be null for rows written by older clients.
type sessionRow struct {
	ChatID    int64      `json:"chat_id"`
	Target    Target     `json:"awaiting_broadcast_type"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func (r sessionRow) session() Session {
	s := Session{ChatID: r.ChatID, Target: r.Target}
	if r.CreatedAt != nil {
		s.CreatedAt = *r.CreatedAt
	}
	return s
}

func (s *supabaseStore) PutSession(ctx context.Context, sess Session) error {
	row := sessionRow{ChatID: sess.ChatID, Target: sess.Target}
	if !sess.CreatedAt.IsZero() && !s.noCreatedAt.Load() {
		ts := sess.CreatedAt.UTC()
		row.CreatedAt = &ts
	}
	q := url.Values{"on_conflict": {"chat_id"}}
	const prefer = "resolution=merge-duplicates,return=minimal"
	err := s.do(ctx, http.MethodPost, tableSessions, q, prefer, []sessionRow{row}, nil)
	if row.CreatedAt != nil && missingColumn(err, "created_at") {
		s.disable(&s.noCreatedAt, tableSessions+".created_at", err)
		row.CreatedAt = nil
		err = s.do(ctx, http.MethodPost, tableSessions, q, prefer, []sessionRow{row}, nil)
	}
	return err
}

func (s *supabaseStore) TakeSession(ctx context.Context, chatID int64) (Session, bool, error) {
	q := url.Values{"chat_id": {eq(strconv.FormatInt(chatID, 10))}}
	var rows []sessionRow
	if err := s.do(ctx, http.MethodDelete, tableSessions, q, "return=representation", nil, &rows); err != nil {
		return Session{}, false, err
	}
	if len(rows) == 0 {
		return Session{}, false, nil
	}
	return rows[0].session(), true, nil
}

func (s *supabaseStore) PruneSessions(ctx context.Context, before time.Time) (int, error) {
	if s.noCreatedAt.Load() {
		return 0, nil
	}
	q := url.Values{"created_at": {"lt." + before.UTC().Format(time.RFC3339)}}
	var rows []sessionRow
	if err := s.do(ctx, http.MethodDelete, tableSessions, q, "return=representation", nil, &rows); err != nil {
		if missingColumn(err, "created_at") {
			s.disable(&s.noCreatedAt, tableSessions+".created_at", err)
			return 0, nil
		}
		return 0, err
	}
	return len(rows), nil
}

type dedupRow struct {
	Key   string    `json:"key"`
	Until time.Time `json:"until"`
}

// ClaimDedup inserts the key and ignores duplicates. Expired keys keep blocking
// until PruneDedup removes them.
func (s *supabaseStore) ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error) {
	if key == "" || s.noDedup.Load() {
		return true, nil
	}
	q := url.Values{"on_conflict": {"key"}}
	var rows []dedupRow
	err := s.do(ctx, http.MethodPost, tableDedup, q,
		"resolution=ignore-duplicates,return=representation",
		[]dedupRow{{Key: key, Until: until.UTC()}}, &rows)
	if missingTable(err) {
		s.disable(&s.noDedup, tableDedup, err)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *supabaseStore) PruneDedup(ctx context.Context, now time.Time) (int, error) {
	if s.noDedup.Load() {
		return 0, nil
	}
	q := url.Values{"until": {"lt." + now.UTC().Format(time.RFC3339)}}
	var rows []dedupRow
	if err := s.do(ctx, http.MethodDelete, tableDedup, q, "return=representation", nil, &rows); err != nil {
		if missingTable(err) {
			s.disable(&s.noDedup, tableDedup, err)
			return 0, nil
		}
		return 0, err
	}
	return len(rows), nil
}

func (s *supabaseStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s.noAudit.Load() {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	err := s.do(ctx, http.MethodPost, tableAudit, nil, "return=minimal", []AuditEntry{e}, nil)
	if missingTable(err) {
		s.disable(&s.noAudit, tableAudit, err)
		return nil
	}
	return err
}
