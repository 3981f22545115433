package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// state is the plain in-memory model shared by the memory and file backends.
// It is not safe for concurrent use; callers hold their own lock.
type state struct {
	order    []int64 // cohort insertion order
	cohorts  map[int64]CohortRecord
	sessions map[int64]Session
	dedup    map[string]int64 // unix milli
}

func newState() *state {
	return &state{
		cohorts:  map[int64]CohortRecord{},
		sessions: map[int64]Session{},
		dedup:    map[string]int64{},
	}
}

func (st *state) upsertCohort(r CohortRecord) {
	if _, ok := st.cohorts[r.ChatID]; !ok {
		st.order = append(st.order, r.ChatID)
	}
	st.cohorts[r.ChatID] = r
}

func (st *state) listCohort(t Target) []CohortRecord {
	out := make([]CohortRecord, 0, len(st.order))
	for _, id := range st.order {
		r, ok := st.cohorts[id]
		if ok && t.Matches(r.Cohort) {
			out = append(out, r)
		}
	}
	return out
}

func (st *state) takeSession(chatID int64) (Session, bool) {
	s, ok := st.sessions[chatID]
	if ok {
		delete(st.sessions, chatID)
	}
	return s, ok
}

// staleSessions lists sessions created before the cutoff. Legacy rows without
// a creation time are never stale.
func (st *state) staleSessions(before time.Time) []int64 {
	var out []int64
	for id, s := range st.sessions {
		if !s.CreatedAt.IsZero() && s.CreatedAt.Before(before) {
			out = append(out, id)
		}
	}
	return out
}

func (st *state) pruneSessions(before time.Time) []int64 {
	gone := st.staleSessions(before)
	for _, id := range gone {
		delete(st.sessions, id)
	}
	return gone
}

func (st *state) dedupHeld(key string, now int64) bool {
	cur, ok := st.dedup[key]
	return ok && cur >= now
}

func (st *state) claimDedup(key string, until, now int64) bool {
	if st.dedupHeld(key, now) {
		return false
	}
	st.dedup[key] = until
	return true
}

func (st *state) pruneDedup(now int64) int {
	n := 0
	for k, v := range st.dedup {
		if v < now {
			delete(st.dedup, k)
			n++
		}
	}
	return n
}

// Memory is an in-process Store. Data is lost on exit.
type Memory struct {
	mu    sync.Mutex
	st    *state
	audit []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) UpsertCohort(ctx context.Context, r CohortRecord) error {
	if err := r.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertCohort(r)
	return nil
}

func (m *Memory) ListCohort(ctx context.Context, t Target) ([]CohortRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listCohort(t), nil
}

func (m *Memory) PutSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.sessions[s.ChatID] = s
	return nil
}

func (m *Memory) TakeSession(ctx context.Context, chatID int64) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.takeSession(chatID)
	return s, ok, nil
}

func (m *Memory) PruneSessions(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.pruneSessions(before)), nil
}

func (m *Memory) ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.claimDedup(key, until.UnixMilli(), time.Now().UnixMilli()), nil
}

func (m *Memory) PruneDedup(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.pruneDedup(now.UnixMilli()), nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// AuditLog returns a copy of the appended audit entries.
func (m *Memory) AuditLog() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
