package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrInvalidRecord = errors.New("invalid record")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (tests, local runs)
//   - "file": JSON snapshot + append-only journal
//   - "sqlite": SQLite database file
//   - "supabase": PostgREST endpoint (URL + Key)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	URL         string        // supabase only
	Key         string        // supabase only
	HTTPTimeout time.Duration // supabase only; 0 means 10s
}

// Cohort is the self-selected classification of a chat.
type Cohort string

const (
	CohortMilitary Cohort = "military"
	CohortCivil    Cohort = "civil"
)

func ParseCohort(s string) (Cohort, bool) {
	switch Cohort(strings.TrimSpace(s)) {
	case CohortMilitary:
		return CohortMilitary, true
	case CohortCivil:
		return CohortCivil, true
	}
	return "", false
}

// Target selects broadcast recipients: one cohort or all of them.
type Target string

const (
	TargetAll      Target = "all"
	TargetMilitary Target = Target(CohortMilitary)
	TargetCivil    Target = Target(CohortCivil)
)

func ParseTarget(s string) (Target, bool) {
	switch Target(strings.TrimSpace(s)) {
	case TargetAll:
		return TargetAll, true
	case TargetMilitary:
		return TargetMilitary, true
	case TargetCivil:
		return TargetCivil, true
	}
	return "", false
}

// Matches reports whether a record of cohort c is a recipient of t.
func (t Target) Matches(c Cohort) bool {
	return t == TargetAll || Cohort(t) == c
}

// CohortRecord maps to a row of the employees table.
type CohortRecord struct {
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
	Cohort Cohort `json:"type"`
}

func (r CohortRecord) validate() error {
	if r.ChatID <= 0 {
		return errors.Join(ErrInvalidRecord, errors.New("chat_id must be > 0"))
	}
	if _, ok := ParseCohort(string(r.Cohort)); !ok {
		return errors.Join(ErrInvalidRecord, errors.New("unknown cohort "+string(r.Cohort)))
	}
	return nil
}

// Session maps to a row of the admin_sessions table: the admin's next text is
// the body of a broadcast to Target.
type Session struct {
	ChatID    int64     `json:"chat_id"`
	Target    Target    `json:"awaiting_broadcast_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is older than ttl at now. ttl <= 0 never expires;
// a zero CreatedAt (legacy rows) never expires either.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(s.CreatedAt) > ttl
}

// AuditEntry records one completed broadcast.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Target  string    `json:"target"`
	OK      int       `json:"ok"`
	Fail    int       `json:"fail"`
	Error   string    `json:"err,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
