package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (periodic snapshot of cohorts, sessions, dedup)
//   - <prefix>.journal.jsonl  (append-only journal of mutations since the snapshot)
//
// Mutations are journaled before they are applied in memory, so a failed write
// leaves the store unchanged. The journal is periodically compacted into the
// snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File

	writes       int
	compactEvery int
}

const (
	opCohort     = "cohort"
	opSessionPut = "session_put"
	opSessionDel = "session_del"
	opDedup      = "dedup"
)

type journalRecord struct {
	Op      string        `json:"op"`
	Cohort  *CohortRecord `json:"cohort,omitempty"`
	Session *Session      `json:"session,omitempty"`
	ChatID  int64         `json:"chat_id,omitempty"`
	Key     string        `json:"key,omitempty"`
	Until   int64         `json:"until,omitempty"`
}

type snapshot struct {
	Cohorts  []CohortRecord   `json:"cohorts"`
	Sessions []Session        `json:"sessions"`
	Dedup    map[string]int64 `json:"dedup"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("store snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("store journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}
	st.pruneDedup(time.Now().UnixMilli())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		st:           st,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.Join(err1, err2)
}

// journalLocked appends a mutation to the journal. Caller holds mu and applies
// the mutation to st only when it succeeds, then calls appliedLocked.
func (s *fileStore) journalLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	return json.NewEncoder(s.journalFile).Encode(rec)
}

// appliedLocked counts a journaled and applied mutation and compacts every
// compactEvery writes.
func (s *fileStore) appliedLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("store compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) UpsertCohort(ctx context.Context, r CohortRecord) error {
	if err := r.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.journalLocked(journalRecord{Op: opCohort, Cohort: &r}); err != nil {
		return err
	}
	s.st.upsertCohort(r)
	s.appliedLocked()
	return nil
}

func (s *fileStore) ListCohort(ctx context.Context, t Target) ([]CohortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listCohort(t), nil
}

func (s *fileStore) PutSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.journalLocked(journalRecord{Op: opSessionPut, Session: &sess}); err != nil {
		return err
	}
	s.st.sessions[sess.ChatID] = sess
	s.appliedLocked()
	return nil
}

// TakeSession keeps the session when the removal cannot be journaled.
func (s *fileStore) TakeSession(ctx context.Context, chatID int64) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.sessions[chatID]; !ok {
		return Session{}, false, nil
	}
	if err := s.journalLocked(journalRecord{Op: opSessionDel, ChatID: chatID}); err != nil {
		return Session{}, false, err
	}
	sess, _ := s.st.takeSession(chatID)
	s.appliedLocked()
	return sess, true, nil
}

func (s *fileStore) PruneSessions(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.st.staleSessions(before) {
		if err := s.journalLocked(journalRecord{Op: opSessionDel, ChatID: id}); err != nil {
			return n, err
		}
		delete(s.st.sessions, id)
		s.appliedLocked()
		n++
	}
	return n, nil
}

func (s *fileStore) ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, nil
	}
	ms := until.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.dedupHeld(key, time.Now().UnixMilli()) {
		return false, nil
	}
	if err := s.journalLocked(journalRecord{Op: opDedup, Key: key, Until: ms}); err != nil {
		return false, err
	}
	s.st.dedup[key] = ms
	s.appliedLocked()
	return true, nil
}

func (s *fileStore) PruneDedup(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Expired keys are dropped from the journal at the next compaction.
	return s.st.pruneDedup(now.UnixMilli()), nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) compactLocked() error {
	s.st.pruneDedup(time.Now().UnixMilli())

	snap := snapshot{
		Cohorts:  s.st.listCohort(TargetAll),
		Sessions: make([]Session, 0, len(s.st.sessions)),
		Dedup:    s.st.dedup,
	}
	for _, sess := range s.st.sessions {
		snap.Sessions = append(snap.Sessions, sess)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Cohorts {
		st.upsertCohort(r)
	}
	for _, sess := range snap.Sessions {
		st.sessions[sess.ChatID] = sess
	}
	for k, v := range snap.Dedup {
		st.dedup[k] = v
	}
	return nil
}

func replayJournal(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case opCohort:
			if r.Cohort != nil {
				st.upsertCohort(*r.Cohort)
			}
		case opSessionPut:
			if r.Session != nil {
				st.sessions[r.Session.ChatID] = *r.Session
			}
		case opSessionDel:
			delete(st.sessions, r.ChatID)
		case opDedup:
			if r.Key != "" {
				st.dedup[r.Key] = r.Until
			}
		}
	}
	return sc.Err()
}
