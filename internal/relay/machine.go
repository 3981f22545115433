package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Vagrant55/kaf-telegram-bot/internal/fanout"
	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// Settings is the immutable runtime configuration of the dialogue.
// Build it once with NewSettings and share it by value.
type Settings struct {
	admins map[int64]struct{}

	// SessionTTL bounds how long a pending broadcast stays valid. 0 disables expiry.
	SessionTTL time.Duration
	// Now is the clock. nil means time.Now.
	Now func() time.Time
}

func NewSettings(admins []int64, sessionTTL time.Duration) Settings {
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		if id != 0 {
			set[id] = struct{}{}
		}
	}
	return Settings{admins: set, SessionTTL: sessionTTL}
}

func (s Settings) IsAdmin(id int64) bool {
	_, ok := s.admins[id]
	return ok
}

// Admins returns the privileged identities in ascending order.
func (s Settings) Admins() []int64 {
	out := make([]int64, 0, len(s.admins))
	for id := range s.admins {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Store is the persistence the dialogue needs.
type Store interface {
	storage.Cohorts
	storage.Sessions
	storage.Audit
}

type Broadcaster interface {
	FanOut(ctx context.Context, text string, target storage.Target) (fanout.Result, error)
}

// Machine applies the dialogue rules to classified events.
type Machine struct {
	set   Settings
	store Store
	msg   transport.Messenger
	fan   Broadcaster
	log   logx.Logger
}

func NewMachine(set Settings, store Store, msg transport.Messenger, fan Broadcaster, log logx.Logger) *Machine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Machine{set: set, store: store, msg: msg, fan: fan, log: log}
}

// HandleText evaluates, in order: pending broadcast, /start, /menu. Text from
// non-admins is ignored without touching storage.
func (m *Machine) HandleText(ctx context.Context, ev TextEvent) error {
	if !m.set.IsAdmin(ev.Identity) {
		return nil
	}
	log := m.log.With(logx.Int64("chat_id", ev.Identity))

	// ok wins over err: a session handed out with an error is still consumed.
	sess, ok, err := m.store.TakeSession(ctx, ev.Identity)
	if err != nil {
		log.Warn("take session failed", logx.Err(err), logx.Bool("taken", ok))
	}
	switch {
	case ok && sess.Expired(m.set.now(), m.set.SessionTTL):
		log.Info("stale broadcast session discarded",
			logx.String("target", string(sess.Target)),
			logx.Duration("age", m.set.now().Sub(sess.CreatedAt)),
		)
	case ok:
		return m.broadcast(ctx, ev, sess, log)
	}

	switch ev.Text {
	case CmdStart:
		return m.send(ctx, ev.Identity, textChooseCohort, cohortKeyboard())
	case CmdMenu:
		return m.send(ctx, ev.Identity, textChooseTarget, targetKeyboard())
	}
	return err
}

func (m *Machine) broadcast(ctx context.Context, ev TextEvent, sess storage.Session, log logx.Logger) error {
	res, ferr := m.fan.FanOut(ctx, ev.Text, sess.Target)
	if ferr != nil {
		log.Error("broadcast failed", logx.String("target", string(sess.Target)), logx.Err(ferr))
	}

	entry := storage.AuditEntry{
		At:      m.set.now(),
		ActorID: ev.Identity,
		Action:  "broadcast",
		Target:  string(sess.Target),
		OK:      res.Sent - res.Failed,
		Fail:    res.Failed,
		TookMS:  res.Took.Milliseconds(),
	}
	if ferr != nil {
		entry.Error = ferr.Error()
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		log.Warn("audit append failed", logx.Err(err))
	}

	// Confirm even when listing failed; the count is then 0.
	serr := m.send(ctx, ev.Identity, broadcastDoneText(res.Sent), nil)
	return errors.Join(ferr, serr)
}

// HandleCallback acknowledges the press, then handles cohort selection (anyone)
// or broadcast target selection (admins only).
func (m *Machine) HandleCallback(ctx context.Context, ev CallbackEvent) error {
	log := m.log.With(
		logx.Int64("chat_id", ev.Identity),
		logx.Int64("from_id", ev.Actor),
		logx.String("payload", ev.Payload),
	)
	if err := m.msg.AnswerCallback(ctx, ev.CallbackID); err != nil {
		log.Warn("answer callback failed", logx.Err(err))
	}

	if cohort, ok := cohortFromPayload(ev.Payload); ok {
		rec := storage.CohortRecord{ChatID: ev.Identity, Name: ev.DisplayName, Cohort: cohort}
		if err := m.store.UpsertCohort(ctx, rec); err != nil {
			log.Warn("save cohort failed", logx.Err(err))
		} else {
			log.Info("cohort selected", logx.String("cohort", string(cohort)))
		}
		return m.send(ctx, ev.Identity, cohortChosenText(cohort), nil)
	}

	target, ok := targetFromPayload(ev.Payload)
	if !ok || !m.set.IsAdmin(ev.Actor) {
		return nil
	}
	sess := storage.Session{ChatID: ev.Actor, Target: target, CreatedAt: m.set.now()}
	if err := m.store.PutSession(ctx, sess); err != nil {
		// Without a session the next text would be ignored, so do not prompt.
		return fmt.Errorf("save session: %w", err)
	}
	log.Info("broadcast session opened", logx.String("target", string(target)))
	return m.send(ctx, ev.Actor, promptText(target), nil)
}

func (m *Machine) send(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) error {
	if err := m.msg.SendText(ctx, chatID, text, kb); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}
