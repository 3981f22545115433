package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vagrant55/kaf-telegram-bot/internal/fanout"
	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

const adminID int64 = 935264202

type sentMsg struct {
	ChatID int64
	Text   string
	KB     *transport.Keyboard
}

type fakeMessenger struct {
	mu        sync.Mutex
	sent      []sentMsg
	answered  []string
	failOn    map[int64]bool
	answerErr error
	panicText string
}

func (f *fakeMessenger) SendText(_ context.Context, chatID int64, text string, kb *transport.Keyboard) error {
	if f.panicText != "" && text == f.panicText {
		panic("messenger exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{ChatID: chatID, Text: text, KB: kb})
	if f.failOn[chatID] {
		return errors.New("Forbidden: bot was blocked by the user")
	}
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return f.answerErr
}

func (f *fakeMessenger) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

// to returns messages sent to chatID.
func (f *fakeMessenger) to(chatID int64) []sentMsg {
	var out []sentMsg
	for _, m := range f.messages() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// withText returns chat ids that received exactly text.
func (f *fakeMessenger) withText(text string) []int64 {
	var out []int64
	for _, m := range f.messages() {
		if m.Text == text {
			out = append(out, m.ChatID)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store *storage.Memory
	msg   *fakeMessenger
	clock *clock
	m     *Machine
}

func newHarness(t *testing.T, ttl time.Duration) *harness {
	t.Helper()
	h := &harness{
		store: storage.NewMemory(),
		msg:   &fakeMessenger{failOn: map[int64]bool{}},
		clock: &clock{t: time.Now().UTC().Truncate(time.Second)},
	}
	set := NewSettings([]int64{adminID, 1527919229}, ttl)
	set.Now = h.clock.Now
	fan := fanout.New(fanout.Config{RatePerSec: -1}, h.store, h.msg, logx.Nop())
	h.m = NewMachine(set, h.store, h.msg, fan, logx.Nop())
	return h
}

func (h *harness) register(t *testing.T, id int64, c storage.Cohort) {
	t.Helper()
	if err := h.store.UpsertCohort(context.Background(), storage.CohortRecord{ChatID: id, Name: "n", Cohort: c}); err != nil {
		t.Fatalf("register %d: %v", id, err)
	}
}

func (h *harness) press(t *testing.T, actor int64, payload string) error {
	t.Helper()
	return h.m.HandleCallback(context.Background(), CallbackEvent{
		CallbackID: "cb-" + payload, Identity: actor, Actor: actor, Payload: payload, DisplayName: "Admin",
	})
}

func (h *harness) say(id int64, text string) error {
	return h.m.HandleText(context.Background(), TextEvent{Identity: id, Text: text})
}

func TestNonAdminTextIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	for _, text := range []string{"hello", "/start", "/menu", "send_all"} {
		if err := h.say(555, text); err != nil {
			t.Fatalf("HandleText(%q): %v", text, err)
		}
	}
	if got := h.msg.messages(); len(got) != 0 {
		t.Fatalf("non-admin text produced sends: %+v", got)
	}
}

func TestCohortSelectionOverwrites(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()
	for _, p := range []string{PayloadTypeMilitary, PayloadTypeCivil} {
		err := h.m.HandleCallback(ctx, CallbackEvent{CallbackID: "x", Identity: 777, Actor: 777, Payload: p, DisplayName: "Petr"})
		if err != nil {
			t.Fatalf("HandleCallback(%s): %v", p, err)
		}
	}
	all, _ := h.store.ListCohort(ctx, storage.TargetAll)
	if len(all) != 1 || all[0].ChatID != 777 || all[0].Cohort != storage.CohortCivil || all[0].Name != "Petr" {
		t.Fatalf("records = %+v", all)
	}
	got := h.msg.to(777)
	if len(got) != 2 || got[0].Text != "✅ Вы выбрали: Военный." || got[1].Text != "✅ Вы выбрали: Гражданский." {
		t.Fatalf("confirmations = %+v", got)
	}
	if n := len(h.msg.answered); n != 2 {
		t.Fatalf("answered = %d, want 2", n)
	}
}

func TestCohortSelectionSurvivesAnswerFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.msg.answerErr = errors.New("query is too old")
	if err := h.press(t, 31, PayloadTypeMilitary); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	recs, _ := h.store.ListCohort(context.Background(), storage.TargetMilitary)
	if len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}
}

func TestAdminCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	if err := h.say(adminID, "/start"); err != nil {
		t.Fatal(err)
	}
	if err := h.say(adminID, "/menu"); err != nil {
		t.Fatal(err)
	}
	got := h.msg.to(adminID)
	if len(got) != 2 {
		t.Fatalf("sends = %+v", got)
	}
	if got[0].Text != textChooseCohort || len(got[0].KB.Buttons()) != 2 || got[0].KB.Buttons()[1].Data != PayloadTypeCivil {
		t.Fatalf("/start reply = %+v", got[0])
	}
	btns := got[1].KB.Buttons()
	if got[1].Text != textChooseTarget || len(btns) != 3 || btns[0].Data != PayloadSendAll || btns[2].Data != PayloadSendCivil {
		t.Fatalf("/menu reply = %+v", got[1])
	}
}

func TestBroadcastToMilitaryCountsAttempts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.register(t, 1, storage.CohortMilitary)
	h.register(t, 2, storage.CohortCivil)
	h.register(t, 3, storage.CohortMilitary)
	h.register(t, 4, storage.CohortMilitary)
	h.msg.failOn[3] = true

	if err := h.press(t, adminID, PayloadSendMilitary); err != nil {
		t.Fatalf("press: %v", err)
	}
	if err := h.say(adminID, "Hello"); err != nil {
		t.Fatalf("say: %v", err)
	}

	got := h.msg.withText("Hello")
	want := []int64{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients = %v, want %v", got, want)
		}
	}
	if ids := h.msg.withText(broadcastDoneText(3)); len(ids) != 1 || ids[0] != adminID {
		t.Fatalf("confirmation with count 3 not sent to admin: %+v", h.msg.to(adminID))
	}

	audit := h.store.AuditLog()
	if len(audit) != 1 || audit[0].Target != "military" || audit[0].OK != 2 || audit[0].Fail != 1 || audit[0].ActorID != adminID {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestSessionConsumedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.register(t, 10, storage.CohortCivil)
	if err := h.press(t, adminID, PayloadSendAll); err != nil {
		t.Fatal(err)
	}
	if err := h.say(adminID, "first"); err != nil {
		t.Fatal(err)
	}
	if err := h.say(adminID, "second"); err != nil {
		t.Fatal(err)
	}
	if got := h.msg.withText("first"); len(got) != 1 {
		t.Fatalf("first broadcast recipients = %v", got)
	}
	if got := h.msg.withText("second"); len(got) != 0 {
		t.Fatalf("second text fanned out to %v", got)
	}
}

func TestEndToEndCivilBroadcast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 24*time.Hour)
	h.register(t, 100, storage.CohortCivil)
	h.register(t, 200, storage.CohortMilitary)
	h.register(t, 300, storage.CohortCivil)

	if err := h.press(t, adminID, PayloadSendCivil); err != nil {
		t.Fatal(err)
	}
	prompt := h.msg.to(adminID)
	if len(prompt) != 1 || prompt[0].Text != "📩 Введите текст рассылки для: гражданским\n(Просто отправьте текст в чат)" {
		t.Fatalf("prompt = %+v", prompt)
	}

	h.clock.Advance(time.Minute)
	if err := h.say(adminID, "Meeting at 5pm"); err != nil {
		t.Fatal(err)
	}
	if got := h.msg.withText("Meeting at 5pm"); len(got) != 2 || got[0] != 100 || got[1] != 300 {
		t.Fatalf("recipients = %v", got)
	}
	last := h.msg.to(adminID)
	if msg := last[len(last)-1].Text; msg != "✅ Рассылка отправлена!\n📤 Получателей: 2" {
		t.Fatalf("confirmation = %q", msg)
	}
	if _, ok, _ := h.store.TakeSession(context.Background(), adminID); ok {
		t.Fatal("session still present after broadcast")
	}
}

func TestNonAdminCannotOpenSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	if err := h.press(t, 555, PayloadSendAll); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.store.TakeSession(context.Background(), 555); ok {
		t.Fatal("non-admin opened a session")
	}
	if got := h.msg.messages(); len(got) != 0 {
		t.Fatalf("sends = %+v", got)
	}
	if len(h.msg.answered) != 1 {
		t.Fatal("callback not acknowledged")
	}
}

func TestGroupCallbackUsesActor(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	err := h.m.HandleCallback(context.Background(), CallbackEvent{
		CallbackID: "g", Identity: -100500, Actor: adminID, Payload: PayloadSendMilitary, DisplayName: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.msg.to(adminID); len(got) != 1 || !strings.Contains(got[0].Text, "военным") {
		t.Fatalf("prompt not sent to actor: %+v", h.msg.messages())
	}
	s, ok, _ := h.store.TakeSession(context.Background(), adminID)
	if !ok || s.Target != storage.TargetMilitary {
		t.Fatalf("session = %+v, %v", s, ok)
	}
}

func TestStaleSessionFallsThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Hour)
	h.register(t, 1, storage.CohortCivil)
	if err := h.press(t, adminID, PayloadSendAll); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Hour)

	if err := h.say(adminID, "/menu"); err != nil {
		t.Fatal(err)
	}
	if got := h.msg.to(1); len(got) != 0 {
		t.Fatalf("stale session fanned out: %+v", got)
	}
	last := h.msg.to(adminID)
	if last[len(last)-1].Text != textChooseTarget {
		t.Fatalf("stale session did not fall through to /menu: %+v", last)
	}
}

func TestPendingSessionBeatsCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.register(t, 1, storage.CohortMilitary)
	if err := h.press(t, adminID, PayloadSendAll); err != nil {
		t.Fatal(err)
	}
	if err := h.say(adminID, "/start"); err != nil {
		t.Fatal(err)
	}
	if got := h.msg.withText("/start"); len(got) != 1 || got[0] != 1 {
		t.Fatalf("/start was not broadcast: %v", got)
	}
}

type failingSessions struct {
	*storage.Memory
}

func (failingSessions) PutSession(context.Context, storage.Session) error {
	return errors.New("db down")
}

func (failingSessions) TakeSession(context.Context, int64) (storage.Session, bool, error) {
	return storage.Session{}, false, errors.New("db down")
}

func TestSessionStoreFailures(t *testing.T) {
	t.Parallel()
	msg := &fakeMessenger{}
	store := failingSessions{storage.NewMemory()}
	fan := fanout.New(fanout.Config{RatePerSec: -1}, store, msg, logx.Nop())
	m := NewMachine(NewSettings([]int64{adminID}, 0), store, msg, fan, logx.Nop())
	ctx := context.Background()

	if err := m.HandleCallback(ctx, CallbackEvent{CallbackID: "a", Identity: adminID, Actor: adminID, Payload: PayloadSendAll}); err == nil {
		t.Fatal("expected save session error")
	}
	if got := msg.messages(); len(got) != 0 {
		t.Fatalf("prompt sent without a session: %+v", got)
	}

	// Commands still work when the session lookup fails.
	if err := m.HandleText(ctx, TextEvent{Identity: adminID, Text: "/menu"}); err != nil {
		t.Fatalf("HandleText(/menu): %v", err)
	}
	if got := msg.messages(); len(got) != 1 || got[0].Text != textChooseTarget {
		t.Fatalf("sends = %+v", got)
	}
	if err := m.HandleText(ctx, TextEvent{Identity: adminID, Text: "plain"}); err == nil {
		t.Fatal("expected take session error for plain text")
	}
}

// lossyTake hands out the session together with a persistence error.
type lossyTake struct {
	*storage.Memory
}

func (s lossyTake) TakeSession(ctx context.Context, chatID int64) (storage.Session, bool, error) {
	sess, ok, _ := s.Memory.TakeSession(ctx, chatID)
	if !ok {
		return sess, false, nil
	}
	return sess, true, errors.New("journal write failed")
}

func TestTakenSessionBroadcastsDespiteStoreError(t *testing.T) {
	t.Parallel()
	msg := &fakeMessenger{}
	store := lossyTake{storage.NewMemory()}
	ctx := context.Background()
	if err := store.UpsertCohort(ctx, storage.CohortRecord{ChatID: 7, Name: "n", Cohort: storage.CohortCivil}); err != nil {
		t.Fatal(err)
	}
	fan := fanout.New(fanout.Config{RatePerSec: -1}, store, msg, logx.Nop())
	m := NewMachine(NewSettings([]int64{adminID}, 0), store, msg, fan, logx.Nop())

	if err := m.HandleCallback(ctx, CallbackEvent{CallbackID: "a", Identity: adminID, Actor: adminID, Payload: PayloadSendAll}); err != nil {
		t.Fatal(err)
	}
	if err := m.HandleText(ctx, TextEvent{Identity: adminID, Text: "drill at noon"}); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if got := msg.withText("drill at noon"); len(got) != 1 || got[0] != 7 {
		t.Fatalf("recipients = %v", got)
	}
	if got := msg.withText(broadcastDoneText(1)); len(got) != 1 {
		t.Fatalf("confirmation missing: %+v", msg.messages())
	}
}

type failingCohorts struct {
	*storage.Memory
}

func (failingCohorts) ListCohort(context.Context, storage.Target) ([]storage.CohortRecord, error) {
	return nil, errors.New("db down")
}

func TestBroadcastListFailureConfirmsZero(t *testing.T) {
	t.Parallel()
	msg := &fakeMessenger{}
	store := failingCohorts{storage.NewMemory()}
	fan := fanout.New(fanout.Config{RatePerSec: -1}, store, msg, logx.Nop())
	m := NewMachine(NewSettings([]int64{adminID}, 0), store, msg, fan, logx.Nop())
	ctx := context.Background()

	if err := m.HandleCallback(ctx, CallbackEvent{CallbackID: "a", Identity: adminID, Actor: adminID, Payload: PayloadSendAll}); err != nil {
		t.Fatal(err)
	}
	if err := m.HandleText(ctx, TextEvent{Identity: adminID, Text: "hi"}); err == nil {
		t.Fatal("expected fan-out error")
	}
	if got := msg.withText(broadcastDoneText(0)); len(got) != 1 {
		t.Fatalf("zero-count confirmation missing: %+v", msg.messages())
	}
	if a := store.AuditLog(); len(a) != 1 || a[0].Error == "" {
		t.Fatalf("audit = %+v", a)
	}
}

func TestSettingsAdmins(t *testing.T) {
	t.Parallel()
	s := NewSettings([]int64{1527919229, 0, adminID, adminID}, 0)
	got := s.Admins()
	if len(got) != 2 || got[0] != adminID || got[1] != 1527919229 {
		t.Fatalf("Admins = %v", got)
	}
	if s.IsAdmin(0) || !s.IsAdmin(1527919229) {
		t.Fatal("IsAdmin mismatch")
	}
}
