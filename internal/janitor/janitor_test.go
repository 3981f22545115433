package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

func TestRunOncePrunes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	now := time.Now()

	_ = st.PutSession(ctx, storage.Session{ChatID: 1, Target: storage.TargetAll, CreatedAt: now.Add(-48 * time.Hour)})
	_ = st.PutSession(ctx, storage.Session{ChatID: 2, Target: storage.TargetCivil, CreatedAt: now.Add(-time.Minute)})
	_, _ = st.ClaimDedup(ctx, "update:1", now.Add(-time.Second))
	_, _ = st.ClaimDedup(ctx, "update:2", now.Add(time.Hour))

	j := New(Config{SessionTTL: 24 * time.Hour}, st, logx.Nop())
	j.now = func() time.Time { return now }
	rep, err := j.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Sessions != 1 || rep.Dedup != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if _, ok, _ := st.TakeSession(ctx, 2); !ok {
		t.Fatal("fresh session was pruned")
	}
	if _, ok, _ := st.TakeSession(ctx, 1); ok {
		t.Fatal("stale session survived")
	}
}

func TestRunOnceWithoutTTLKeepsSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.PutSession(ctx, storage.Session{ChatID: 1, Target: storage.TargetAll, CreatedAt: time.Now().Add(-999 * time.Hour)})

	rep, err := New(Config{}, st, logx.Nop()).RunOnce(ctx)
	if err != nil || rep.Sessions != 0 {
		t.Fatalf("RunOnce = %+v, %v", rep, err)
	}
	if _, ok, _ := st.TakeSession(ctx, 1); !ok {
		t.Fatal("session pruned with ttl disabled")
	}
}

type failingStore struct{ dedupCalls atomic.Int32 }

func (f *failingStore) PruneSessions(context.Context, time.Time) (int, error) {
	return 0, errors.New("sessions down")
}

func (f *failingStore) PruneDedup(context.Context, time.Time) (int, error) {
	f.dedupCalls.Add(1)
	return 3, nil
}

func TestRunOnceContinuesAfterError(t *testing.T) {
	t.Parallel()
	st := &failingStore{}
	rep, err := New(Config{SessionTTL: time.Hour}, st, logx.Nop()).RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if st.dedupCalls.Load() != 1 || rep.Dedup != 3 {
		t.Fatalf("dedup prune skipped: %+v", rep)
	}
}

type countingStore struct{ runs atomic.Int32 }

func (c *countingStore) PruneSessions(context.Context, time.Time) (int, error) { return 0, nil }
func (c *countingStore) PruneDedup(context.Context, time.Time) (int, error) {
	c.runs.Add(1)
	return 0, nil
}

func TestScheduleRuns(t *testing.T) {
	t.Parallel()
	st := &countingStore{}
	j := New(Config{Schedule: "@every 1s"}, st, logx.Nop())
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for st.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
	if st.runs.Load() == 0 {
		t.Fatal("scheduled sweep never ran")
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"@every 10m", "0 */5 * * * *", "*/5 * * * *", "@hourly"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Fatalf("ValidateSchedule(%q) = %v", ok, err)
		}
	}
	if err := ValidateSchedule("every ten minutes"); err == nil {
		t.Fatal("expected error")
	}
	if err := New(Config{Schedule: "nope"}, &countingStore{}, logx.Nop()).Start(context.Background()); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
}
