package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []int64
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string, _ *transport.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.to = append(f.to, chatID)
	return nil
}

func (f *fakeSender) AnswerCallback(context.Context, string) error { return nil }

func (f *fakeSender) snapshot() ([]string, []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), append([]int64(nil), f.to...)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"error","time":"x","message":"fanout failed","target":"civil"}`))
	if !strings.HasPrefix(got, "[ERROR] fanout failed") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "- target=civil") || strings.Contains(got, "time=") {
		t.Fatalf("fields not rendered as expected: %q", got)
	}

	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-json line = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdef", 10); got != "abcdef" {
		t.Fatalf("short = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 12); got != "xxxxxxxxx..." {
		t.Fatalf("long = %q", got)
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("component", "relay"))
	log.Info("hello", Int64("chat_id", 42), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["component"] != "relay" || m["err"] != "boom" {
		t.Fatalf("line = %v", m)
	}
	if m["chat_id"].(float64) != 42 {
		t.Fatalf("chat_id = %v", m["chat_id"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestWriterLoggerLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatal("Enabled disagrees with level")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestTelegramSink(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     935264202,
			MinLevel:   "warn",
			RatePerSec: 50,
		},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("below threshold")
	log.Error("fanout failed", String("target", "all"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		sent, to := sender.snapshot()
		if len(sent) > 0 {
			if len(sent) != 1 || to[0] != 935264202 || !strings.Contains(sent[0], "fanout failed") {
				t.Fatalf("sent = %q to %v", sent, to)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("telegram sink never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTelegramSinkWithoutSender(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Telegram: TelegramConfig{Enabled: true, ChatID: 1}}, nil)
	log.Error("no sender yet")
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
