package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Vagrant55/kaf-telegram-bot/internal/config"
	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

func run(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(env)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCohortsCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cohorts.db")
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	for _, r := range []storage.CohortRecord{
		{ChatID: 101, Name: "Ivan", Cohort: storage.CohortMilitary},
		{ChatID: 102, Name: "Olga", Cohort: storage.CohortCivil},
		{ChatID: 100500, Name: "Group", Cohort: storage.CohortMilitary},
	} {
		if err := st.UpsertCohort(ctx, r); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	_ = st.Close()

	env := map[string]string{"STORAGE_DRIVER": "sqlite", "STORAGE_PATH": path}
	tests := []struct {
		args  []string
		count string
		has   []string
		lacks []string
	}{
		{[]string{"cohorts"}, "3 chat(s)", []string{"101", "102", "100500"}, nil},
		{[]string{"cohorts", "military"}, "2 chat(s)", []string{"Ivan", "Group"}, []string{"Olga"}},
		{[]string{"cohorts", "civil"}, "1 chat(s)", []string{"Olga"}, []string{"Ivan"}},
	}
	for _, tt := range tests {
		out, err := run(t, env, tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if !strings.Contains(out, tt.count) {
			t.Fatalf("%v: output %q lacks %q", tt.args, out, tt.count)
		}
		for _, s := range tt.has {
			if !strings.Contains(out, s) {
				t.Fatalf("%v: output %q lacks %q", tt.args, out, s)
			}
		}
		for _, s := range tt.lacks {
			if strings.Contains(out, s) {
				t.Fatalf("%v: output %q has %q", tt.args, out, s)
			}
		}
	}
}

func TestCohortsCommandErrors(t *testing.T) {
	t.Parallel()
	if _, err := run(t, map[string]string{"STORAGE_DRIVER": "memory"}, "cohorts", "navy"); err == nil {
		t.Fatal("unknown cohort accepted")
	}
	if _, err := run(t, map[string]string{}, "cohorts"); !errors.Is(err, config.ErrMissingStore) {
		t.Fatalf("err = %v, want ErrMissingStore", err)
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	out, err := run(t, map[string]string{}, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("version = %q, %v", out, err)
	}
}

func TestServeRejectsMissingToken(t *testing.T) {
	t.Parallel()
	_, err := run(t, map[string]string{"STORAGE_DRIVER": "memory"}, "serve")
	if !errors.Is(err, config.ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}
