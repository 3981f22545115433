package tgui

import (
	"testing"

	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
)

func TestFromKeyboardRows(t *testing.T) {
	t.Parallel()
	kb := transport.Column(
		transport.Button{Text: "A", Data: "send_all"},
		transport.Button{Text: "B", Data: "send_civil"},
	)
	rm := FromKeyboard(kb)
	if rm == nil {
		t.Fatal("expected markup")
	}
	if len(rm.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(rm.InlineKeyboard))
	}
	if got := rm.InlineKeyboard[1][0].Data; got != "send_civil" {
		t.Fatalf("row 2 data = %q, want send_civil", got)
	}
	if got := rm.InlineKeyboard[0][0].Text; got != "A" {
		t.Fatalf("row 1 text = %q, want A", got)
	}
}

func TestFromKeyboardEmpty(t *testing.T) {
	t.Parallel()
	if FromKeyboard(nil) != nil {
		t.Fatal("nil keyboard should give nil markup")
	}
	if FromKeyboard(&transport.Keyboard{Rows: [][]transport.Button{{}}}) != nil {
		t.Fatal("keyboard with only empty rows should give nil markup")
	}
}
