package tgui

import (
	tele "gopkg.in/telebot.v4"

	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (not encoded).
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// FromKeyboard converts a transport keyboard into inline markup.
// It returns nil for a nil or empty keyboard.
func FromKeyboard(kb *transport.Keyboard) *tele.ReplyMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	in := NewInline()
	for _, r := range kb.Rows {
		if len(r) == 0 {
			continue
		}
		btns := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			btns = append(btns, Btn(b.Text, b.Data))
		}
		in.Row(btns...)
	}
	if len(in.rows) == 0 {
		return nil
	}
	return in.Markup()
}
