package transport

import "context"

// Button is a single inline keyboard button carrying raw callback data.
type Button struct {
	Text string
	Data string
}

// Keyboard is a platform-neutral inline keyboard: rows of buttons.
type Keyboard struct {
	Rows [][]Button
}

// Column builds a keyboard with one button per row.
func Column(btns ...Button) *Keyboard {
	kb := &Keyboard{Rows: make([][]Button, 0, len(btns))}
	for _, b := range btns {
		kb.Rows = append(kb.Rows, []Button{b})
	}
	return kb
}

// Buttons returns all buttons in row order.
func (k *Keyboard) Buttons() []Button {
	if k == nil {
		return nil
	}
	var out []Button
	for _, r := range k.Rows {
		out = append(out, r...)
	}
	return out
}

// Messenger is the outbound side of the chat platform.
//
// Implementations must be safe for concurrent use.
type Messenger interface {
	// SendText sends text to chatID. kb may be nil.
	SendText(ctx context.Context, chatID int64, text string, kb *Keyboard) error
	// AnswerCallback acknowledges an inline-button press (clears the loading indicator).
	AnswerCallback(ctx context.Context, callbackID string) error
}
