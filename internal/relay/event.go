package relay

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

type Kind string

const (
	KindText         Kind = "text"
	KindCallback     Kind = "callback"
	KindUnrecognized Kind = "unrecognized"
)

// Event is one of TextEvent, CallbackEvent or Unrecognized.
type Event interface {
	Kind() Kind
}

// TextEvent is a message with non-empty text. Text is trimmed.
type TextEvent struct {
	Identity int64
	Text     string
}

// CallbackEvent is an inline button press.
//
// Identity is the chat to reply in; Actor is the user who pressed the button.
// They differ in group chats. Privilege checks use Actor.
type CallbackEvent struct {
	CallbackID  string
	Identity    int64
	Actor       int64
	Payload     string
	DisplayName string
}

type Unrecognized struct{}

func (TextEvent) Kind() Kind     { return KindText }
func (CallbackEvent) Kind() Kind { return KindCallback }
func (Unrecognized) Kind() Kind  { return KindUnrecognized }

// DefaultDisplayName is used when the presser has neither first name nor username.
const DefaultDisplayName = "Аноним"

// Classify reduces an update to a single Event. A message with text wins over a
// callback in the same update. Missing fields yield Unrecognized.
func Classify(u *tele.Update) Event {
	if u == nil {
		return Unrecognized{}
	}
	if m := u.Message; m != nil && m.Chat != nil && m.Chat.ID != 0 {
		if text := strings.TrimSpace(m.Text); text != "" {
			return TextEvent{Identity: m.Chat.ID, Text: text}
		}
	}
	if cb := u.Callback; cb != nil && cb.ID != "" && cb.Sender != nil && cb.Sender.ID != 0 {
		identity := cb.Sender.ID
		if cb.Message != nil && cb.Message.Chat != nil && cb.Message.Chat.ID != 0 {
			identity = cb.Message.Chat.ID
		}
		return CallbackEvent{
			CallbackID:  cb.ID,
			Identity:    identity,
			Actor:       cb.Sender.ID,
			Payload:     strings.TrimSpace(cb.Data),
			DisplayName: displayName(cb.Sender),
		}
	}
	return Unrecognized{}
}

func displayName(u *tele.User) string {
	if n := strings.TrimSpace(u.FirstName); n != "" {
		return n
	}
	if n := strings.TrimSpace(u.Username); n != "" {
		return n
	}
	return DefaultDisplayName
}
