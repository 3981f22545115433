package relay

import (
	"encoding/json"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func decodeUpdate(t *testing.T, raw string) *tele.Update {
	t.Helper()
	var u tele.Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return &u
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "text",
			raw:  `{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"  /menu  "}}`,
			want: TextEvent{Identity: 42, Text: "/menu"},
		},
		{
			name: "blank text",
			raw:  `{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"   "}}`,
			want: Unrecognized{},
		},
		{
			name: "message without chat",
			raw:  `{"update_id":1,"message":{"message_id":1,"date":0,"text":"hi"}}`,
			want: Unrecognized{},
		},
		{
			name: "callback in private chat",
			raw: `{"update_id":2,"callback_query":{"id":"cb1","from":{"id":7,"is_bot":false,"first_name":"Ivan","username":"ivan"},
				"message":{"message_id":5,"date":0,"chat":{"id":7,"type":"private"}},"data":"type_civil"}}`,
			want: CallbackEvent{CallbackID: "cb1", Identity: 7, Actor: 7, Payload: "type_civil", DisplayName: "Ivan"},
		},
		{
			name: "callback in group keeps actor apart",
			raw: `{"update_id":3,"callback_query":{"id":"cb2","from":{"id":935264202,"is_bot":false,"first_name":"","username":"boss"},
				"message":{"message_id":5,"date":0,"chat":{"id":-100123,"type":"supergroup"}},"data":"send_all"}}`,
			want: CallbackEvent{CallbackID: "cb2", Identity: -100123, Actor: 935264202, Payload: "send_all", DisplayName: "boss"},
		},
		{
			name: "callback without message falls back to sender",
			raw:  `{"update_id":4,"callback_query":{"id":"cb3","from":{"id":9,"is_bot":false},"data":"type_military"}}`,
			want: CallbackEvent{CallbackID: "cb3", Identity: 9, Actor: 9, Payload: "type_military", DisplayName: DefaultDisplayName},
		},
		{
			name: "callback without sender",
			raw:  `{"update_id":5,"callback_query":{"id":"cb4","data":"type_military"}}`,
			want: Unrecognized{},
		},
		{
			name: "callback without id",
			raw:  `{"update_id":6,"callback_query":{"from":{"id":9,"is_bot":false},"data":"type_military"}}`,
			want: Unrecognized{},
		},
		{
			name: "text wins over callback",
			raw: `{"update_id":7,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hello"},
				"callback_query":{"id":"cb5","from":{"id":9,"is_bot":false},"data":"send_all"}}`,
			want: TextEvent{Identity: 42, Text: "hello"},
		},
		{
			name: "other update kinds",
			raw:  `{"update_id":8,"edited_message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`,
			want: Unrecognized{},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(decodeUpdate(t, tt.raw))
			if got != tt.want {
				t.Fatalf("Classify = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	if got := Classify(nil); got.Kind() != KindUnrecognized {
		t.Fatalf("Classify(nil) = %#v", got)
	}
}
