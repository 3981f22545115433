package relay

import (
	"strconv"

	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
)

// Commands understood from admins.
const (
	CmdStart = "/start"
	CmdMenu  = "/menu"
)

// Callback payloads.
const (
	PayloadTypeMilitary = "type_military"
	PayloadTypeCivil    = "type_civil"
	PayloadSendAll      = "send_all"
	PayloadSendMilitary = "send_military"
	PayloadSendCivil    = "send_civil"
)

const (
	textChooseCohort  = "👋 Привет! Пожалуйста, выберите ваш тип:"
	textChooseTarget  = "👇 Выберите тип рассылки:"
	textRunning       = "✅ Telegram bot is running"
	textBroadcastDone = "✅ Рассылка отправлена!\n📤 Получателей: "
)

// LivenessText is the body served to non-POST webhook requests.
const LivenessText = textRunning

func cohortKeyboard() *transport.Keyboard {
	return transport.Column(
		transport.Button{Text: "🎖️ Военный", Data: PayloadTypeMilitary},
		transport.Button{Text: "👔 Гражданский", Data: PayloadTypeCivil},
	)
}

func targetKeyboard() *transport.Keyboard {
	return transport.Column(
		transport.Button{Text: "📤 Отправить ВСЕМ", Data: PayloadSendAll},
		transport.Button{Text: "🎖️ Только военным", Data: PayloadSendMilitary},
		transport.Button{Text: "👔 Только гражданским", Data: PayloadSendCivil},
	)
}

func cohortChosenText(c storage.Cohort) string {
	if c == storage.CohortMilitary {
		return "✅ Вы выбрали: Военный."
	}
	return "✅ Вы выбрали: Гражданский."
}

func promptText(t storage.Target) string {
	var who string
	switch t {
	case storage.TargetMilitary:
		who = "военным"
	case storage.TargetCivil:
		who = "гражданским"
	default:
		who = "всем"
	}
	return "📩 Введите текст рассылки для: " + who + "\n(Просто отправьте текст в чат)"
}

func broadcastDoneText(sent int) string {
	return textBroadcastDone + strconv.Itoa(sent)
}

// cohortFromPayload maps type_* payloads to a cohort.
func cohortFromPayload(p string) (storage.Cohort, bool) {
	switch p {
	case PayloadTypeMilitary:
		return storage.CohortMilitary, true
	case PayloadTypeCivil:
		return storage.CohortCivil, true
	}
	return "", false
}

// targetFromPayload maps send_* payloads to a broadcast target.
func targetFromPayload(p string) (storage.Target, bool) {
	switch p {
	case PayloadSendAll:
		return storage.TargetAll, true
	case PayloadSendMilitary:
		return storage.TargetMilitary, true
	case PayloadSendCivil:
		return storage.TargetCivil, true
	}
	return "", false
}
