// Package telegram implements transport.Messenger on top of telebot.
//
// The bot runs in webhook mode: updates arrive through internal/webhook, so the
// telebot instance is created offline and never polls.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Vagrant55/kaf-telegram-bot/internal/transport"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
	"github.com/Vagrant55/kaf-telegram-bot/pkg/tgui"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (local bot-api server, tests).
	APIURL string
	// Timeout bounds every Bot API request. telebot does not take a context,
	// so this is the only limit on a request already in flight. 0 means 10s.
	Timeout time.Duration
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

var _ transport.Messenger = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, log: log}, nil
}

// SetLogger replaces the bootstrap logger. Call it before the adapter is shared.
func (a *Adapter) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		a.log = log
	}
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks Telegram accepts,
// preferring newline boundaries near the end of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText sends text to chatID. The keyboard is attached to the first chunk only.
//
// ctx is checked before each chunk; a request in flight is bounded by
// Config.Timeout, not by ctx.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) error {
	chat := &tele.Chat{ID: chatID}
	markup := tgui.FromKeyboard(kb)

	for i, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{}
		if i == 0 && markup != nil {
			opt.ReplyMarkup = markup
		}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// AnswerCallback acknowledges a button press. Like SendText it checks ctx only
// before the request.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID})
}
