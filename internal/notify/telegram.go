package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sma-trading-bot/internal/api"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	redactedToken   = "<token>"
)

// Telegram sends messages through the Bot API to a single chat.
type Telegram struct {
	client *api.Client
	token  string
	chatID string
	retry  *api.RetryConfig
}

func NewTelegram(token, chatID string, opts ...api.ClientOption) *Telegram {
	opts = append([]api.ClientOption{api.WithBaseURL(telegramBaseURL), api.WithTimeout(10 * time.Second)}, opts...)
	return &Telegram{
		client: api.NewClient(opts...),
		token:  token,
		chatID: chatID,
		retry:  api.DefaultRetryConfig(),
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessage struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	body := sendMessage{ChatID: t.chatID, Text: msg.Text}
	if len(msg.Buttons) > 0 {
		body.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: keyboard(msg)}
	}
	return t.call(ctx, "sendMessage", body)
}

// AnswerCallback acknowledges a button press so the client stops spinning.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID string) error {
	return t.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID})
}

func (t *Telegram) call(ctx context.Context, method string, body any) error {
	req := api.NewRequest(http.MethodPost, fmt.Sprintf("/bot%s/%s", t.token, method)).
		WithContext(ctx).
		WithBody(body)
	if _, err := t.client.DoWithRetry(req, t.retry); err != nil {
		return fmt.Errorf("telegram: %s: %w", method, t.redact(err))
	}
	return nil
}

// redact strips the bot token from err. Transport errors quote the request
// URL, and the token is part of its path.
func (t *Telegram) redact(err error) error {
	if t.token == "" {
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, t.token, redactedToken)
	}
	if strings.Contains(err.Error(), t.token) {
		return &redactedError{err: err, token: t.token}
	}
	return err
}

// redactedError keeps the chain for errors.Is and errors.As but never prints
// the token.
type redactedError struct {
	err   error
	token string
}

func (e *redactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.token, redactedToken)
}

func (e *redactedError) Unwrap() error { return e.err }

// keyboard lays buttons out two per row.
func keyboard(msg Message) [][]inlineButton {
	var rows [][]inlineButton
	for i := 0; i < len(msg.Buttons); i += 2 {
		end := min(i+2, len(msg.Buttons))
		row := make([]inlineButton, 0, 2)
		for _, b := range msg.Buttons[i:end] {
			row = append(row, inlineButton{Text: b.Text, CallbackData: b.Command})
		}
		rows = append(rows, row)
	}
	return rows
}
