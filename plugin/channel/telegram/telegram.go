// Package telegram adapts the channel gateway to the Telegram Bot API.
// Button payloads map to inline keyboards; list payloads have no Telegram
// native form and render as numbered text.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/plugin/channel"
)

// Credentials is the decrypted credential blob shape for telegram tenants.
type Credentials struct {
	BotToken string `json:"bot_token"`
}

// Gateway sends payloads through Telegram. Bot clients are constructed per
// send from the tenant credential; the Bot API is stateless.
type Gateway struct {
	// newBot is swapped in tests.
	newBot func(token string) (botAPI, error)
}

// botAPI is the slice of *tgbotapi.BotAPI the gateway uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

func New() *Gateway {
	return &Gateway{
		newBot: func(token string) (botAPI, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

func (g *Gateway) Name() string { return "telegram" }

// Send transmits one payload. to is the chat id as a decimal string.
func (g *Gateway) Send(ctx context.Context, creds []byte, to string, payload channel.Payload) (*channel.Receipt, error) {
	var parsed Credentials
	if err := json.Unmarshal(creds, &parsed); err != nil || parsed.BotToken == "" {
		return nil, &channel.SendError{Err: errors.New("invalid telegram credentials")}
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil, &channel.SendError{Err: errors.Wrapf(err, "invalid telegram chat id %q", to)}
	}

	bot, err := g.newBot(parsed.BotToken)
	if err != nil {
		return nil, &channel.SendError{Transient: true, Err: errors.Wrap(err, "failed to create telegram bot")}
	}

	chattable, err := convert(chatID, payload)
	if err != nil {
		return nil, &channel.SendError{Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &channel.SendError{Transient: true, Err: err}
	}
	sent, err := bot.Send(chattable)
	if err != nil {
		return nil, &channel.SendError{Transient: isTransient(err), Err: errors.Wrap(err, "telegram send failed")}
	}

	return &channel.Receipt{
		ProviderMessageID: strconv.Itoa(sent.MessageID),
		SentTs:            time.Now().Unix(),
	}, nil
}

// convert maps a payload onto the closest Telegram message shape.
func convert(chatID int64, payload channel.Payload) (tgbotapi.Chattable, error) {
	switch p := payload.(type) {
	case channel.TextPayload:
		return tgbotapi.NewMessage(chatID, p.Text), nil

	case channel.ButtonPayload:
		msg := tgbotapi.NewMessage(chatID, p.Text)
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(p.Buttons))
		for _, b := range p.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.ID))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
		return msg, nil

	case channel.ListPayload:
		return tgbotapi.NewMessage(chatID, renderList(p)), nil

	case channel.MediaPayload:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(p.URL))
		photo.Caption = p.Caption
		return photo, nil

	default:
		return nil, errors.Errorf("unsupported payload kind %q", payload.Kind())
	}
}

// renderList is the text fallback for list payloads.
func renderList(p channel.ListPayload) string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString(p.Title)
		b.WriteString("\n")
	}
	if p.Body != "" {
		b.WriteString(p.Body)
		b.WriteString("\n")
	}
	for i, row := range p.Rows {
		fmt.Fprintf(&b, "%d. %s", i+1, row.Title)
		if row.Description != "" {
			fmt.Fprintf(&b, " - %s", row.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// isTransient classifies Bot API failures. The library folds HTTP status
// into the error; 429 and 5xx texts are retryable.
func isTransient(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	// Network-level failures surface as plain errors.
	return true
}
