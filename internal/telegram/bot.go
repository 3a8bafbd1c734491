// Package telegram adapts the Telegram Bot API to the wizard coordinator:
// it maps inbound updates to coordinator events and implements the outbound
// sender.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/repo-butler/internal/wizard"
)

const pollTimeoutSeconds = 30

// Coordinator is the part of the wizard the transport drives.
type Coordinator interface {
	OnReply(ctx context.Context, r wizard.Reply)
	OnMenuSelection(ctx context.Context, sel wizard.MenuSelection)
}

// Bot runs the long-poll update loop and delivers outbound messages.
type Bot struct {
	api   *tgbotapi.BotAPI
	coord Coordinator
}

// New connects to the Telegram Bot API.
func New(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return &Bot{api: api}, nil
}

// SetCoordinator wires the wizard coordinator. Must be called before Run.
func (b *Bot) SetCoordinator(coord Coordinator) {
	b.coord = coord
}

// Username returns the bot account's username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(updateConfig)

	slog.Info("telegram bot listening", "username", b.Username())

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			slog.Info("telegram bot shutting down", "reason", ctx.Err())
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		b.handleMessage(ctx, update.EditedMessage)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Text == "" {
		return
	}

	reply := wizard.Reply{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		At:        msg.Time(),
	}
	if msg.ReplyToMessage != nil {
		reply.ReplyTo = msg.ReplyToMessage.Text
	}

	b.coord.OnReply(ctx, reply)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}

	// Acknowledge the button press so the client stops its spinner.
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		slog.Warn("failed to answer callback query", "error", err)
	}

	b.coord.OnMenuSelection(ctx, wizard.MenuSelection{
		ChatID:    cq.Message.Chat.ID,
		UserID:    cq.From.ID,
		Username:  cq.From.UserName,
		MessageID: cq.Message.MessageID,
		Token:     cq.Data,
		At:        time.Unix(int64(cq.Message.Date), 0),
	})
}

// Send delivers a plain message, optionally with an inline keyboard.
func (b *Bot) Send(ctx context.Context, chatID int64, text string, keyboard wizard.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = inlineKeyboard(keyboard)
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Prompt delivers a question with a force-reply marker so the client
// prefills a reply to it.
func (b *Bot) Prompt(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	return nil
}

// Edit replaces the text and keyboard of a previously sent message.
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string, keyboard wizard.Keyboard) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, inlineKeyboard(keyboard))
	if _, err := b.api.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func inlineKeyboard(keyboard wizard.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(button.Label, button.Token))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
