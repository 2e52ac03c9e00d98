package telegram

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eniggman/geminigram/internal/dispatch"
	"github.com/eniggman/geminigram/internal/format"
)

// SendResponse renders model output as Telegram HTML and delivers it in
// numbered chunks. A chunk that Telegram rejects as HTML is resent as
// plain text so the content is never lost to a markup error.
func (a *Adapter) SendResponse(_ context.Context, chatID int64, replyTo int, text string) error {
	if text == "" {
		text = "Пустой ответ от API"
	}
	parts := format.Numbered(format.Split(text, format.MaxMessageLength))

	var lastErr error
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, format.Format(part))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if i == 0 && replyTo != 0 {
			msg.ReplyToMessageID = replyTo
		}
		if _, err := a.bot.Send(msg); err != nil {
			msg.Text = part
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send failed", "chat_id", chatID, "error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendText delivers one short service message with HTML markup and
// returns its message id for later edits or deletion.
func (a *Adapter) SendText(_ context.Context, chatID int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	sent, err := a.bot.Send(msg)
	if err != nil {
		// Retry without markup, the text may contain raw angle brackets.
		msg.ParseMode = ""
		sent, err = a.bot.Send(msg)
		if err != nil {
			return 0, err
		}
	}
	return sent.MessageID, nil
}

func (a *Adapter) sendPlain(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	if _, err := a.bot.Send(msg); err != nil {
		slog.Error("send failed", "chat_id", chatID, "error", err)
	}
}

// SendPhoto uploads image bytes as a photo reply.
func (a *Adapter) SendPhoto(_ context.Context, chatID int64, replyTo int, photo []byte) error {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: photo})
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	_, err := a.bot.Send(msg)
	return err
}

// SendButtons posts a message with a single row of inline buttons and
// returns its message id.
func (a *Adapter) SendButtons(_ context.Context, chatID int64, replyTo int, text string, buttons []dispatch.Button) (int, error) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	sent, err := a.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditText replaces a previously sent message, dropping its keyboard.
func (a *Adapter) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := a.bot.Send(edit); err != nil {
		edit.ParseMode = ""
		if _, err := a.bot.Send(edit); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a message; failures are only logged since the message
// may already be gone.
func (a *Adapter) Delete(_ context.Context, chatID int64, messageID int) {
	if _, err := a.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		slog.Debug("delete failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// ChatAction shows the typing/uploading indicator. Best-effort.
func (a *Adapter) ChatAction(_ context.Context, chatID int64, action string) {
	if _, err := a.bot.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		slog.Debug("chat action failed", "chat_id", chatID, "error", err)
	}
}

// NotifyAdmin mirrors a message to the admin's private chat.
func (a *Adapter) NotifyAdmin(ctx context.Context, text string) {
	adminID := a.access.AdminID()
	if adminID == 0 {
		return
	}
	if _, err := a.SendText(ctx, adminID, 0, text); err != nil {
		slog.Warn("admin notify failed", "error", err)
	}
}

func (a *Adapter) handleInline(ctx context.Context, q *tgbotapi.InlineQuery) {
	res := a.dispatcher.AnswerInline(ctx, q.From.ID, q.From.UserName, q.Query, a.access.Allowed(q.From.ID))

	article := tgbotapi.NewInlineQueryResultArticleHTML(uuid.NewString(), res.Title, res.HTML)
	article.Description = res.Description

	answer := tgbotapi.InlineConfig{
		InlineQueryID: q.ID,
		IsPersonal:    true,
		CacheTime:     0,
		Results:       []interface{}{article},
	}
	if _, err := a.bot.Request(answer); err != nil {
		slog.Warn("inline answer failed", "user_id", q.From.ID, "error", err)
	}
}
