package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/session"
)

// PhotoMessage is a single photo or a flushed album (Photos length >= 1,
// arrival order preserved).
type PhotoMessage struct {
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
	Photos    [][]byte
	Caption   string
}

const inPlaceTranslatePrompt = "Translate all text in the image to Russian. " +
	"Replace the original text in-place while preserving layout, " +
	"font style, size, and colors as closely as possible. " +
	"Keep the rest of the image unchanged. " +
	"Return only the edited image."

const ocrTranslatePrompt = "Find all text in the image and translate it to Russian. " +
	"Output only the translation, no comments."

// HandlePhoto routes a photo submission: translate mode, edit flows, or
// the analyze/edit button menu.
func (d *Dispatcher) HandlePhoto(ctx context.Context, p *PhotoMessage) Action {
	sess := d.store.Get(p.UserID)
	caption := strings.TrimSpace(p.Caption)
	lower := strings.ToLower(caption)

	if sess.Mode == session.ModeTranslate && len(p.Photos) == 1 {
		d.translatePhoto(ctx, sess, p)
		return ActionTranslate
	}

	if sess.Mode == session.ModeAwaitingEditPhoto {
		sess.SetPhotoTask(p.Photos, p.MessageID)
		d.replyPhotoReceived(ctx, sess, p)
		d.record(p.UserID, p.Username, "edit_photo_received", "awaiting prompt")
		return ActionAwaitPrompt
	}

	if prompt, ok := editCaption(caption, lower); ok {
		if prompt == "" {
			sess.SetPhotoTask(p.Photos, p.MessageID)
			d.replyPhotoReceived(ctx, sess, p)
			return ActionAwaitPrompt
		}
		d.editPhotos(ctx, sess, p.ChatID, p.MessageID, p.Username, p.Photos, prompt, "img_edit")
		return ActionImageEdit
	}

	// No command: store the photos and offer the action menu. The mode
	// is left untouched until a button is pressed.
	sess.PhotoTask = &session.PhotoTask{
		Photos:    p.Photos,
		MessageID: p.MessageID,
		CreatedAt: time.Now(),
	}

	menu := "Что сделать с этим фото?"
	if len(p.Photos) > 1 {
		menu = fmt.Sprintf("📷 Получено %d фото. Что сделать с альбомом?", len(p.Photos))
	}
	buttons := []Button{
		{Label: "Анализировать", Data: CallbackAnalyze},
		{Label: "✏️ Редактировать", Data: CallbackEdit},
	}
	if _, err := d.resp.SendButtons(ctx, p.ChatID, p.MessageID, menu, buttons); err != nil {
		d.logError("PHOTO_MENU", err, p.UserID)
		d.resp.SendText(ctx, p.ChatID, p.MessageID, "Ошибка при подготовке меню действий.")
	}
	return ActionPhotoMenu
}

// editCaption recognizes the edit shorthand in a photo caption and
// returns the trailing prompt, if any.
func editCaption(caption, lower string) (string, bool) {
	if matchAny(lower, "р", "редактировать", "edit") {
		return "", true
	}
	if prompt, ok := cutToken(caption, lower, "р", "редактировать", "edit"); ok {
		return prompt, true
	}
	return "", false
}

func (d *Dispatcher) replyPhotoReceived(ctx context.Context, sess *session.Session, p *PhotoMessage) {
	icon := tierIcon(sess.ImageModelTier)
	text := fmt.Sprintf("📷 Фото получено! %s\n\n✏️ Опишите что нужно сделать с изображением:", icon)
	if len(p.Photos) > 1 {
		text = fmt.Sprintf("📷 Получено %d фото (альбом)! %s\n\n✏️ Опишите что нужно сделать с изображениями:", len(p.Photos), icon)
	}
	d.resp.SendText(ctx, p.ChatID, p.MessageID, text)
}

// translatePhoto translates the text on an image in-place via an image
// edit, falling back to OCR plus text translation when the edit fails.
// Translate mode is consumed either way.
func (d *Dispatcher) translatePhoto(ctx context.Context, sess *session.Session, p *PhotoMessage) {
	thinking, _ := d.resp.SendText(ctx, p.ChatID, p.MessageID, "Перевожу текст на изображении...")
	photo := p.Photos[0]

	data, err := d.ai.EditImage(ctx, sess.ImageModelTier, [][]byte{photo}, inPlaceTranslatePrompt)
	if err == nil {
		d.deleteThinking(ctx, p.ChatID, thinking)
		sess.ClearMode()
		if err := d.resp.SendPhoto(ctx, p.ChatID, p.MessageID, data); err != nil {
			d.logError("IMAGE_TRANSLATE", err, p.UserID)
			return
		}
		d.record(p.UserID, p.Username, "img_translate_image", d.ai.ImageModelName(sess.ImageModelTier))
		return
	}
	d.logError("IMAGE_TRANSLATE_EDIT", err, p.UserID)

	out, err := d.ai.Analyze(ctx, session.TierFlash, ocrTranslatePrompt, [][]byte{photo}, "image/jpeg", gemini.TimeoutShort)
	d.deleteThinking(ctx, p.ChatID, thinking)
	sess.ClearMode()
	if err != nil {
		d.logError("IMAGE_TRANSLATE", err, p.UserID)
		d.resp.SendText(ctx, p.ChatID, p.MessageID, gemini.UserMessage(err, "IMAGE_TRANSLATE"))
		return
	}
	if err := d.resp.SendResponse(ctx, p.ChatID, p.MessageID, out); err != nil {
		d.logError("IMAGE_TRANSLATE", err, p.UserID)
		return
	}
	d.record(p.UserID, p.Username, "img_translate", "OCR+translate")
}
