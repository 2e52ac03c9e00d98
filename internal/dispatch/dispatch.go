// Package dispatch routes incoming messages to the right interaction
// branch: mode resolution, shorthand commands, photo and voice flows,
// and the plain conversational path.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eniggman/geminigram/internal/activity"
	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/session"
	"github.com/eniggman/geminigram/internal/youtube"
)

// Action names the branch a message ended up in. Returned so callers
// and tests can observe routing decisions without inspecting state.
type Action string

const (
	ActionNone          Action = "none"
	ActionEditApplied   Action = "edit_applied"
	ActionDataLost      Action = "data_lost"
	ActionModeExit      Action = "mode_exit"
	ActionModeSet       Action = "mode_set"
	ActionTranslate     Action = "translate"
	ActionYouTube       Action = "youtube_summary"
	ActionTierSet       Action = "tier_set"
	ActionReset         Action = "reset"
	ActionImageGen      Action = "image_gen"
	ActionImageEdit     Action = "image_edit"
	ActionReplyAnalysis Action = "reply_analysis"
	ActionChat          Action = "chat"
	ActionChatImage     Action = "chat_with_image"
	ActionAwaitPrompt   Action = "awaiting_edit_prompt"
	ActionPhotoMenu     Action = "photo_menu"
	ActionPhotoAnalyze  Action = "photo_analyze"
	ActionVoice         Action = "voice"
	ActionDocument      Action = "document"
	ActionExpired       Action = "expired"
	ActionRejected      Action = "rejected"
)

// Callback button payloads for the photo menu.
const (
	CallbackAnalyze = "photo_analyze"
	CallbackEdit    = "photo_edit"
)

// Chat actions forwarded to the transport while a branch is working.
const (
	ActivityTyping      = "typing"
	ActivityUploadPhoto = "upload_photo"
)

// AI is the generative backend the dispatcher calls out to. Implemented
// by gemini.Client; narrowed here so tests can fake it.
type AI interface {
	Analyze(ctx context.Context, tier session.Tier, prompt string, blobs [][]byte, mimeType string, timeout time.Duration) (string, error)
	GenerateImage(ctx context.Context, tier session.Tier, prompt string) ([]byte, error)
	EditImage(ctx context.Context, tier session.Tier, images [][]byte, prompt string) ([]byte, error)
	Transcribe(ctx context.Context, voice []byte) (string, error)
	Translate(ctx context.Context, text string) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
	GenerateText(ctx context.Context, prompt, instruction string) (string, error)
	ImageModelName(tier session.Tier) string
}

// TranscriptFetcher pulls YouTube captions. Implemented by youtube.Client.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string, preferredLangs []string) (*youtube.Transcript, error)
}

// SendFunc delivers one turn on a conversation handle. Defaults to
// gemini.SendWithRetry.
type SendFunc func(ctx context.Context, chat session.Chat, text string) (string, error)

// Button is one inline keyboard option.
type Button struct {
	Label string
	Data  string
}

// Responder is the outbound half of the messaging transport. All sends
// reply to a message when replyTo is non-zero.
type Responder interface {
	// SendResponse formats model output for the platform and delivers it
	// in chunks.
	SendResponse(ctx context.Context, chatID int64, replyTo int, text string) error
	// SendText delivers a short service message (HTML allowed) and
	// returns its message id.
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	SendPhoto(ctx context.Context, chatID int64, replyTo int, photo []byte) error
	SendButtons(ctx context.Context, chatID int64, replyTo int, text string, buttons []Button) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int)
	ChatAction(ctx context.Context, chatID int64, action string)
	NotifyAdmin(ctx context.Context, text string)
}

// Message is an inbound text turn. Callers have already verified access
// and, for group chats, the mention/reply gate.
type Message struct {
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
	Text      string
	Private   bool

	// ReplyPhoto lazily downloads the photo of the replied-to message.
	// Nil when the message does not reply to a photo.
	ReplyPhoto func(ctx context.Context) ([]byte, error)
}

// Config wires a Dispatcher.
type Config struct {
	Store           *session.Store
	AI              AI
	Send            SendFunc
	Transcripts     TranscriptFetcher
	Truncate        func(string) string
	TranscriptLangs []string
	Responder       Responder
	Activity        *activity.Log
	AdminID         int64
}

// Dispatcher is the mode/session router.
type Dispatcher struct {
	store    *session.Store
	ai       AI
	send     SendFunc
	tube     TranscriptFetcher
	truncate func(string) string
	langs    []string
	resp     Responder
	log      *activity.Log
	adminID  int64
}

func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:    cfg.Store,
		ai:       cfg.AI,
		send:     cfg.Send,
		tube:     cfg.Transcripts,
		truncate: cfg.Truncate,
		langs:    cfg.TranscriptLangs,
		resp:     cfg.Responder,
		log:      cfg.Activity,
		adminID:  cfg.AdminID,
	}
	if d.send == nil {
		d.send = gemini.SendWithRetry
	}
	if d.truncate == nil {
		d.truncate = func(s string) string { return s }
	}
	if len(d.langs) == 0 {
		d.langs = []string{"ru", "en"}
	}
	return d
}

func tierIcon(t session.Tier) string {
	if t == session.TierPro {
		return "💎"
	}
	return "⚡"
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// HandleText resolves one text turn. Resolution order, first match
// wins: pending edit prompt, exit keyword, shorthand command, reply to
// a photo, active mode, plain chat.
func (d *Dispatcher) HandleText(ctx context.Context, msg *Message) Action {
	sess := d.store.Get(msg.UserID)
	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)

	if act, handled := d.editPrompt(ctx, sess, msg, text); handled {
		return act
	}
	if act, handled := d.exitKeyword(ctx, sess, msg, lower); handled {
		return act
	}
	if act, handled := d.shorthand(ctx, sess, msg, text, lower); handled {
		return act
	}
	if act, handled := d.replyAnalysis(ctx, sess, msg, text); handled {
		return act
	}

	switch sess.Mode {
	case session.ModeImageGen:
		sess.ClearMode()
		d.generateImage(ctx, sess, msg.ChatID, msg.MessageID, msg.Username, text)
		return ActionImageGen
	case session.ModeYouTube:
		sess.ClearMode()
		d.youtubeSummary(ctx, msg, text)
		return ActionYouTube
	case session.ModeTranslate:
		// Translate mode stays active until an exit keyword or reset.
		d.translateText(ctx, sess, msg, text)
		return ActionTranslate
	}

	return d.chat(ctx, sess, msg, text)
}

// editPrompt consumes the message as an image-edit instruction when the
// session is awaiting one. Mode and pending photos are consumed whether
// the edit succeeds or fails.
func (d *Dispatcher) editPrompt(ctx context.Context, sess *session.Session, msg *Message, text string) (Action, bool) {
	if sess.Mode != session.ModeAwaitingEditPrompt {
		return ActionNone, false
	}
	if sess.PhotoTask == nil {
		sess.ClearMode()
		d.reply(ctx, msg, "Данные фото потеряны. Отправьте фото заново.")
		return ActionDataLost, true
	}

	task := sess.TakePhotoTask()
	d.editPhotos(ctx, sess, msg.ChatID, task.MessageID, msg.Username, task.Photos, text, "img_edit_btn_done")
	return ActionEditApplied, true
}

var exitKeywords = map[string]bool{
	"выход": true, "exit": true, "quit": true, "stop": true,
}

var exitMessages = map[session.Mode]string{
	session.ModeTranslate: "✅ Режим переводчика выключен.",
	session.ModeImageGen:  "✅ Режим генерации изображений выключен.",
	session.ModeYouTube:   "✅ Режим YouTube саммари выключен.",
}

// exitKeyword clears the active mode. An exit keyword with no mode set
// is not handled here and falls through to the plain chat path.
func (d *Dispatcher) exitKeyword(ctx context.Context, sess *session.Session, msg *Message, lower string) (Action, bool) {
	if !exitKeywords[lower] {
		return ActionNone, false
	}
	if sess.Mode == session.ModeNone {
		return ActionNone, false
	}
	prev := sess.ClearMode()
	text, ok := exitMessages[prev]
	if !ok {
		text = "✅ Режим выключен."
	}
	d.reply(ctx, msg, text)
	return ActionModeExit, true
}

// cutToken returns the trailing argument when lower starts with one of
// the given token prefixes (token plus a space).
func cutToken(text, lower string, tokens ...string) (string, bool) {
	for _, tok := range tokens {
		if strings.HasPrefix(lower, tok+" ") {
			return strings.TrimSpace(text[len(tok)+1:]), true
		}
	}
	return "", false
}

func matchAny(lower string, tokens ...string) bool {
	for _, tok := range tokens {
		if lower == tok {
			return true
		}
	}
	return false
}

// shorthand handles the single-word fast commands and their
// with-argument forms. A bare token switches mode; a token with
// trailing text runs the operation immediately without setting a mode.
func (d *Dispatcher) shorthand(ctx context.Context, sess *session.Session, msg *Message, text, lower string) (Action, bool) {
	switch {
	case matchAny(lower, "пр", "перевод", "translate"):
		sess.Mode = session.ModeTranslate
		d.reply(ctx, msg, "🗣 Отправьте текст для перевода на русский:")
		return ActionModeSet, true

	case matchAny(lower, "ю", "ютуб", "youtube"):
		sess.Mode = session.ModeYouTube
		d.reply(ctx, msg, "📺 Отправьте ссылку на YouTube видео:")
		d.record(msg.UserID, msg.Username, "youtube_request", "mode on")
		return ActionModeSet, true

	case matchAny(lower, "п", "про", "pro"):
		sess.ModelTier = session.TierPro
		if _, err := d.store.Reset(sess); err != nil {
			slog.Warn("reset after tier switch failed", "user_id", msg.UserID, "error", err)
		}
		d.reply(ctx, msg, "<i>Pro</i> 💎")
		return ActionTierSet, true

	case lower == "ф":
		sess.ModelTier = session.TierFlash
		if _, err := d.store.Reset(sess); err != nil {
			slog.Warn("reset after tier switch failed", "user_id", msg.UserID, "error", err)
		}
		d.reply(ctx, msg, "<i>Flash</i> ⚡")
		return ActionTierSet, true

	case text == ".":
		cancelled, err := d.store.Reset(sess)
		if err != nil {
			slog.Warn("reset failed", "user_id", msg.UserID, "error", err)
		}
		switch cancelled {
		case session.ModeImageGen:
			d.reply(ctx, msg, "🔄 Режим генерации отменён.")
		case session.ModeTranslate:
			d.reply(ctx, msg, "🔄 Режим перевода отменён.")
		default:
			d.reply(ctx, msg, "🔄 Контекст сброшен.")
		}
		return ActionReset, true

	case matchAny(lower, "к", "картинка"):
		sess.Mode = session.ModeImageGen
		d.reply(ctx, msg, fmt.Sprintf("🎨 %s Опишите что нарисовать:", tierIcon(sess.ImageModelTier)))
		return ActionModeSet, true

	case matchAny(lower, "к про", "к pro"):
		sess.ImageModelTier = session.TierPro
		sess.Mode = session.ModeImageGen
		d.reply(ctx, msg, fmt.Sprintf("🎨 💎 <b>Pro</b>\n<code>%s</code>\n\n✏️ Опишите что нарисовать:", d.ai.ImageModelName(session.TierPro)))
		return ActionModeSet, true

	case matchAny(lower, "к флеш", "к flash"):
		sess.ImageModelTier = session.TierFlash
		sess.Mode = session.ModeImageGen
		d.reply(ctx, msg, fmt.Sprintf("🎨 ⚡ <b>Flash</b>\n<code>%s</code>\n\n✏️ Опишите что нарисовать:", d.ai.ImageModelName(session.TierFlash)))
		return ActionModeSet, true

	case matchAny(lower, "р", "редактировать", "edit"):
		sess.Mode = session.ModeAwaitingEditPhoto
		d.reply(ctx, msg, fmt.Sprintf("✏️ %s Отправьте фото (или альбом) для редактирования:", tierIcon(sess.ImageModelTier)))
		return ActionModeSet, true
	}

	if arg, ok := cutToken(text, lower, "пр", "перевод", "translate"); ok && arg != "" {
		d.resp.ChatAction(ctx, msg.ChatID, ActivityTyping)
		out, err := d.ai.Translate(ctx, arg)
		if err != nil {
			d.logError("TRANSLATE", err, msg.UserID)
			d.reply(ctx, msg, gemini.UserMessage(err, "TRANSLATE"))
			return ActionTranslate, true
		}
		d.respond(ctx, msg, out)
		d.record(msg.UserID, msg.Username, "translate", clip(arg, 30))
		return ActionTranslate, true
	}

	if url, ok := cutToken(text, lower, "ю", "ютуб", "youtube"); ok && url != "" {
		d.youtubeSummary(ctx, msg, url)
		return ActionYouTube, true
	}

	if prompt, ok := cutToken(text, lower, "к", "картинка"); ok && prompt != "" {
		d.generateImage(ctx, sess, msg.ChatID, msg.MessageID, msg.Username, prompt)
		return ActionImageGen, true
	}

	return ActionNone, false
}

const defaultDescribePrompt = "Опиши подробно что на этом изображении"

// replyAnalysis answers a reply to a photo message as a one-shot
// multimodal question. No mode is required and none is set.
func (d *Dispatcher) replyAnalysis(ctx context.Context, sess *session.Session, msg *Message, text string) (Action, bool) {
	if msg.ReplyPhoto == nil {
		return ActionNone, false
	}
	prompt := text
	if prompt == "" {
		prompt = defaultDescribePrompt
	}

	thinking, _ := d.resp.SendText(ctx, msg.ChatID, msg.MessageID, fmt.Sprintf("%s Анализирую...", tierIcon(sess.ModelTier)))

	photo, err := msg.ReplyPhoto(ctx)
	if err == nil {
		var out string
		out, err = d.ai.Analyze(ctx, sess.ModelTier, prompt, [][]byte{photo}, "image/jpeg", gemini.TimeoutShort)
		if err == nil {
			d.deleteThinking(ctx, msg.ChatID, thinking)
			d.respond(ctx, msg, out)
			d.record(msg.UserID, msg.Username, "img_analyze", "reply: "+clip(prompt, 20))
			return ActionReplyAnalysis, true
		}
	}

	d.deleteThinking(ctx, msg.ChatID, thinking)
	d.logError("IMAGE_ANALYZE", err, msg.UserID)
	d.reply(ctx, msg, gemini.UserMessage(err, "IMAGE_ANALYZE"))
	return ActionReplyAnalysis, true
}

// translateText serves one message in translate mode. The mode is left
// active.
func (d *Dispatcher) translateText(ctx context.Context, sess *session.Session, msg *Message, text string) {
	d.resp.ChatAction(ctx, msg.ChatID, ActivityTyping)
	out, err := d.ai.Translate(ctx, text)
	if err != nil {
		d.logError("TRANSLATE", err, msg.UserID)
		d.reply(ctx, msg, gemini.UserMessage(err, "TRANSLATE"))
		return
	}
	d.respond(ctx, msg, out)
	d.record(msg.UserID, msg.Username, "translate", clip(text, 30))
}

// chat is the default conversational turn. With an unexpired active
// image the turn is a one-shot multimodal call; otherwise it goes
// through the persistent conversation with retry.
func (d *Dispatcher) chat(ctx context.Context, sess *session.Session, msg *Message, text string) Action {
	active := sess.ActiveImageData(time.Now())

	d.resp.ChatAction(ctx, msg.ChatID, ActivityTyping)
	thinking, _ := d.resp.SendText(ctx, msg.ChatID, msg.MessageID, "❇️ Думаю...")

	var (
		out    string
		err    error
		action Action
	)
	if active != nil {
		out, err = d.ai.Analyze(ctx, sess.ModelTier, text, [][]byte{active}, "image/jpeg", gemini.TimeoutShort)
		action = ActionChatImage
	} else {
		var chat session.Chat
		chat, err = d.store.Conversation(sess)
		if err == nil {
			out, err = d.send(ctx, chat, text)
		}
		action = ActionChat
	}

	d.deleteThinking(ctx, msg.ChatID, thinking)

	if err != nil {
		d.logError("API", err, msg.UserID)
		userMsg := gemini.UserMessage(err, "CHAT")
		d.respond(ctx, msg, userMsg)
		if msg.Private && msg.UserID != d.adminID {
			d.resp.NotifyAdmin(ctx, fmt.Sprintf("🚨 API Error\nUser: %d\n<code>%s</code>", msg.UserID, clip(err.Error(), 200)))
		}
		return action
	}

	d.respond(ctx, msg, out)
	d.record(msg.UserID, msg.Username, "text", "Model: "+string(sess.ModelTier))
	return action
}

// generateImage renders a prompt on the session's image tier and sends
// the result.
func (d *Dispatcher) generateImage(ctx context.Context, sess *session.Session, chatID int64, replyTo int, username, prompt string) {
	d.resp.ChatAction(ctx, chatID, ActivityUploadPhoto)
	icon := tierIcon(sess.ImageModelTier)
	thinking, _ := d.resp.SendText(ctx, chatID, replyTo, fmt.Sprintf("🎨 %s Генерирую изображение...", icon))

	data, err := d.ai.GenerateImage(ctx, sess.ImageModelTier, prompt)
	d.deleteThinking(ctx, chatID, thinking)
	if err != nil {
		d.logError("IMAGE_GEN", err, sess.UserID)
		d.resp.SendText(ctx, chatID, replyTo, gemini.UserMessage(err, "IMAGE_GEN"))
		return
	}

	title := strings.ToUpper(string(sess.ImageModelTier[:1])) + string(sess.ImageModelTier[1:])
	d.resp.SendText(ctx, chatID, replyTo, fmt.Sprintf("Модель: %s%s", title, icon))
	if err := d.resp.SendPhoto(ctx, chatID, replyTo, data); err != nil {
		slog.Warn("send generated image failed", "user_id", sess.UserID, "error", err)
	}
	d.record(sess.UserID, username, "img_gen", clip(prompt, 30))
}

// editPhotos runs an image edit over one or more photos and reports the
// result. Shared by the caption flow and the awaited-prompt flow.
func (d *Dispatcher) editPhotos(ctx context.Context, sess *session.Session, chatID int64, replyTo int, username string, photos [][]byte, prompt, action string) {
	d.resp.ChatAction(ctx, chatID, ActivityUploadPhoto)
	working := "🎨 Редактирую изображение..."
	if len(photos) > 1 {
		working = fmt.Sprintf("🎨 Редактирую %d изображения...", len(photos))
	}
	thinking, _ := d.resp.SendText(ctx, chatID, replyTo, working)

	icon := tierIcon(sess.ImageModelTier)
	data, err := d.ai.EditImage(ctx, sess.ImageModelTier, photos, prompt)
	d.deleteThinking(ctx, chatID, thinking)
	if err != nil {
		d.logError("IMAGE_EDIT", err, sess.UserID)
		d.resp.SendText(ctx, chatID, replyTo, gemini.UserMessage(err, "IMAGE_EDIT"))
		return
	}

	model := d.ai.ImageModelName(sess.ImageModelTier)
	caption := fmt.Sprintf("%s Отредактировано через <b>%s</b>\n\n✏️ Запрос: %s", icon, model, prompt)
	if len(photos) > 1 {
		caption = fmt.Sprintf("%s Отредактировано %d фото через <b>%s</b>\n\n✏️ Запрос: %s", icon, len(photos), model, prompt)
	}
	d.resp.SendText(ctx, chatID, replyTo, caption)
	if err := d.resp.SendPhoto(ctx, chatID, 0, data); err != nil {
		slog.Warn("send edited image failed", "user_id", sess.UserID, "error", err)
	}
	d.record(sess.UserID, username, action, fmt.Sprintf("%d photos: %s", len(photos), clip(prompt, 15)))
}

func (d *Dispatcher) reply(ctx context.Context, msg *Message, text string) {
	if _, err := d.resp.SendText(ctx, msg.ChatID, msg.MessageID, text); err != nil {
		slog.Warn("reply failed", "chat_id", msg.ChatID, "error", err)
	}
}

func (d *Dispatcher) respond(ctx context.Context, msg *Message, text string) {
	if err := d.resp.SendResponse(ctx, msg.ChatID, msg.MessageID, text); err != nil {
		slog.Warn("send response failed", "chat_id", msg.ChatID, "error", err)
	}
}

func (d *Dispatcher) deleteThinking(ctx context.Context, chatID int64, messageID int) {
	if messageID != 0 {
		d.resp.Delete(ctx, chatID, messageID)
	}
}

func (d *Dispatcher) record(userID int64, username, action, details string) {
	if d.log != nil {
		d.log.Record(userID, username, action, details)
	}
}

func (d *Dispatcher) logError(errType string, err error, userID int64) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	slog.Error("handler error", "type", errType, "user_id", userID, "error", msg)
	if d.log != nil {
		d.log.RecordError(errType, msg, userID)
	}
}
