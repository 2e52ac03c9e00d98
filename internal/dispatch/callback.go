package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eniggman/geminigram/internal/format"
	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/session"
)

// Callback is a pressed button under a photo menu message.
type Callback struct {
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
	Data      string
}

// HandleCallback resolves a photo menu button: run the analysis, or
// switch to the awaiting-prompt edit state. Expired photo data is an
// expected condition, not an error.
func (d *Dispatcher) HandleCallback(ctx context.Context, cb *Callback) Action {
	sess := d.store.Get(cb.UserID)

	task := sess.PhotoTask
	if task == nil {
		d.resp.EditText(ctx, cb.ChatID, cb.MessageID, "Данные фото устарели или отсутствуют. Отправьте фото заново.")
		return ActionExpired
	}
	if task.Expired(time.Now()) {
		sess.PhotoTask = nil
		sess.Mode = session.ModeNone
		d.resp.EditText(ctx, cb.ChatID, cb.MessageID,
			fmt.Sprintf("⏱ Время ожидания истекло (%d мин). Отправьте фото заново.", int(session.PhotoTaskTimeout.Minutes())))
		return ActionExpired
	}

	switch cb.Data {
	case CallbackAnalyze:
		return d.analyzeTask(ctx, sess, cb, task)
	case CallbackEdit:
		// Keep the task, wait for the instruction text.
		sess.Mode = session.ModeAwaitingEditPrompt
		model := d.ai.ImageModelName(session.TierPro)
		text := fmt.Sprintf("✏️ Введите описание того, что нужно изменить или добавить на этом фото:\n\n💎 Используется: <code>%s</code>", model)
		if len(task.Photos) > 1 {
			text = fmt.Sprintf("✏️ Введите описание того, что нужно сделать с %d фото:\n\n💎 Используется: <code>%s</code>", len(task.Photos), model)
		}
		d.resp.EditText(ctx, cb.ChatID, cb.MessageID, text)
		return ActionAwaitPrompt
	}
	return ActionNone
}

// analyzeTask runs the multimodal analysis over the stored photos and
// promotes the first one to the active-image context.
func (d *Dispatcher) analyzeTask(ctx context.Context, sess *session.Session, cb *Callback, task *session.PhotoTask) Action {
	count := len(task.Photos)
	working := "Анализирую..."
	if count > 1 {
		working = fmt.Sprintf("Анализирую %d фото...", count)
	}
	d.resp.EditText(ctx, cb.ChatID, cb.MessageID, working)

	prompt := defaultDescribePrompt
	if count > 1 {
		prompt = fmt.Sprintf("Опиши подробно что на этих %d изображениях и как они связаны между собой", count)
	}

	out, err := d.ai.Analyze(ctx, sess.ModelTier, prompt, task.Photos, "image/jpeg", gemini.TimeoutShort)
	if err != nil {
		d.logError("BTN_ANALYZE", err, cb.UserID)
		d.resp.SendText(ctx, cb.ChatID, 0, gemini.UserMessage(err, "BTN_ANALYZE"))
		return ActionPhotoAnalyze
	}

	icon := tierIcon(sess.ModelTier)
	header := fmt.Sprintf("%s <b>Результат анализа:</b>", icon)
	if count > 1 {
		header = fmt.Sprintf("%s <b>Результат анализа (%d фото):</b>", icon, count)
	}
	d.resp.SendText(ctx, cb.ChatID, task.MessageID, header+"\n\n"+format.Format(out))

	sess.SetActiveImage(task.Photos[0])
	d.record(cb.UserID, cb.Username, "img_analyze_btn", fmt.Sprintf("%s, %d photos", sess.ModelTier, count))
	return ActionPhotoAnalyze
}

// InlineKind classifies an inline query outcome.
type InlineKind string

const (
	InlineNoAccess InlineKind = "no_access"
	InlineHint     InlineKind = "hint"
	InlineWaiting  InlineKind = "waiting"
	InlineAnswer   InlineKind = "answer"
	InlineError    InlineKind = "error"
)

// InlineResult is a transport-agnostic inline query answer. HTML is the
// formatted message body, Description a short preview.
type InlineResult struct {
	Kind        InlineKind
	Title       string
	Description string
	HTML        string
}

const inlineInstruction = "Ответ должен быть кратким и по делу. Используй интернет для поиска актуальной информации."

// AnswerInline serves an inline query. The query only triggers a model
// call when it ends with a period or question mark.
func (d *Dispatcher) AnswerInline(ctx context.Context, userID int64, username, query string, allowed bool) InlineResult {
	text := strings.TrimSpace(query)

	if !allowed {
		return InlineResult{
			Kind:        InlineNoAccess,
			Title:       "👋 Привет! Это приватный бот Энигмена",
			Description: "Хочешь такого же? Сделай бесплатно сам, или с его помощью, по гайду.",
			HTML:        "Нажми на синюю кнопку",
		}
	}
	if text == "" {
		return InlineResult{
			Kind:        InlineHint,
			Title:       "💡 Введите вопрос",
			Description: "Закончите вопрос точкой (.) или (?)",
			HTML:        "💡 Используйте: @bot_name ваш вопрос?",
		}
	}
	if !hasTrigger(text) {
		return InlineResult{
			Kind:        InlineWaiting,
			Title:       "Поставьте в конце . или ?",
			Description: fmt.Sprintf("Закончите точкой (.) или вопросом (?) — \"%s...\"", clip(text, 30)),
			HTML:        "Поставьте в конце . или ?",
		}
	}

	out, err := d.ai.GenerateText(ctx, text, inlineInstruction)
	if err != nil {
		d.logError("INLINE", err, userID)
		return InlineResult{
			Kind:        InlineError,
			Title:       "Ошибка",
			Description: clip(err.Error(), 100),
			HTML:        fmt.Sprintf("Ошибка: %s", format.EscapeHTML(clip(err.Error(), 200))),
		}
	}

	d.record(userID, username, "inline", clip(text, 30))
	desc := out
	if len([]rune(desc)) > 200 {
		desc = clip(desc, 200) + "..."
	}
	return InlineResult{
		Kind:        InlineAnswer,
		Title:       "💬 Ответ Gemini",
		Description: desc,
		HTML:        format.Format(out),
	}
}

func hasTrigger(text string) bool {
	return len(text) > 0 && (text[len(text)-1] == '.' || text[len(text)-1] == '?')
}
