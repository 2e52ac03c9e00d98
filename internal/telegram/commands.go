package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eniggman/geminigram/internal/activity"
	"github.com/eniggman/geminigram/internal/format"
	"github.com/eniggman/geminigram/internal/session"
)

const pitchMessage = "Привет! Вы можете сделать такого же бота бесплатно " +
	"по гайду автора, или написать ему в канал."

const helpText = `🤖 <b>Справка</b>

<b>📋 Команды:</b>
/start - Сбросить контекст
/status - Статус бота
/1model - 💎 Gemini Pro
/2model - ⚡ Gemini Flash

<b>⚡ Быстрые команды:</b>
• <b>П</b> / <b>Про</b> — Gemini Pro | <b>Ф</b> — Gemini Flash
• <b>Пр</b> + текст — перевод (без текста — режим переводчика)
• <b>Ю</b> + ссылка — YouTube саммари

<b>🖼️ Изображения:</b>
/imagepro - 💎 Pro модель
/imageflash - ⚡ Flash модель
• <b>К</b> + описание — генерация картинки
• <b>Р</b> — режим редактирования, затем отправьте фото
• <b>Р</b> + инструкция + фото — сразу редактирование

<b>📷 Мультимодальность:</b>
• Фото → кнопки Анализировать | ✏️ Редактировать
• Альбом (2-10 фото) поддерживается
• После анализа — 5 мин контекста для вопросов об изображении

<b>📄 Документы:</b> PDF, TXT, CSV, JSON, HTML, Markdown

<b>⏱ Сброс и выход:</b>
<b>.</b> — полный сброс (контекст + изображение + режим)
<b>выход</b> / <b>exit</b> — выход из режима

<b>🎤 Голос:</b> голосовое → распознавание и ответ

<b>👤 Админ:</b> /add ID /del ID`

func (a *Adapter) registerCommands() {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "🔄 Сбросить контекст"},
		tgbotapi.BotCommand{Command: "help", Description: "❓ Справка"},
		tgbotapi.BotCommand{Command: "youtube", Description: "📺 YouTube Саммари"},
		tgbotapi.BotCommand{Command: "status", Description: "📊 Статус бота"},
		tgbotapi.BotCommand{Command: "1model", Description: "💎 Text Gemini Pro"},
		tgbotapi.BotCommand{Command: "2model", Description: "⚡ Text Gemini Flash"},
		tgbotapi.BotCommand{Command: "imagepro", Description: "Image💎 Pro"},
		tgbotapi.BotCommand{Command: "imageflash", Description: "Image⚡ Flash"},
	)
	if _, err := a.bot.Request(cmds); err != nil {
		slog.Warn("set commands failed", "error", err)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	allowed := a.access.Allowed(userID)

	switch msg.Command() {
	case "id":
		a.reply(ctx, chatID, msg.MessageID, fmt.Sprintf("Ваш ID: <code>%d</code>", userID))
		return
	case "start":
		if !allowed {
			a.reply(ctx, chatID, msg.MessageID, pitchMessage)
			return
		}
		a.cmdStart(ctx, msg)
		return
	}

	if !allowed {
		a.sendPlain(chatID, msg.MessageID, "⛔️ Нет доступа.")
		return
	}

	switch msg.Command() {
	case "help":
		a.reply(ctx, chatID, msg.MessageID, helpText)
	case "youtube":
		sess := a.store.Get(userID)
		sess.Mode = session.ModeYouTube
		a.reply(ctx, chatID, msg.MessageID, "📺 Отправьте ссылку на YouTube видео:")
		a.record(userID, msg.From.UserName, "youtube_cmd", "mode on")
	case "1model":
		a.setTextTier(ctx, msg, session.TierPro)
	case "2model":
		a.setTextTier(ctx, msg, session.TierFlash)
	case "imagepro":
		a.setImageTier(ctx, msg, session.TierPro)
	case "imageflash":
		a.setImageTier(ctx, msg, session.TierFlash)
	case "status":
		if !a.access.IsAdmin(userID) {
			return
		}
		a.reply(ctx, chatID, msg.MessageID, a.statusReport())
	case "add":
		a.cmdAddUser(ctx, msg)
	case "del":
		a.cmdDelUser(ctx, msg)
	default:
		a.sendPlain(chatID, msg.MessageID, "Неизвестная команда. /help — справка.")
	}
}

func (a *Adapter) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	sess := a.store.Get(msg.From.ID)
	if _, err := a.store.Reset(sess); err != nil {
		slog.Warn("reset failed", "user_id", msg.From.ID, "error", err)
	}
	icon, name := "⚡", "FLASH"
	if sess.ModelTier == session.TierPro {
		icon, name = "💎", "PRO"
	}
	a.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("🔄 Контекст сброшен!\n%s Модель: <b>%s</b>", icon, name))
	a.record(msg.From.ID, msg.From.UserName, "start", "")
}

func (a *Adapter) setTextTier(ctx context.Context, msg *tgbotapi.Message, tier session.Tier) {
	sess := a.store.Get(msg.From.ID)
	sess.ModelTier = tier
	if _, err := a.store.Reset(sess); err != nil {
		slog.Warn("reset after tier switch failed", "user_id", msg.From.ID, "error", err)
	}
	if tier == session.TierPro {
		a.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("💎 Модель: <b>Gemini Pro</b>\n<code>%s</code>", a.models.TextPro))
	} else {
		a.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("⚡ Модель: <b>Gemini Flash</b>\n<code>%s</code>", a.models.TextFlash))
	}
	a.record(msg.From.ID, msg.From.UserName, "model_switch", string(tier))
}

func (a *Adapter) setImageTier(ctx context.Context, msg *tgbotapi.Message, tier session.Tier) {
	sess := a.store.Get(msg.From.ID)
	sess.ImageModelTier = tier
	sess.Mode = session.ModeImageGen

	if tier == session.TierPro {
		a.reply(ctx, msg.Chat.ID, msg.MessageID,
			fmt.Sprintf("🎨 💎 <b>Pro</b>\n<code>%s</code>\n\n✏️ Опишите что нарисовать:", a.models.ImagePro))
	} else {
		a.reply(ctx, msg.Chat.ID, msg.MessageID,
			fmt.Sprintf("🎨 ⚡ <b>Flash</b>\n<code>%s</code>\n\n✏️ Опишите что нарисовать:", a.models.ImageFlash))
	}
	a.record(msg.From.ID, msg.From.UserName, "image_model_switch", string(tier))
}

func (a *Adapter) cmdAddUser(ctx context.Context, msg *tgbotapi.Message) {
	if !a.access.IsAdmin(msg.From.ID) {
		return
	}
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		a.sendPlain(msg.Chat.ID, msg.MessageID, "Пример: /add 123456")
		return
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		a.sendPlain(msg.Chat.ID, msg.MessageID, "❌ ID должен быть числом")
		return
	}
	if err := a.access.Add(id); err != nil {
		slog.Error("add user failed", "id", id, "error", err)
		a.sendPlain(msg.Chat.ID, msg.MessageID, "Не удалось сохранить список пользователей.")
		return
	}
	a.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("✅ ID %d добавлен.", id))
}

func (a *Adapter) cmdDelUser(ctx context.Context, msg *tgbotapi.Message) {
	if !a.access.IsAdmin(msg.From.ID) {
		return
	}
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		a.sendPlain(msg.Chat.ID, msg.MessageID, "Пример: /del 123456")
		return
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		a.sendPlain(msg.Chat.ID, msg.MessageID, "❌ ID должен быть числом")
		return
	}
	found := false
	for _, known := range a.access.IDs() {
		if known == id {
			found = true
			break
		}
	}
	if !found {
		a.sendPlain(msg.Chat.ID, msg.MessageID, "Нет в списке.")
		return
	}
	if err := a.access.Remove(id); err != nil {
		slog.Error("remove user failed", "id", id, "error", err)
		a.sendPlain(msg.Chat.ID, msg.MessageID, "Не удалось сохранить список пользователей.")
		return
	}
	a.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("🚫 ID %d удален.", id))
}

func (a *Adapter) statusReport() string {
	var entries []activity.Entry
	var errs []activity.ErrorEntry
	var errTotal int
	if a.log != nil {
		entries = a.log.Today()
		errs, errTotal = a.log.Errors()
	}
	return statusText(time.Since(a.started), a.msgCount.Load(), a.voiceCount.Load(), errTotal, entries, errs)
}

// userTally is one user's per-action counts for the status report.
type userTally struct {
	userID   int64
	username string
	counts   map[string]int
	total    int
}

// statusText builds the admin /status report: uptime, counters, the
// recent errors and a per-user tally of today's actions.
func statusText(uptime time.Duration, msgs, voices int64, errTotal int, entries []activity.Entry, errs []activity.ErrorEntry) string {
	var b strings.Builder

	hours := int(uptime.Hours())
	mins := int(uptime.Minutes()) % 60
	fmt.Fprintf(&b, "📊 <b>Статус бота</b>\n\n")
	fmt.Fprintf(&b, "⏱ Аптайм: %dч %dм\n", hours, mins)
	fmt.Fprintf(&b, "💬 Сообщений: %d\n", msgs)
	fmt.Fprintf(&b, "🎤 Голосовых: %d\n", voices)
	fmt.Fprintf(&b, "🚨 Ошибок: %d\n", errTotal)

	if len(errs) > 0 {
		b.WriteString("\n<b>Последние ошибки:</b>\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "• [%s] %s: %s\n", e.Time.Format("15:04"), e.Type, format.EscapeHTML(clipTo(e.Msg, 60)))
		}
	}

	b.WriteString("\n━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "📅 <b>Сегодня</b>\n\n")

	tallies := tallyByUser(entries)
	if len(tallies) == 0 {
		b.WriteString("Нет активности за сегодня\n")
		return b.String()
	}
	for _, t := range tallies {
		name := t.username
		if name == "" {
			name = fmt.Sprintf("ID:%d", t.userID)
		} else {
			name = "@" + name
		}
		fmt.Fprintf(&b, "👤 %s: <b>%d</b> действий\n", name, t.total)
		if n := t.counts["text"]; n > 0 {
			fmt.Fprintf(&b, "   💬 Текст: %d\n", n)
		}
		if n := t.counts["voice"]; n > 0 {
			fmt.Fprintf(&b, "   🎤 Голос: %d\n", n)
		}
		if n := t.counts["img_gen"]; n > 0 {
			fmt.Fprintf(&b, "   🖼 Генерация: %d\n", n)
		}
		if n := t.counts["img_analyze"] + t.counts["img_analyze_btn"]; n > 0 {
			fmt.Fprintf(&b, "   Анализ: %d\n", n)
		}
		if n := t.counts["img_edit"] + t.counts["img_edit_btn_done"]; n > 0 {
			fmt.Fprintf(&b, "   ✏️ Редактирование: %d\n", n)
		}
	}
	return b.String()
}

// tallyByUser aggregates journal entries per user, preserving first-seen
// order.
func tallyByUser(entries []activity.Entry) []*userTally {
	byUser := make(map[int64]*userTally)
	var order []*userTally
	for _, e := range entries {
		t, ok := byUser[e.UserID]
		if !ok {
			t = &userTally{userID: e.UserID, username: e.Username, counts: make(map[string]int)}
			byUser[e.UserID] = t
			order = append(order, t)
		}
		if t.username == "" && e.Username != "" {
			t.username = e.Username
		}
		t.counts[e.Action]++
		t.total++
	}
	return order
}

func clipTo(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (a *Adapter) reply(ctx context.Context, chatID int64, replyTo int, text string) {
	if _, err := a.SendText(ctx, chatID, replyTo, text); err != nil {
		slog.Error("send failed", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) record(userID int64, username, action, details string) {
	if a.log != nil {
		a.log.Record(userID, username, action, details)
	}
}
