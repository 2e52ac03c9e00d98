package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/htmldoc"
	"github.com/eniggman/geminigram/internal/session"
)

// VoiceMessage is a downloaded voice note.
type VoiceMessage struct {
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
	Private   bool
	Data      []byte
}

// DocumentMessage is a downloaded document with its metadata.
type DocumentMessage struct {
	UserID    int64
	Username  string
	ChatID    int64
	MessageID int
	FileName  string
	MimeType  string
	Caption   string
	Data      []byte
}

// HandleVoice transcribes a voice note and routes the recognized text
// through the persistent conversation.
func (d *Dispatcher) HandleVoice(ctx context.Context, v *VoiceMessage) Action {
	sess := d.store.Get(v.UserID)
	thinking, _ := d.resp.SendText(ctx, v.ChatID, 0, "🎤 Слушаю...")

	recognized, err := d.ai.Transcribe(ctx, v.Data)
	if err == nil && strings.TrimSpace(recognized) == "" {
		d.deleteThinking(ctx, v.ChatID, thinking)
		d.resp.SendText(ctx, v.ChatID, v.MessageID, "Не удалось распознать речь")
		d.record(v.UserID, v.Username, "voice_failed", "")
		return ActionVoice
	}

	var out string
	if err == nil {
		var chat session.Chat
		chat, err = d.store.Conversation(sess)
		if err == nil {
			out, err = d.send(ctx, chat, recognized)
		}
	}

	d.deleteThinking(ctx, v.ChatID, thinking)

	if err != nil {
		d.logError("VOICE", err, v.UserID)
		d.resp.SendText(ctx, v.ChatID, v.MessageID, gemini.UserMessage(err, "VOICE"))
		if v.UserID != d.adminID {
			d.resp.NotifyAdmin(ctx, fmt.Sprintf("🚨 Voice Error\nUser: %d\n<code>%s</code>", v.UserID, clip(err.Error(), 200)))
		}
		return ActionVoice
	}

	final := fmt.Sprintf("🎤 *Распознано:* %s\n\n%s", recognized, out)
	if err := d.resp.SendResponse(ctx, v.ChatID, v.MessageID, final); err != nil {
		d.logError("VOICE", err, v.UserID)
		return ActionVoice
	}
	d.record(v.UserID, v.Username, "voice", clip(recognized, 30))
	return ActionVoice
}

var supportedDocMimes = map[string]bool{
	"application/pdf":  true,
	"text/plain":       true,
	"text/csv":         true,
	"text/html":        true,
	"text/markdown":    true,
	"application/json": true,
}

func docSupported(mimeType string) bool {
	return supportedDocMimes[mimeType] || strings.HasPrefix(mimeType, "text/")
}

const defaultDocPrompt = "Суммаризируй содержимое этого документа. Выдели ключевые моменты."

// HandleDocument analyzes a document on the session's text tier. The
// caption is the question; without one the document is summarized.
func (d *Dispatcher) HandleDocument(ctx context.Context, doc *DocumentMessage) Action {
	sess := d.store.Get(doc.UserID)

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if !docSupported(mimeType) {
		d.resp.SendText(ctx, doc.ChatID, doc.MessageID,
			fmt.Sprintf("Формат <code>%s</code> не поддерживается.\nПоддерживаемые: PDF, TXT, CSV, JSON, HTML, Markdown", mimeType))
		return ActionRejected
	}

	prompt := doc.Caption
	if prompt == "" {
		prompt = defaultDocPrompt
	}

	thinking, _ := d.resp.SendText(ctx, doc.ChatID, doc.MessageID,
		fmt.Sprintf("%s Анализирую документ...", tierIcon(sess.ModelTier)))

	data := doc.Data
	if htmldoc.IsHTML(mimeType) {
		if md, err := htmldoc.ToMarkdown(data); err == nil {
			data = md
			mimeType = "text/markdown"
		}
	}

	out, err := d.ai.Analyze(ctx, sess.ModelTier, prompt, [][]byte{data}, mimeType, gemini.TimeoutDoc)
	d.deleteThinking(ctx, doc.ChatID, thinking)
	if err != nil {
		d.logError("DOC_ANALYZE", err, doc.UserID)
		d.resp.SendText(ctx, doc.ChatID, doc.MessageID, gemini.UserMessage(err, "DOC_ANALYZE"))
		return ActionDocument
	}

	if err := d.resp.SendResponse(ctx, doc.ChatID, doc.MessageID, out); err != nil {
		d.logError("DOC_ANALYZE", err, doc.UserID)
		return ActionDocument
	}
	d.record(doc.UserID, doc.Username, "doc_analyze", clip(doc.FileName, 20))
	return ActionDocument
}
