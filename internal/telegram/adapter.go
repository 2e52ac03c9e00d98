// Package telegram bridges the Bot API to the dispatcher: long polling,
// access gating, media downloads, album routing and the outbound
// formatting rules.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eniggman/geminigram/internal/access"
	"github.com/eniggman/geminigram/internal/activity"
	"github.com/eniggman/geminigram/internal/album"
	"github.com/eniggman/geminigram/internal/dispatch"
	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/queue"
	"github.com/eniggman/geminigram/internal/session"
)

// Deps are the collaborators an Adapter routes between. The dispatcher
// is attached afterwards with SetDispatcher because it needs the
// adapter as its responder.
type Deps struct {
	Store    *session.Store
	Access   *access.List
	Queue    *queue.Queue
	Activity *activity.Log
	Models   gemini.Models
}

// Adapter owns the Bot API connection and the update loop.
type Adapter struct {
	bot        *tgbotapi.BotAPI
	dispatcher *dispatch.Dispatcher
	store      *session.Store
	access     *access.List
	queue      *queue.Queue
	albums     *album.Coalescer
	log        *activity.Log
	models     gemini.Models
	files      *http.Client

	started    time.Time
	msgCount   atomic.Int64
	voiceCount atomic.Int64
}

// New connects to the Bot API and wires the album coalescer to the
// photo dispatch path.
func New(token string, deps Deps) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	a := &Adapter{
		bot:        bot,
		store:      deps.Store,
		access:     deps.Access,
		queue:      deps.Queue,
		log:        deps.Activity,
		models:     deps.Models,
		files:      &http.Client{Timeout: 60 * time.Second},
		started:    time.Now(),
	}
	a.albums = album.New(a.flushAlbum)
	return a, nil
}

// SetDispatcher attaches the router. Must be called before Run.
func (a *Adapter) SetDispatcher(d *dispatch.Dispatcher) {
	a.dispatcher = d
}

// Run registers the command menu and long-polls until the context is
// cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	if a.dispatcher == nil {
		return fmt.Errorf("dispatcher not attached")
	}
	a.registerCommands()
	slog.Info("telegram adapter started", "bot", a.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, update)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.InlineQuery != nil:
		a.handleInline(ctx, update.InlineQuery)
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		a.handleMessage(ctx, update.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	private := msg.Chat.IsPrivate()

	// In groups the bot only reacts when addressed.
	text, ok := addressed(msg, a.bot.Self.UserName)
	if !ok {
		return
	}

	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	if !a.access.Allowed(userID) {
		if private {
			a.sendPlain(msg.Chat.ID, msg.MessageID, "⛔️ Нет доступа.")
		}
		return
	}

	switch {
	case msg.Voice != nil:
		a.enqueueVoice(ctx, msg)
	case len(msg.Photo) > 0:
		a.enqueuePhoto(ctx, msg)
	case msg.Document != nil:
		a.enqueueDocument(ctx, msg)
	case text != "":
		a.enqueueText(ctx, msg, text, private)
	}
}

// addressed decides whether a message is meant for the bot and returns
// the text with the mention stripped. Private chats always qualify;
// group messages must mention the bot or reply to one of its messages.
func addressed(msg *tgbotapi.Message, botUser string) (string, bool) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if msg.Chat.IsPrivate() {
		return text, true
	}

	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.UserName == botUser {
		return text, true
	}

	mention := "@" + botUser
	if strings.Contains(text, mention) {
		return strings.TrimSpace(strings.ReplaceAll(text, mention, "")), true
	}
	return "", false
}

func (a *Adapter) enqueueText(ctx context.Context, msg *tgbotapi.Message, text string, private bool) {
	a.msgCount.Add(1)
	m := &dispatch.Message{
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      text,
		Private:   private,
	}
	if r := msg.ReplyToMessage; r != nil && len(r.Photo) > 0 {
		fileID := largestPhoto(r.Photo)
		m.ReplyPhoto = func(ctx context.Context) ([]byte, error) {
			return a.download(ctx, fileID)
		}
	}
	a.enqueue(msg.From.ID, msg.Chat.ID, msg.MessageID, func(ctx context.Context) {
		a.dispatcher.HandleText(ctx, m)
	})
}

func (a *Adapter) enqueuePhoto(ctx context.Context, msg *tgbotapi.Message) {
	fileID := largestPhoto(msg.Photo)

	if msg.MediaGroupID != "" {
		// Album fragments are buffered before dispatch; the download has
		// to happen now so the flush sees complete data.
		data, err := a.download(ctx, fileID)
		if err != nil {
			slog.Error("album photo download failed", "user_id", msg.From.ID, "error", err)
			return
		}
		a.albums.OnFragment(msg.MediaGroupID, album.Fragment{
			Photo:     data,
			Caption:   msg.Caption,
			UserID:    msg.From.ID,
			Username:  msg.From.UserName,
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
		})
		return
	}

	userID, username := msg.From.ID, msg.From.UserName
	chatID, messageID, caption := msg.Chat.ID, msg.MessageID, msg.Caption
	a.enqueue(userID, chatID, messageID, func(ctx context.Context) {
		data, err := a.download(ctx, fileID)
		if err != nil {
			slog.Error("photo download failed", "user_id", userID, "error", err)
			a.sendPlain(chatID, messageID, "Не удалось загрузить фото. Попробуйте снова.")
			return
		}
		a.dispatcher.HandlePhoto(ctx, &dispatch.PhotoMessage{
			UserID:    userID,
			Username:  username,
			ChatID:    chatID,
			MessageID: messageID,
			Photos:    [][]byte{data},
			Caption:   caption,
		})
	})
}

// flushAlbum runs on the coalescer's timer goroutine and re-enters the
// per-user lane so album handling never interleaves with other updates
// of the same user.
func (a *Adapter) flushAlbum(al *album.Album) {
	err := a.queue.Enqueue(queue.Job{
		UserID: al.UserID,
		Run: func(ctx context.Context) {
			a.dispatcher.HandlePhoto(ctx, &dispatch.PhotoMessage{
				UserID:    al.UserID,
				Username:  al.Username,
				ChatID:    al.ChatID,
				MessageID: al.MessageID,
				Photos:    al.Photos,
				Caption:   al.Caption,
			})
		},
	})
	if err != nil {
		slog.Error("album flush enqueue failed", "user_id", al.UserID, "error", err)
	}
}

func (a *Adapter) enqueueVoice(ctx context.Context, msg *tgbotapi.Message) {
	a.voiceCount.Add(1)
	fileID := msg.Voice.FileID
	userID, username := msg.From.ID, msg.From.UserName
	chatID, messageID := msg.Chat.ID, msg.MessageID
	private := msg.Chat.IsPrivate()
	a.enqueue(userID, chatID, messageID, func(ctx context.Context) {
		data, err := a.download(ctx, fileID)
		if err != nil {
			slog.Error("voice download failed", "user_id", userID, "error", err)
			a.sendPlain(chatID, messageID, "Не удалось загрузить голосовое сообщение.")
			return
		}
		a.dispatcher.HandleVoice(ctx, &dispatch.VoiceMessage{
			UserID:    userID,
			Username:  username,
			ChatID:    chatID,
			MessageID: messageID,
			Private:   private,
			Data:      data,
		})
	})
}

func (a *Adapter) enqueueDocument(ctx context.Context, msg *tgbotapi.Message) {
	doc := msg.Document
	userID, username := msg.From.ID, msg.From.UserName
	chatID, messageID := msg.Chat.ID, msg.MessageID
	fileName, mimeType, caption := doc.FileName, doc.MimeType, msg.Caption
	fileID := doc.FileID
	a.enqueue(userID, chatID, messageID, func(ctx context.Context) {
		data, err := a.download(ctx, fileID)
		if err != nil {
			slog.Error("document download failed", "user_id", userID, "error", err)
			a.sendPlain(chatID, messageID, "Не удалось загрузить документ.")
			return
		}
		a.dispatcher.HandleDocument(ctx, &dispatch.DocumentMessage{
			UserID:    userID,
			Username:  username,
			ChatID:    chatID,
			MessageID: messageID,
			FileName:  fileName,
			MimeType:  mimeType,
			Caption:   caption,
			Data:      data,
		})
	})
}

func (a *Adapter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Acknowledge immediately so the button stops spinning.
	if _, err := a.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.Warn("callback ack failed", "error", err)
	}
	if cb.From == nil || cb.Message == nil {
		return
	}
	if !a.access.Allowed(cb.From.ID) {
		return
	}
	c := &dispatch.Callback{
		UserID:    cb.From.ID,
		Username:  cb.From.UserName,
		ChatID:    cb.Message.Chat.ID,
		MessageID: cb.Message.MessageID,
		Data:      cb.Data,
	}
	a.enqueue(c.UserID, c.ChatID, c.MessageID, func(ctx context.Context) {
		a.dispatcher.HandleCallback(ctx, c)
	})
}

// enqueue hands a job to the user's lane; a full lane is reported to
// the user instead of silently dropping the update.
func (a *Adapter) enqueue(userID, chatID int64, messageID int, run func(ctx context.Context)) {
	err := a.queue.Enqueue(queue.Job{UserID: userID, Run: run})
	if err != nil {
		slog.Warn("enqueue failed", "user_id", userID, "error", err)
		a.sendPlain(chatID, messageID, "⏳ Слишком много запросов, подождите завершения предыдущих.")
	}
}

// largestPhoto picks the biggest rendition Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	return sizes[len(sizes)-1].FileID
}

func (a *Adapter) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.files.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
