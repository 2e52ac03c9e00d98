package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eniggman/geminigram/internal/session"
	"github.com/eniggman/geminigram/internal/youtube"
)

type sent struct {
	chatID  int64
	replyTo int
	text    string
}

type fakeResponder struct {
	texts     []sent
	responses []sent
	photos    int
	buttons   []sent
	edits     []sent
	deleted   []int
	admin     []string
	nextID    int
}

func (r *fakeResponder) SendResponse(_ context.Context, chatID int64, replyTo int, text string) error {
	r.responses = append(r.responses, sent{chatID, replyTo, text})
	return nil
}

func (r *fakeResponder) SendText(_ context.Context, chatID int64, replyTo int, text string) (int, error) {
	r.nextID++
	r.texts = append(r.texts, sent{chatID, replyTo, text})
	return r.nextID, nil
}

func (r *fakeResponder) SendPhoto(_ context.Context, chatID int64, replyTo int, _ []byte) error {
	r.photos++
	return nil
}

func (r *fakeResponder) SendButtons(_ context.Context, chatID int64, replyTo int, text string, _ []Button) (int, error) {
	r.nextID++
	r.buttons = append(r.buttons, sent{chatID, replyTo, text})
	return r.nextID, nil
}

func (r *fakeResponder) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	r.edits = append(r.edits, sent{chatID, messageID, text})
	return nil
}

func (r *fakeResponder) Delete(_ context.Context, _ int64, messageID int) {
	r.deleted = append(r.deleted, messageID)
}

func (r *fakeResponder) ChatAction(_ context.Context, _ int64, _ string) {}

func (r *fakeResponder) NotifyAdmin(_ context.Context, text string) {
	r.admin = append(r.admin, text)
}

func (r *fakeResponder) lastText(t *testing.T) string {
	t.Helper()
	if len(r.texts) == 0 {
		t.Fatal("no service messages sent")
	}
	return r.texts[len(r.texts)-1].text
}

type aiCall struct {
	op     string
	prompt string
	blobs  int
	mime   string
	tier   session.Tier
}

type fakeAI struct {
	calls []aiCall

	analyzeOut   string
	analyzeErr   error
	imageOut     []byte
	imageErr     error
	editOut      []byte
	editErr      error
	transcribed  string
	translateOut string
	summaryOut   string
	textOut      string
	textErr      error
}

func (a *fakeAI) Analyze(_ context.Context, tier session.Tier, prompt string, blobs [][]byte, mime string, _ time.Duration) (string, error) {
	a.calls = append(a.calls, aiCall{"analyze", prompt, len(blobs), mime, tier})
	return a.analyzeOut, a.analyzeErr
}

func (a *fakeAI) GenerateImage(_ context.Context, tier session.Tier, prompt string) ([]byte, error) {
	a.calls = append(a.calls, aiCall{op: "generate_image", prompt: prompt, tier: tier})
	return a.imageOut, a.imageErr
}

func (a *fakeAI) EditImage(_ context.Context, tier session.Tier, images [][]byte, prompt string) ([]byte, error) {
	a.calls = append(a.calls, aiCall{op: "edit_image", prompt: prompt, blobs: len(images), tier: tier})
	return a.editOut, a.editErr
}

func (a *fakeAI) Transcribe(_ context.Context, _ []byte) (string, error) {
	a.calls = append(a.calls, aiCall{op: "transcribe"})
	return a.transcribed, nil
}

func (a *fakeAI) Translate(_ context.Context, text string) (string, error) {
	a.calls = append(a.calls, aiCall{op: "translate", prompt: text})
	return a.translateOut, nil
}

func (a *fakeAI) Summarize(_ context.Context, transcript string) (string, error) {
	a.calls = append(a.calls, aiCall{op: "summarize", prompt: transcript})
	return a.summaryOut, nil
}

func (a *fakeAI) GenerateText(_ context.Context, prompt, _ string) (string, error) {
	a.calls = append(a.calls, aiCall{op: "generate_text", prompt: prompt})
	return a.textOut, a.textErr
}

func (a *fakeAI) ImageModelName(tier session.Tier) string {
	if tier == session.TierPro {
		return "image-pro-model"
	}
	return "image-flash-model"
}

func (a *fakeAI) lastCall(t *testing.T) aiCall {
	t.Helper()
	if len(a.calls) == 0 {
		t.Fatal("no AI calls made")
	}
	return a.calls[len(a.calls)-1]
}

type fakeChat struct {
	sends []string
	reply string
	err   error
}

func (c *fakeChat) Send(_ context.Context, text string) (string, error) {
	c.sends = append(c.sends, text)
	return c.reply, c.err
}

type fakeTube struct {
	transcript *youtube.Transcript
	err        error
}

func (f *fakeTube) Fetch(_ context.Context, _ string, _ []string) (*youtube.Transcript, error) {
	return f.transcript, f.err
}

type fixture struct {
	d    *Dispatcher
	ai   *fakeAI
	resp *fakeResponder
	chat *fakeChat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chat := &fakeChat{reply: "chat reply"}
	ai := &fakeAI{
		analyzeOut:   "analysis",
		imageOut:     []byte{1},
		editOut:      []byte{2},
		transcribed:  "recognized",
		translateOut: "перевод",
		summaryOut:   "summary",
		textOut:      "inline answer",
	}
	resp := &fakeResponder{}
	store := session.NewStore(func(session.Tier) (session.Chat, error) {
		return chat, nil
	})
	d := New(Config{
		Store: store,
		AI:    ai,
		Send: func(ctx context.Context, c session.Chat, text string) (string, error) {
			return c.Send(ctx, text)
		},
		Transcripts: &fakeTube{transcript: &youtube.Transcript{Text: "captions", Language: "en"}},
		Responder:   resp,
		AdminID:     99,
	})
	return &fixture{d: d, ai: ai, resp: resp, chat: chat}
}

func msg(text string) *Message {
	return &Message{UserID: 1, Username: "u", ChatID: 10, MessageID: 100, Text: text, Private: true}
}

func TestExitKeyword_NoMode_FallsThroughToChat(t *testing.T) {
	f := newFixture(t)
	act := f.d.HandleText(context.Background(), msg("выход"))
	if act != ActionChat {
		t.Fatalf("expected chat action, got %v", act)
	}
	sess := f.d.store.Get(1)
	if sess.Mode != session.ModeNone {
		t.Errorf("mode should stay unset, got %v", sess.Mode)
	}
	if len(f.chat.sends) != 1 || f.chat.sends[0] != "выход" {
		t.Errorf("expected the keyword to go to chat, got %v", f.chat.sends)
	}
}

func TestExitKeyword_ClearsMode(t *testing.T) {
	f := newFixture(t)
	f.d.store.Get(1).Mode = session.ModeTranslate

	act := f.d.HandleText(context.Background(), msg("exit"))
	if act != ActionModeExit {
		t.Fatalf("expected mode exit, got %v", act)
	}
	if f.d.store.Get(1).Mode != session.ModeNone {
		t.Error("mode not cleared")
	}
	if got := f.resp.lastText(t); got != "✅ Режим переводчика выключен." {
		t.Errorf("wrong ack: %q", got)
	}
}

func TestTranslateShorthand_WithArgument_IsOneShot(t *testing.T) {
	f := newFixture(t)
	act := f.d.HandleText(context.Background(), msg("пр hello world"))
	if act != ActionTranslate {
		t.Fatalf("expected translate action, got %v", act)
	}
	call := f.ai.lastCall(t)
	if call.op != "translate" || call.prompt != "hello world" {
		t.Errorf("wrong translate call: %+v", call)
	}
	if f.d.store.Get(1).Mode != session.ModeNone {
		t.Error("one-shot translate must not set a mode")
	}
}

func TestTranslateShorthand_Bare_SetsPersistentMode(t *testing.T) {
	f := newFixture(t)
	if act := f.d.HandleText(context.Background(), msg("пр")); act != ActionModeSet {
		t.Fatalf("expected mode set, got %v", act)
	}
	sess := f.d.store.Get(1)
	if sess.Mode != session.ModeTranslate {
		t.Fatalf("expected translate mode, got %v", sess.Mode)
	}

	// The next non-exit message is translated and the mode survives.
	if act := f.d.HandleText(context.Background(), msg("some text")); act != ActionTranslate {
		t.Fatalf("expected translate action, got %v", act)
	}
	if sess.Mode != session.ModeTranslate {
		t.Error("translate mode must persist across messages")
	}
}

func TestYouTubeMode_IsOneShot(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.Mode = session.ModeYouTube

	act := f.d.HandleText(context.Background(), msg("https://youtu.be/abc123xyz_-"))
	if act != ActionYouTube {
		t.Fatalf("expected youtube action, got %v", act)
	}
	if sess.Mode != session.ModeNone {
		t.Error("youtube mode must clear after one message")
	}
	call := f.ai.lastCall(t)
	if call.op != "summarize" || call.prompt != "captions" {
		t.Errorf("wrong summary call: %+v", call)
	}
	if len(f.resp.responses) != 1 || f.resp.responses[0].text != "summary" {
		t.Errorf("summary not delivered: %+v", f.resp.responses)
	}
}

func TestImageGenMode_IsOneShot(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.Mode = session.ModeImageGen

	act := f.d.HandleText(context.Background(), msg("a red fox"))
	if act != ActionImageGen {
		t.Fatalf("expected image gen, got %v", act)
	}
	if sess.Mode != session.ModeNone {
		t.Error("image_gen mode must clear after one message")
	}
	call := f.ai.lastCall(t)
	if call.op != "generate_image" || call.prompt != "a red fox" {
		t.Errorf("wrong generation call: %+v", call)
	}
	if f.resp.photos != 1 {
		t.Errorf("expected one photo sent, got %d", f.resp.photos)
	}
}

func TestEditPrompt_NoTask_ReportsDataLost(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.Mode = session.ModeAwaitingEditPrompt

	act := f.d.HandleText(context.Background(), msg("make it blue"))
	if act != ActionDataLost {
		t.Fatalf("expected data lost, got %v", act)
	}
	if sess.Mode != session.ModeNone {
		t.Error("mode not cleared")
	}
	if got := f.resp.lastText(t); !strings.Contains(got, "Данные фото потеряны") {
		t.Errorf("wrong notice: %q", got)
	}
}

func TestEditPrompt_ConsumesTaskAndMode(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.SetPhotoTask([][]byte{{1}, {2}}, 55)

	act := f.d.HandleText(context.Background(), msg("swap the colors"))
	if act != ActionEditApplied {
		t.Fatalf("expected edit applied, got %v", act)
	}
	call := f.ai.lastCall(t)
	if call.op != "edit_image" || call.blobs != 2 || call.prompt != "swap the colors" {
		t.Errorf("wrong edit call: %+v", call)
	}
	if sess.Mode != session.ModeNone || sess.PhotoTask != nil {
		t.Error("mode and photo task must be consumed")
	}
	if f.resp.photos != 1 {
		t.Errorf("expected edited photo sent, got %d", f.resp.photos)
	}
}

func TestEditPrompt_FailureStillConsumesState(t *testing.T) {
	f := newFixture(t)
	f.ai.editErr = errors.New("500 internal")
	sess := f.d.store.Get(1)
	sess.SetPhotoTask([][]byte{{1}}, 55)

	act := f.d.HandleText(context.Background(), msg("prompt"))
	if act != ActionEditApplied {
		t.Fatalf("expected edit branch, got %v", act)
	}
	if sess.Mode != session.ModeNone || sess.PhotoTask != nil {
		t.Error("aborted edit must still clear mode and task")
	}
}

func TestDotReset_ReportsCancelledMode(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.Mode = session.ModeImageGen

	act := f.d.HandleText(context.Background(), msg("."))
	if act != ActionReset {
		t.Fatalf("expected reset, got %v", act)
	}
	if got := f.resp.lastText(t); got != "🔄 Режим генерации отменён." {
		t.Errorf("wrong reset notice: %q", got)
	}
	if sess.Mode != session.ModeNone {
		t.Error("mode not cleared by reset")
	}
}

func TestTierShorthand_ResetsConversation(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)

	if act := f.d.HandleText(context.Background(), msg("про")); act != ActionTierSet {
		t.Fatalf("expected tier set, got %v", act)
	}
	if sess.ModelTier != session.TierPro {
		t.Errorf("tier not switched: %v", sess.ModelTier)
	}
	if got := f.resp.lastText(t); got != "<i>Pro</i> 💎" {
		t.Errorf("wrong ack: %q", got)
	}
}

func TestDefaultChat_UsesConversationWithRetrySender(t *testing.T) {
	f := newFixture(t)
	act := f.d.HandleText(context.Background(), msg("hello"))
	if act != ActionChat {
		t.Fatalf("expected chat, got %v", act)
	}
	if len(f.chat.sends) != 1 || f.chat.sends[0] != "hello" {
		t.Errorf("conversation not used: %v", f.chat.sends)
	}
	if len(f.resp.responses) != 1 || f.resp.responses[0].text != "chat reply" {
		t.Errorf("reply not delivered: %+v", f.resp.responses)
	}
}

func TestDefaultChat_ActiveImageGoesOneShot(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.SetActiveImage([]byte{9})

	act := f.d.HandleText(context.Background(), msg("what is this"))
	if act != ActionChatImage {
		t.Fatalf("expected multimodal chat, got %v", act)
	}
	call := f.ai.lastCall(t)
	if call.op != "analyze" || call.blobs != 1 || call.prompt != "what is this" {
		t.Errorf("wrong analyze call: %+v", call)
	}
	if len(f.chat.sends) != 0 {
		t.Error("conversation handle must not be used with an active image")
	}
}

func TestDefaultChat_ExpiredActiveImageFallsBack(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.SetActiveImage([]byte{9})
	sess.Active.CreatedAt = time.Now().Add(-session.ActiveImageTimeout - time.Second)

	act := f.d.HandleText(context.Background(), msg("hello"))
	if act != ActionChat {
		t.Fatalf("expected plain chat, got %v", act)
	}
	if sess.Active != nil {
		t.Error("expired active image must be dropped")
	}
}

func TestChatError_MirroredToAdmin(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("429 rate limit")

	f.d.HandleText(context.Background(), msg("hello"))
	if len(f.resp.admin) != 1 {
		t.Fatalf("expected admin notice, got %d", len(f.resp.admin))
	}
	if !strings.Contains(f.resp.admin[0], "User: 1") {
		t.Errorf("admin notice missing user id: %q", f.resp.admin[0])
	}
}

func TestChatError_AdminNotMirroredToSelf(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("boom")
	m := msg("hello")
	m.UserID = 99 // the admin

	f.d.HandleText(context.Background(), m)
	if len(f.resp.admin) != 0 {
		t.Errorf("admin errors must not be mirrored back: %v", f.resp.admin)
	}
}

func TestReplyToPhoto_AnalyzesWithDefaultPrompt(t *testing.T) {
	f := newFixture(t)
	m := msg("")
	m.ReplyPhoto = func(context.Context) ([]byte, error) { return []byte{7}, nil }

	act := f.d.HandleText(context.Background(), m)
	if act != ActionReplyAnalysis {
		t.Fatalf("expected reply analysis, got %v", act)
	}
	call := f.ai.lastCall(t)
	if call.op != "analyze" || call.prompt != defaultDescribePrompt {
		t.Errorf("wrong analyze call: %+v", call)
	}
	if f.d.store.Get(1).Mode != session.ModeNone {
		t.Error("reply analysis must not set a mode")
	}
}

func TestImageTierShorthand_SetsTierAndMode(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)

	if act := f.d.HandleText(context.Background(), msg("к флеш")); act != ActionModeSet {
		t.Fatalf("expected mode set, got %v", act)
	}
	if sess.ImageModelTier != session.TierFlash || sess.Mode != session.ModeImageGen {
		t.Errorf("wrong state: tier=%v mode=%v", sess.ImageModelTier, sess.Mode)
	}
	if got := f.resp.lastText(t); !strings.Contains(got, "image-flash-model") {
		t.Errorf("ack should name the model: %q", got)
	}
}

func TestImageShorthand_WithPromptGeneratesDirectly(t *testing.T) {
	f := newFixture(t)
	act := f.d.HandleText(context.Background(), msg("к рыжий кот"))
	if act != ActionImageGen {
		t.Fatalf("expected image gen, got %v", act)
	}
	call := f.ai.lastCall(t)
	if call.op != "generate_image" || call.prompt != "рыжий кот" {
		t.Errorf("wrong call: %+v", call)
	}
	if f.d.store.Get(1).Mode != session.ModeNone {
		t.Error("direct generation must not set a mode")
	}
}

func TestBadYouTubeLink_Reported(t *testing.T) {
	f := newFixture(t)
	sess := f.d.store.Get(1)
	sess.Mode = session.ModeYouTube

	f.d.HandleText(context.Background(), msg("not a link"))
	if got := f.resp.lastText(t); !strings.Contains(got, "Не удалось распознать ссылку") {
		t.Errorf("wrong failure notice: %q", got)
	}
}

func TestVoice_RoutedThroughConversation(t *testing.T) {
	f := newFixture(t)
	act := f.d.HandleVoice(context.Background(), &VoiceMessage{
		UserID: 1, Username: "u", ChatID: 10, MessageID: 100, Data: []byte{1},
	})
	if act != ActionVoice {
		t.Fatalf("expected voice action, got %v", act)
	}
	if len(f.chat.sends) != 1 || f.chat.sends[0] != "recognized" {
		t.Errorf("recognized text not sent to conversation: %v", f.chat.sends)
	}
	if len(f.resp.responses) != 1 || !strings.Contains(f.resp.responses[0].text, "*Распознано:* recognized") {
		t.Errorf("final reply missing transcript: %+v", f.resp.responses)
	}
}

func TestVoice_EmptyTranscript(t *testing.T) {
	f := newFixture(t)
	f.ai.transcribed = "  "

	f.d.HandleVoice(context.Background(), &VoiceMessage{UserID: 1, ChatID: 10, MessageID: 100, Data: []byte{1}})
	if got := f.resp.lastText(t); got != "Не удалось распознать речь" {
		t.Errorf("wrong notice: %q", got)
	}
	if len(f.chat.sends) != 0 {
		t.Error("empty transcript must not reach the conversation")
	}
}

func TestDocument_UnsupportedMime(t *testing.T) {
	f := newFixture(t)
	act := f.d.HandleDocument(context.Background(), &DocumentMessage{
		UserID: 1, ChatID: 10, MessageID: 100,
		MimeType: "application/zip", Data: []byte{1},
	})
	if act != ActionRejected {
		t.Fatalf("expected rejection, got %v", act)
	}
	if got := f.resp.lastText(t); !strings.Contains(got, "не поддерживается") {
		t.Errorf("wrong notice: %q", got)
	}
	if len(f.ai.calls) != 0 {
		t.Error("unsupported document must not reach the model")
	}
}

func TestDocument_HTMLConvertedToMarkdown(t *testing.T) {
	f := newFixture(t)
	f.d.HandleDocument(context.Background(), &DocumentMessage{
		UserID: 1, ChatID: 10, MessageID: 100, FileName: "page.html",
		MimeType: "text/html", Data: []byte("<h1>Title</h1>"),
	})
	call := f.ai.lastCall(t)
	if call.mime != "text/markdown" {
		t.Errorf("expected converted markdown, got mime %q", call.mime)
	}
}

func TestDocument_CaptionIsThePrompt(t *testing.T) {
	f := newFixture(t)
	f.d.HandleDocument(context.Background(), &DocumentMessage{
		UserID: 1, ChatID: 10, MessageID: 100, FileName: "report.pdf",
		MimeType: "application/pdf", Caption: "Какой вывод?", Data: []byte{1},
	})
	call := f.ai.lastCall(t)
	if call.prompt != "Какой вывод?" {
		t.Errorf("caption should be the prompt, got %q", call.prompt)
	}
}

func TestAnswerInline(t *testing.T) {
	f := newFixture(t)

	if res := f.d.AnswerInline(context.Background(), 1, "u", "question?", false); res.Kind != InlineNoAccess {
		t.Errorf("unauthorized query: got %v", res.Kind)
	}
	if res := f.d.AnswerInline(context.Background(), 1, "u", "", true); res.Kind != InlineHint {
		t.Errorf("empty query: got %v", res.Kind)
	}
	if res := f.d.AnswerInline(context.Background(), 1, "u", "no trigger", true); res.Kind != InlineWaiting {
		t.Errorf("untriggered query: got %v", res.Kind)
	}

	res := f.d.AnswerInline(context.Background(), 1, "u", "what is go?", true)
	if res.Kind != InlineAnswer {
		t.Fatalf("expected answer, got %v", res.Kind)
	}
	if !strings.Contains(res.HTML, "inline answer") {
		t.Errorf("answer body missing: %q", res.HTML)
	}
	call := f.ai.lastCall(t)
	if call.op != "generate_text" || call.prompt != "what is go?" {
		t.Errorf("wrong inline call: %+v", call)
	}
}
