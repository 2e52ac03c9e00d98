package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/youtube"
)

var errBadLink = errors.New("unrecognized youtube link")

// summarizeVideo fetches captions for the linked video, trims them to
// the token budget and asks for a structured summary.
func (d *Dispatcher) summarizeVideo(ctx context.Context, url string) (string, error) {
	videoID := youtube.ExtractVideoID(url)
	if videoID == "" {
		return "", errBadLink
	}
	transcript, err := d.tube.Fetch(ctx, videoID, d.langs)
	if err != nil {
		return "", err
	}
	return d.ai.Summarize(ctx, d.truncate(transcript.Text))
}

// youtubeSummary serves one summary request and reports failures with
// the caption-specific reason where one is known.
func (d *Dispatcher) youtubeSummary(ctx context.Context, msg *Message, url string) {
	d.resp.ChatAction(ctx, msg.ChatID, ActivityTyping)
	thinking, _ := d.resp.SendText(ctx, msg.ChatID, msg.MessageID, "⏳ Загружаю субтитры и создаю саммари...")

	summary, err := d.summarizeVideo(ctx, url)
	d.deleteThinking(ctx, msg.ChatID, thinking)
	if err != nil {
		reason := d.summaryFailure(err)
		d.reply(ctx, msg, fmt.Sprintf("❌ %s", reason))
		d.record(msg.UserID, msg.Username, "youtube_error", reason)
		return
	}

	d.respond(ctx, msg, summary)
	d.record(msg.UserID, msg.Username, "youtube_summary", url)
}

func (d *Dispatcher) summaryFailure(err error) string {
	if errors.Is(err, errBadLink) {
		return "🔗 Не удалось распознать ссылку YouTube"
	}
	if fe, ok := youtube.AsFetchError(err); ok {
		return fe.UserMessage()
	}
	return gemini.UserMessage(err, "YOUTUBE")
}
