// Package youtube extracts video ids from share links and fetches
// subtitle transcripts through the public timedtext endpoint.
package youtube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?v=([\w-]+)`),
	regexp.MustCompile(`youtu\.be/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/embed/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([\w-]+)`),
}

// ExtractVideoID pulls the video id out of any of the common YouTube
// link shapes. Returns "" when the text is not a recognizable link.
func ExtractVideoID(url string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// FailReason is the typed outcome of a failed transcript fetch. These
// are expected user-facing states, not internal errors.
type FailReason string

const (
	ReasonDisabled         FailReason = "disabled"
	ReasonNotAvailable     FailReason = "not_available"
	ReasonVideoUnavailable FailReason = "video_unavailable"
	ReasonAgeRestricted    FailReason = "age_restricted"
	ReasonNetwork          FailReason = "network"
	ReasonUnknown          FailReason = "script_error"
)

// FetchError carries the typed reason alongside the underlying cause.
type FetchError struct {
	Reason FailReason
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcript fetch (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcript fetch (%s)", e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UserMessage renders the reason as the reply shown to the user.
func (e *FetchError) UserMessage() string {
	switch e.Reason {
	case ReasonDisabled:
		return "🚫 Субтитры отключены автором видео"
	case ReasonNotAvailable:
		return "📭 Субтитры недоступны для этого видео"
	case ReasonVideoUnavailable:
		return "🔒 Видео недоступно (удалено или приватное)"
	case ReasonAgeRestricted:
		return "🔞 Видео с возрастным ограничением"
	case ReasonNetwork:
		msg := ""
		if e.Err != nil {
			msg = clipRunes(e.Err.Error(), 80)
		}
		return "🌐 Ошибка сети: " + msg
	default:
		msg := ""
		if e.Err != nil {
			msg = clipRunes(e.Err.Error(), 150)
		}
		return "Техническая ошибка: " + msg
	}
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Transcript is the fetched subtitle text and its track language.
type Transcript struct {
	Text     string
	Language string
}

// Client fetches transcripts over HTTP.
type Client struct {
	http *http.Client
}

// NewClient creates a transcript client with a bounded HTTP timeout.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}}
}

// captionTrack mirrors the slice of the watch-page player response we
// care about.
type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind,omitempty"`
}

var captionTracksPattern = regexp.MustCompile(`"captionTracks":(\[.*?\])`)

// Fetch downloads the subtitle track for the video, preferring the
// given language codes in order and falling back to whatever track the
// player response lists first.
func (c *Client) Fetch(ctx context.Context, videoID string, preferredLangs []string) (*Transcript, error) {
	page, err := c.get(ctx, "https://www.youtube.com/watch?v="+videoID)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetwork, Err: err}
	}

	if reason, blocked := classifyWatchPage(page); blocked {
		return nil, &FetchError{Reason: reason}
	}

	tracks, err := parseCaptionTracks(page)
	if err != nil {
		return nil, &FetchError{Reason: ReasonUnknown, Err: err}
	}
	if len(tracks) == 0 {
		return nil, &FetchError{Reason: ReasonDisabled}
	}

	track := pickTrack(tracks, preferredLangs)
	body, err := c.get(ctx, html.UnescapeString(track.BaseURL))
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetwork, Err: err}
	}

	text, err := parseTimedText(body)
	if err != nil {
		return nil, &FetchError{Reason: ReasonUnknown, Err: err}
	}
	if text == "" {
		return nil, &FetchError{Reason: ReasonNotAvailable}
	}
	return &Transcript{Text: text, Language: track.LanguageCode}, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Language", "en-US")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

func classifyWatchPage(page []byte) (FailReason, bool) {
	s := string(page)
	switch {
	case strings.Contains(s, `"status":"LOGIN_REQUIRED"`) && strings.Contains(s, "age"):
		return ReasonAgeRestricted, true
	case strings.Contains(s, `"status":"ERROR"`), strings.Contains(s, "Video unavailable"):
		return ReasonVideoUnavailable, true
	}
	return "", false
}

func parseCaptionTracks(page []byte) ([]captionTrack, error) {
	m := captionTracksPattern.FindSubmatch(page)
	if m == nil {
		return nil, nil
	}
	var tracks []captionTrack
	if err := json.Unmarshal(m[1], &tracks); err != nil {
		return nil, fmt.Errorf("parse caption tracks: %w", err)
	}
	return tracks, nil
}

// pickTrack prefers manual tracks in the requested languages, then
// auto-generated ones, then the first track listed.
func pickTrack(tracks []captionTrack, preferredLangs []string) captionTrack {
	for _, lang := range preferredLangs {
		for _, t := range tracks {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t
			}
		}
	}
	for _, lang := range preferredLangs {
		for _, t := range tracks {
			if t.LanguageCode == lang {
				return t
			}
		}
	}
	return tracks[0]
}

type timedText struct {
	Texts []struct {
		Value string `xml:",chardata"`
	} `xml:"text"`
}

// parseTimedText joins the snippet lines of a timedtext XML document
// into one space-separated string.
func parseTimedText(body []byte) (string, error) {
	var doc timedText
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse timedtext: %w", err)
	}
	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		if s := strings.TrimSpace(html.UnescapeString(t.Value)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

// AsFetchError unwraps err into a *FetchError if it is one.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
