// Package gemini wraps the Gemini API: persistent chat handles with
// search tools, and the one-shot calls (generation, editing, vision,
// transcription, translation, summarization) the dispatcher relies on.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/eniggman/geminigram/internal/session"
)

// Per-call budgets. Short covers translation and summaries, medium the
// search-augmented chat path, long image generation and editing.
const (
	TimeoutShort  = 60 * time.Second
	TimeoutMedium = 90 * time.Second
	TimeoutLong   = 180 * time.Second
	TimeoutDoc    = 120 * time.Second
)

const (
	instructionFlash = `Ты — быстрый помощник. МАКСИМУМ СМЫСЛА В МИНИМУМЕ СЛОВ.

• Отвечай предельно кратко и по делу
• Избегай "воды", клише, вступлений
• Для простых вопросов — 1-2 предложения
• Используй интернет для поиска информации
`
	instructionPro = `Ты — интеллектуальный помощник с фокусом на глубину мысли.

• Используй интернет для поиска информации
`
)

// ErrEmptyResponse marks a successful call that carried no usable text.
// It counts as transient on the conversation send path.
var ErrEmptyResponse = errors.New("empty response from API")

// ErrNoImage means a generation/edit call returned no inline image data.
var ErrNoImage = errors.New("API returned no image")

// Models names the concrete model per tier.
type Models struct {
	TextPro    string
	TextFlash  string
	ImagePro   string
	ImageFlash string
}

// DefaultModels returns the model set the bot ships with.
func DefaultModels() Models {
	return Models{
		TextPro:    "gemini-3-pro-preview",
		TextFlash:  "gemini-3-flash-preview",
		ImagePro:   "gemini-3-pro-image-preview",
		ImageFlash: "gemini-2.5-flash-image",
	}
}

// Client is the Gemini collaborator.
type Client struct {
	api    *genai.Client
	models Models
}

// New creates a Client for the Gemini API backend.
func New(ctx context.Context, apiKey string, models Models) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{api: api, models: models}, nil
}

func (c *Client) textModel(tier session.Tier) string {
	if tier == session.TierPro {
		return c.models.TextPro
	}
	return c.models.TextFlash
}

func (c *Client) imageModel(tier session.Tier) string {
	if tier == session.TierFlash {
		return c.models.ImageFlash
	}
	return c.models.ImagePro
}

// ImageModelName exposes the concrete image model for user-facing
// confirmations.
func (c *Client) ImageModelName(tier session.Tier) string {
	return c.imageModel(tier)
}

func searchTools() []*genai.Tool {
	return []*genai.Tool{
		{GoogleSearch: &genai.GoogleSearch{}},
		{URLContext: &genai.URLContext{}},
	}
}

// Chat is a conversation handle: accumulated history plus the search
// tool configuration. Implements session.Chat.
type Chat struct {
	chat *genai.Chat
}

// Send delivers one turn on the conversation with the medium timeout.
// A successful call with no text is reported as ErrEmptyResponse.
func (ch *Chat) Send(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutMedium)
	defer cancel()

	resp, err := ch.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", err
	}
	out := resp.Text()
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// NewChat opens a fresh conversation handle for the tier, with the
// tier's system instruction and search tools attached.
func (c *Client) NewChat(tier session.Tier) (session.Chat, error) {
	instruction := instructionFlash
	if tier == session.TierPro {
		instruction = instructionPro
	}
	chat, err := c.api.Chats.Create(context.Background(), c.textModel(tier), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Tools:             searchTools(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &Chat{chat: chat}, nil
}

// generate is the shared one-shot call.
func (c *Client) generate(ctx context.Context, model string, timeout time.Duration, parts []*genai.Part, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return c.api.Models.GenerateContent(ctx, model, contents, config)
}

// GenerateText answers a prompt with a stateless flash call and the
// search tools enabled. Used by inline queries.
func (c *Client) GenerateText(ctx context.Context, prompt, instruction string) (string, error) {
	config := &genai.GenerateContentConfig{Tools: searchTools()}
	if instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}
	resp, err := c.generate(ctx, c.models.TextFlash, TimeoutMedium, []*genai.Part{genai.NewPartFromText(prompt)}, config)
	if err != nil {
		return "", err
	}
	if resp.Text() == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// Analyze runs a multimodal request: binary parts first, prompt last,
// matching the contents layout image models expect.
func (c *Client) Analyze(ctx context.Context, tier session.Tier, prompt string, blobs [][]byte, mimeType string, timeout time.Duration) (string, error) {
	parts := make([]*genai.Part, 0, len(blobs)+1)
	for _, blob := range blobs {
		parts = append(parts, genai.NewPartFromBytes(blob, mimeType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	resp, err := c.generate(ctx, c.textModel(tier), timeout, parts, nil)
	if err != nil {
		return "", err
	}
	if resp.Text() == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// GenerateImage renders a prompt on the session's image tier.
func (c *Client) GenerateImage(ctx context.Context, tier session.Tier, prompt string) ([]byte, error) {
	resp, err := c.generate(ctx, c.imageModel(tier), TimeoutLong, []*genai.Part{genai.NewPartFromText(prompt)}, nil)
	if err != nil {
		return nil, err
	}
	return firstImage(resp)
}

// EditImage rewrites one or more images according to the prompt. Images
// go first in the contents, the instruction last.
func (c *Client) EditImage(ctx context.Context, tier session.Tier, images [][]byte, prompt string) ([]byte, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/jpeg"))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	resp, err := c.generate(ctx, c.imageModel(tier), TimeoutLong, parts, nil)
	if err != nil {
		return nil, err
	}
	return firstImage(resp)
}

// Transcribe turns an OGG voice note into plain text on the flash tier.
func (c *Client) Transcribe(ctx context.Context, voice []byte) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText("Распознай речь в текст. Выведи ТОЛЬКО распознанный текст, без комментариев:"),
		genai.NewPartFromBytes(voice, "audio/ogg"),
	}
	resp, err := c.generate(ctx, c.models.TextFlash, TimeoutShort, parts, nil)
	if err != nil {
		return "", err
	}
	if resp.Text() == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// Translate renders text into Russian on the flash tier.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	prompt := "Переведи этот текст на русский язык максимально точно и литературно, сохраняя стиль оригинала. Не добавляй никаких комментариев, только перевод:\n\n" + text
	resp, err := c.generate(ctx, c.models.TextFlash, TimeoutShort, []*genai.Part{genai.NewPartFromText(prompt)}, nil)
	if err != nil {
		return "", err
	}
	if resp.Text() == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// Summarize produces the structured video summary on the flash tier.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := fmt.Sprintf(`Создай структурированное саммари видео на русском языке:

📌 **Основная тема**: (1-2 предложения)

📋 **Ключевые моменты**:
• пункт 1
• пункт 2
• пункт 3
...

💡 **Главные выводы**: (2-3 предложения)

Текст субтитров:
%s`, transcript)

	resp, err := c.generate(ctx, c.models.TextFlash, TimeoutShort, []*genai.Part{genai.NewPartFromText(prompt)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instructionFlash, genai.RoleUser),
		})
	if err != nil {
		return "", err
	}
	if resp.Text() == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

func firstImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, ErrNoImage
}
