package youtube

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Truncator bounds transcript length by token count before the text is
// handed to the summarizer, so the one-shot call stays inside the
// model's context window.
type Truncator struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewTruncator creates a Truncator with the given token budget.
func NewTruncator(maxTokens int) (*Truncator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	return &Truncator{tokenizer: enc, maxTokens: maxTokens}, nil
}

// Truncate returns the text unchanged when it fits the budget, or the
// budget-sized prefix with an ellipsis marker when it does not.
func (t *Truncator) Truncate(text string) string {
	tokens := t.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text
	}
	return t.tokenizer.Decode(tokens[:t.maxTokens]) + "..."
}
