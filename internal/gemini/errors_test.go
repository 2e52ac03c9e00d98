package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Class
	}{
		{"error 429: quota exceeded", ClassQuota},
		{"response blocked by safety filter", ClassSafety},
		{"invalid api key provided", ClassAuth},
		{"model gemini-x not found", ClassModel},
		{"input token count exceeds limit", ClassTokenLimit},
		{"connection reset by peer", ClassNetwork},
		{"context deadline exceeded", ClassNetwork},
		{"503 service unavailable", ClassServer},
	}

	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}

	if got := Classify(errors.New("something odd happened")); got != ClassUnknown {
		t.Errorf("unknown error classified as %v", got)
	}
}

func TestTransient(t *testing.T) {
	for _, msg := range []string{"http 429", "status 503", "error 500 internal", "request timeout"} {
		if !Transient(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}
	if !Transient(ErrEmptyResponse) {
		t.Error("empty response should be transient")
	}
	for _, msg := range []string{"invalid api key", "blocked by safety"} {
		if Transient(errors.New(msg)) {
			t.Errorf("%q should not be transient", msg)
		}
	}
}

func TestUserMessageEscapesAndTruncates(t *testing.T) {
	err := errors.New("quota <exceeded> " + strings.Repeat("x", 300))
	msg := UserMessage(err, "CHAT")

	if strings.Contains(msg, "<exceeded>") {
		t.Error("raw error not escaped")
	}
	if !strings.Contains(msg, "[CHAT]") || !strings.Contains(msg, "[QUOTA]") {
		t.Errorf("missing tags: %q", msg)
	}
	if !strings.Contains(msg, "<code>") {
		t.Error("diagnostic block missing")
	}
	if len(msg) > 400 {
		t.Errorf("message not truncated: %d bytes", len(msg))
	}
}

type scriptedChat struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedChat) Send(ctx context.Context, text string) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.errs) {
		i = len(s.errs) - 1
	}
	return s.replies[i], s.errs[i]
}

func TestSendWithRetryTransient(t *testing.T) {
	retryStep = time.Millisecond
	defer func() { retryStep = 3 * time.Second }()

	chat := &scriptedChat{
		replies: []string{"", "", "answer"},
		errs:    []error{errors.New("503 overloaded"), errors.New("429 slow down"), nil},
	}
	out, err := SendWithRetry(context.Background(), chat, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "answer" || chat.calls != 3 {
		t.Errorf("out=%q calls=%d", out, chat.calls)
	}
}

func TestSendWithRetryPermanentFailsFast(t *testing.T) {
	chat := &scriptedChat{
		replies: []string{""},
		errs:    []error{errors.New("invalid api key")},
	}
	if _, err := SendWithRetry(context.Background(), chat, "hi"); err == nil {
		t.Fatal("expected error")
	}
	if chat.calls != 1 {
		t.Errorf("permanent error retried: %d calls", chat.calls)
	}
}

func TestSendWithRetryExhausted(t *testing.T) {
	retryStep = time.Millisecond
	defer func() { retryStep = 3 * time.Second }()

	chat := &scriptedChat{
		replies: []string{"", "", ""},
		errs:    []error{errors.New("500"), errors.New("500"), errors.New("500")},
	}
	if _, err := SendWithRetry(context.Background(), chat, "hi"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if chat.calls != MaxRetries+1 {
		t.Errorf("calls = %d, want %d", chat.calls, MaxRetries+1)
	}
}
