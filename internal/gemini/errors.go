package gemini

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eniggman/geminigram/internal/format"
)

// Class is the best-effort error taxonomy derived from the API's error
// text. Classification is by substring, not exhaustive.
type Class string

const (
	ClassQuota      Class = "QUOTA"
	ClassSafety     Class = "SAFETY"
	ClassAuth       Class = "AUTH"
	ClassModel      Class = "MODEL"
	ClassTokenLimit Class = "TOKEN LIMIT"
	ClassNetwork    Class = "NETWORK"
	ClassServer     Class = "SERVER"
	ClassFormat     Class = "FORMAT"
	ClassUnknown    Class = "ERROR"
)

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Classify maps an API error onto the taxonomy. Order matters: the more
// specific signatures are checked before the generic server/network ones.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "quota", "rate limit", "429"):
		return ClassQuota
	case containsAny(msg, "blocked", "safety", "harmful", "finish_reason"):
		return ClassSafety
	case containsAny(msg, "api key", "invalid", "401", "403"):
		return ClassAuth
	case strings.Contains(msg, "model") && containsAny(msg, "not found", "unavailable", "does not exist"):
		return ClassModel
	case strings.Contains(msg, "token") && containsAny(msg, "limit", "exceed", "too long"):
		return ClassTokenLimit
	case containsAny(msg, "connection", "timeout", "network", "deadline exceeded"):
		return ClassNetwork
	case containsAny(msg, "500", "503", "internal", "server"):
		return ClassServer
	case containsAny(msg, "unsupported", "invalid format", "mime"):
		return ClassFormat
	default:
		return ClassUnknown
	}
}

// Transient reports whether the failure is worth retrying on the
// persistent-conversation path: rate limits, server-side errors, network
// trouble, and empty-but-successful responses.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	msg := err.Error()
	return containsAny(msg, "429", "500", "503") ||
		containsAny(strings.ToLower(msg), "timeout", "deadline exceeded")
}

// user-facing template per class: emoji, explanation, and how much of
// the raw error to keep for diagnostics.
var templates = map[Class]struct {
	emoji string
	text  string
	keep  int
}{
	ClassQuota:      {"🚦", "Превышен лимит запросов. Попробуй позже.", 120},
	ClassSafety:     {"🛡️", "Контент заблокирован фильтром безопасности.", 120},
	ClassAuth:       {"🔑", "Проблема с API ключом.", 150},
	ClassModel:      {"🤖", "Модель недоступна.", 120},
	ClassTokenLimit: {"📏", "Запрос слишком длинный.", 100},
	ClassNetwork:    {"🌐", "Ошибка сети.", 100},
	ClassServer:     {"💥", "Ошибка сервера Google.", 100},
	ClassFormat:     {"📄", "Неподдерживаемый формат.", 120},
}

// UserMessage renders the classified error as Telegram HTML: a fixed
// template plus a truncated, escaped copy of the raw error.
func UserMessage(err error, contextInfo string) string {
	prefix := ""
	if contextInfo != "" {
		prefix = fmt.Sprintf("[%s] ", contextInfo)
	}
	raw := format.EscapeHTML(err.Error())

	class := Classify(err)
	tpl, ok := templates[class]
	if !ok {
		return fmt.Sprintf("%s[%s]\n<code>%s</code>", prefix, ClassUnknown, truncate(raw, 250))
	}
	return fmt.Sprintf("%s %s[%s] %s\n<code>%s</code>", tpl.emoji, prefix, class, tpl.text, truncate(raw, tpl.keep))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
