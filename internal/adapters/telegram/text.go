package telegram

import "strings"

// Ограничения Bot API на длину текстов в символах.
const (
	MessageLimit            = 4096
	InvoiceTitleLimit       = 32
	InvoiceDescriptionLimit = 255
)

// Fit обрезает текст до limit символов, добавляя многоточие.
func Fit(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	if limit == 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:limit-1]), " \n") + "…"
}

// SplitMessage делит ответ бота на сообщения не длиннее MessageLimit.
func SplitMessage(text string) []string {
	return Split(text, MessageLimit)
}

// Split делит текст на части не длиннее limit символов.
// Сначала режет по абзацам, затем по строкам, затем по пробелам.
func Split(text string, limit int) []string {
	rest := []rune(strings.TrimSpace(text))
	if len(rest) == 0 {
		return nil
	}
	if limit <= 0 {
		return []string{string(rest)}
	}

	var parts []string
	for len(rest) > limit {
		cut := cutPoint(rest[:limit])
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = []rune(strings.TrimLeft(string(rest[cut:]), " \n"))
	}
	if chunk := strings.TrimSpace(string(rest)); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}

// cutPoint ищет последнюю удобную границу в окне. Без границы режет по краю окна.
func cutPoint(window []rune) int {
	s := string(window)
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(s, sep); i > 0 {
			return len([]rune(s[:i]))
		}
	}
	return len(window)
}
