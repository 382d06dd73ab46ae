package llm

import "unicode/utf8"

// EstimateTokens approximates the token count of text as ceil(chars/4).
// This is a deliberate estimate, not real tokenization; it is used only for
// the tokens_saved accounting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TruncateTokens cuts text to approximately maxTokens, breaking on a word
// boundary where possible and never mid-rune.
func TruncateTokens(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	for maxChars > 0 && !utf8.RuneStart(text[maxChars]) {
		maxChars--
	}
	cut := text[:maxChars]
	if i := lastSpace(cut); i > maxChars/2 {
		cut = cut[:i]
	}
	return cut
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' || s[i] == '\n' {
			return i
		}
	}
	return -1
}
