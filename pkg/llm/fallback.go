package llm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
)

// FallbackSummary is the deterministic full→summary derivation: the lead
// sentence of the story (or the remember hint), followed by one bullet per
// narrative field, truncated to the token budget. Identical input always
// yields identical output, so retried jobs converge.
func FallbackSummary(h *models.Handoff, targetTokens int) string {
	var b strings.Builder
	lead := h.Story
	if lead == "" {
		lead = h.Remember
	}
	if lead != "" {
		b.WriteString(models.LeadSentence(lead))
		b.WriteString("\n")
	}
	for _, part := range []struct{ label, text string }{
		{"experienced", h.Experienced},
		{"noticed", h.Noticed},
		{"learned", h.Learned},
	} {
		if part.text == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(part.label)
		b.WriteString(": ")
		b.WriteString(models.LeadSentence(part.text))
		b.WriteString("\n")
	}
	if h.Becoming != "" {
		b.WriteString("- becoming: ")
		b.WriteString(h.Becoming)
		b.WriteString("\n")
	}
	return TruncateTokens(strings.TrimSpace(b.String()), targetTokens)
}

// FallbackPrinciple derives a consolidated principle without an LLM: the
// most frequent content words across the cluster plus the date range it
// spans.
func FallbackPrinciple(withWhom string, statements []string, earliest, latest time.Time) string {
	counts := make(map[string]int)
	for _, s := range statements {
		for _, word := range strings.Fields(strings.ToLower(s)) {
			word = strings.Trim(word, ".,;:!?\"'")
			if len(word) > 3 {
				counts[word]++
			}
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > 6 {
		words = words[:6]
	}
	return fmt.Sprintf("With %s, a recurring trajectory (%s — %s): %s.",
		withWhom,
		earliest.Format("2006-01-02"), latest.Format("2006-01-02"),
		strings.Join(words, ", "))
}
