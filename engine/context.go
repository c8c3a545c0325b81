package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Rahuldrabit/support-agent/llm"
	"github.com/Rahuldrabit/support-agent/store"
)

// historyFromMessages converts stored messages into provider history entries,
// oldest first, excluding the message currently being processed.
func historyFromMessages(msgs []store.Message, excludeID uint) []llm.HistoryEntry {
	out := make([]llm.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == excludeID {
			continue
		}
		role := "user"
		if m.Direction == store.DirectionOutbound {
			role = "agent"
		}
		out = append(out, llm.HistoryEntry{Role: role, Content: m.Content})
	}
	return out
}

// formatContext renders the most recent history entries as generation
// context, oldest first.
func formatContext(history []llm.HistoryEntry, limit int) string {
	if len(history) == 0 {
		return "No previous context."
	}
	if limit <= 0 {
		limit = 3
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	parts := make([]string, 0, len(history))
	for _, h := range history {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(h.Role), h.Content))
	}
	return strings.Join(parts, "\n")
}

var orderNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#?\b[A-Z]{2}\d{6,10}\b`),
	regexp.MustCompile(`\b\d{8,12}\b`),
	regexp.MustCompile(`(?i)order[:\s]+([A-Z0-9-]+)`),
}

// extractOrderNumber pulls a likely order reference out of a support message.
func extractOrderNumber(text string) string {
	for _, re := range orderNumberPatterns {
		match := re.FindStringSubmatch(text)
		if len(match) == 0 {
			continue
		}
		// Prefer the captured reference when the pattern has one.
		got := match[0]
		if len(match) > 1 && match[1] != "" {
			got = match[1]
		}
		return strings.TrimSpace(strings.Trim(got, "#"))
	}
	return ""
}
