package llm

import "strings"

var salesKeywords = []string{
	"price", "pricing", "cost", "buy", "purchase", "plan", "enterprise", "demo",
}

var supportKeywords = []string{
	"order", "tracking", "issue", "problem", "help", "support", "not working",
}

var positiveWords = []string{
	"thank", "thanks", "great", "excellent", "good", "love", "happy",
	"pleased", "wonderful", "fantastic", "perfect", "amazing",
}

var negativeWords = []string{
	"bad", "terrible", "awful", "horrible", "worst", "hate", "angry",
	"frustrated", "disappointed", "unacceptable", "ridiculous", "pathetic",
}

var urgentIndicators = []string{
	"!!!", "asap", "immediately", "urgent", "emergency", "critical",
}

// RuleClassify is the deterministic keyword classifier used when no provider
// is configured or the provider call fails.
func RuleClassify(text string) string {
	lower := strings.ToLower(text)
	// Urgency trumps the topic classes.
	for _, kw := range urgentIndicators {
		if strings.Contains(lower, kw) {
			return "urgent"
		}
	}
	for _, kw := range salesKeywords {
		if strings.Contains(lower, kw) {
			return "sales"
		}
	}
	for _, kw := range supportKeywords {
		if strings.Contains(lower, kw) {
			return "support"
		}
	}
	return "general"
}

// KeywordSentiment scores text in [-1, 1] from keyword counts, negative
// weighted by urgency markers.
func KeywordSentiment(text string) float64 {
	lower := strings.ToLower(text)

	var positive, negative, urgent int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negative++
		}
	}
	for _, w := range urgentIndicators {
		if strings.Contains(lower, w) {
			urgent++
		}
	}

	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	score := float64(positive-negative-urgent) / float64(words)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}
