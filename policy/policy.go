// Package policy decides whether a conversation needs a human. Decisions are
// pure functions of the inputs so the same rules serve both the workflow
// engine and manual administrative escalation.
package policy

import (
	"strings"

	"github.com/Rahuldrabit/support-agent/store"
)

const (
	ReasonUrgentIntent      = "urgent_intent"
	ReasonUrgentKeyword     = "urgent_keyword"
	ReasonNegativeSentiment = "negative_sentiment"
)

// Rule names for Config.RuleOrder.
const (
	RuleUrgentIntent      = "urgent_intent"
	RuleUrgentKeyword     = "urgent_keyword"
	RuleNegativeSentiment = "negative_sentiment"
)

var defaultUrgentKeywords = []string{
	"ridiculous", "unacceptable", "immediately", "asap", "urgent",
	"lawsuit", "lawyer", "legal action", "complain", "manager",
	"supervisor", "charged twice", "unauthorized", "fraud",
}

type Config struct {
	// RuleOrder is evaluated first match wins.
	RuleOrder []string

	UrgentKeywords []string

	// NegativeThreshold escalates when sentiment falls at or below it.
	NegativeThreshold float64

	// ExclamationLimit and CapsRatioLimit catch shouting that the keyword
	// list misses.
	ExclamationLimit int
	CapsRatioLimit   float64
}

func DefaultConfig() Config {
	return Config{
		RuleOrder:         []string{RuleUrgentIntent, RuleUrgentKeyword, RuleNegativeSentiment},
		UrgentKeywords:    append([]string{}, defaultUrgentKeywords...),
		NegativeThreshold: -0.5,
		ExclamationLimit:  3,
		CapsRatioLimit:    0.5,
	}
}

type Input struct {
	Intent         store.Intent
	SentimentScore float64
	Text           string
	Priority       store.Priority
}

type Decision struct {
	Escalate bool
	Reason   string
}

// Decide applies the configured rules in order and returns on the first
// match. Deterministic and side-effect-free.
func Decide(cfg Config, in Input) Decision {
	order := cfg.RuleOrder
	if len(order) == 0 {
		order = DefaultConfig().RuleOrder
	}
	for _, rule := range order {
		switch rule {
		case RuleUrgentIntent:
			if in.Intent == store.IntentUrgent {
				return Decision{Escalate: true, Reason: ReasonUrgentIntent}
			}
		case RuleUrgentKeyword:
			if MatchesUrgentKeyword(cfg, in.Text) {
				return Decision{Escalate: true, Reason: ReasonUrgentKeyword}
			}
		case RuleNegativeSentiment:
			if in.SentimentScore <= cfg.NegativeThreshold {
				return Decision{Escalate: true, Reason: ReasonNegativeSentiment}
			}
		}
	}
	return Decision{}
}

// MatchesUrgentKeyword reports whether the text trips the urgent keyword set
// or the shouting heuristics.
func MatchesUrgentKeyword(cfg Config, text string) bool {
	lower := strings.ToLower(text)
	keywords := cfg.UrgentKeywords
	if keywords == nil {
		keywords = defaultUrgentKeywords
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}

	limit := cfg.ExclamationLimit
	if limit <= 0 {
		limit = 3
	}
	if strings.Count(text, "!") >= limit {
		return true
	}

	capsLimit := cfg.CapsRatioLimit
	if capsLimit <= 0 {
		capsLimit = 0.5
	}
	if len(text) > 10 && capsRatio(text) > capsLimit {
		return true
	}
	return false
}

func capsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
