package engine

import (
	"fmt"
	"strings"
	"unicode"
)

type ValidationConfig struct {
	MinLength int
	MaxLength int
	// DisallowedMarkers fail validation when present anywhere in the reply
	// (case-insensitive). Catches leaked prompt scaffolding and refusals.
	DisallowedMarkers []string
	// TargetLanguage, when set to "en", requires the reply to be mostly
	// Latin-script text.
	TargetLanguage string
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MinLength: 10,
		MaxLength: 1000,
		DisallowedMarkers: []string{
			"as an ai language model",
			"CLASSIFICATION:",
			"{context}",
			"{message}",
		},
		TargetLanguage: "en",
	}
}

// validateReply applies the deterministic quality gates. Returns nil when the
// candidate reply may be persisted and delivered.
func validateReply(cfg ValidationConfig, reply string) error {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return fmt.Errorf("reply is empty")
	}
	minLen := cfg.MinLength
	if minLen <= 0 {
		minLen = 10
	}
	maxLen := cfg.MaxLength
	if maxLen <= 0 {
		maxLen = 1000
	}
	if len(trimmed) < minLen {
		return fmt.Errorf("reply is too short: %d < %d", len(trimmed), minLen)
	}
	if len(trimmed) > maxLen {
		return fmt.Errorf("reply is too long: %d > %d", len(trimmed), maxLen)
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range cfg.DisallowedMarkers {
		if marker == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(marker)) {
			return fmt.Errorf("reply contains disallowed marker %q", marker)
		}
	}

	if cfg.TargetLanguage == "en" && !mostlyLatin(trimmed) {
		return fmt.Errorf("reply language does not match target %q", cfg.TargetLanguage)
	}
	return nil
}

// mostlyLatin reports whether at least half of the letters are Latin script.
func mostlyLatin(text string) bool {
	var letters, latin int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Latin, r) {
			latin++
		}
	}
	if letters == 0 {
		return true
	}
	return float64(latin)/float64(letters) >= 0.5
}
