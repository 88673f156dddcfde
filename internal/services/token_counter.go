package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"agentdeck/internal/models"
)

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// CountSentences counts sentence terminators. A trailing fragment without a
// terminator still counts as one sentence.
func CountSentences(text string) int {
	count := 0
	terminated := true
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if !terminated {
				count++
				terminated = true
			}
		case unicode.IsSpace(r):
		default:
			terminated = false
		}
	}
	if !terminated {
		count++
	}
	return count
}

// MeasureText returns the size of text in the given unit. The messages
// unit is meaningless for a single string and measures as zero.
func MeasureText(text, unit string) int {
	switch unit {
	case models.UnitCharacters:
		return utf8.RuneCountInString(text)
	case models.UnitWords:
		return CountWords(text)
	case models.UnitTokens:
		return EstimateTokens(text)
	case models.UnitSentences:
		return CountSentences(text)
	}
	return 0
}

// MeasureHistory returns the size of a chat log in the given unit. The
// tokens unit accounts for per-message role overhead (~4 tokens for role
// and separators).
func MeasureHistory(messages []models.ChatMessage, unit string) int {
	if unit == models.UnitMessages {
		return len(messages)
	}
	total := 0
	for _, m := range messages {
		total += MeasureText(m.Text, unit)
		if unit == models.UnitTokens {
			total += 4
		}
	}
	return total
}
