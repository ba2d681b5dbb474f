package llm

import (
	"strings"
)

// Markers delimiting the source document inside prompts.
const (
	DocumentStart = "<start of document>"
	DocumentEnd   = "<end of document>"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLineLength := 0
		for j, word := range words {
			if j > 0 {
				if currentLineLength+len(word)+1 > width {
					result.WriteString("\n")
					currentLineLength = 0
				} else {
					result.WriteString(" ")
					currentLineLength++
				}
			}
			result.WriteString(word)
			currentLineLength += len(word)
		}
	}

	return result.String()
}

// TruncateParagraphs truncates lines inside the document block of a prompt to
// maxLen runes and drops empty lines there. Lines outside the block are kept
// as is. Used when writing prompts to the LLM log.
func TruncateParagraphs(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	var result []string
	inDoc := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.Contains(trimmed, DocumentStart) {
			inDoc = true
			result = append(result, line)
			continue
		}
		if inDoc && strings.Contains(trimmed, DocumentEnd) {
			inDoc = false
			result = append(result, line)
			continue
		}

		if !inDoc {
			result = append(result, line)
			continue
		}
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if len(runes) > maxLen {
			result = append(result, string(runes[:maxLen])+"...")
		} else {
			result = append(result, trimmed)
		}
	}

	return strings.Join(result, "\n")
}

// CleanJSONBlock removes markdown code blocks from a JSON string if present.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "```json")
	if start != -1 {
		text = text[start+len("```json"):]
		end := strings.LastIndex(text, "```")
		if end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	start = strings.Index(text, "```")
	if start != -1 {
		text = text[start+len("```"):]
		end := strings.LastIndex(text, "```")
		if end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	return strings.TrimSpace(text)
}

// ExtractJSONArray returns the span from the first '[' to the last ']' of
// text, for replies that wrap a JSON array in prose. ok is false when no
// such span exists.
func ExtractJSONArray(text string) (string, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
