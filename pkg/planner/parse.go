package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"docuscene/pkg/llm"
	"docuscene/pkg/model"
)

// Field limits and fallbacks applied to generated scenes.
const (
	maxTitle        = 50
	maxSummary      = 200
	maxNarration    = 500
	maxOnScreenText = 30
	maxKeywords     = 200

	fallbackSummary   = "Scene description"
	fallbackNarration = "Scene narration text"
	fallbackOnScreen  = "Text"
	fallbackKeywords  = "office, business, professional"
)

// ParseScenes decodes an LLM reply into scenes. Code fences are stripped, a
// bare array or {"scenes": [...]} is accepted, and every field is coerced to
// its bounds. At most limit scenes are returned when limit > 0.
func ParseScenes(raw string, limit int) ([]model.Scene, error) {
	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}

	scenes := make([]model.Scene, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			slog.Debug("Generated scene is not an object", "error", &ValidationError{Index: i, Field: "scene", Reason: fmt.Sprintf("unexpected %T", item)})
			obj = map[string]any{}
		}
		scenes = append(scenes, coerceScene(i, obj))
	}

	if len(scenes) == 0 {
		return nil, &NoScenesProducedError{}
	}
	if limit > 0 && len(scenes) > limit {
		slog.Warn("Too many scenes generated, truncating", "generated", len(scenes), "limit", limit)
		scenes = scenes[:limit]
	}
	return scenes, nil
}

func decodeItems(raw string) ([]any, error) {
	clean := llm.CleanJSONBlock(raw)

	var parsed any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		span, ok := llm.ExtractJSONArray(clean)
		if !ok {
			return nil, fmt.Errorf("no valid JSON found in response: %w", err)
		}
		if err := json.Unmarshal([]byte(span), &parsed); err != nil {
			return nil, fmt.Errorf("extracted JSON array is invalid: %w", err)
		}
	}

	switch v := parsed.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if list, ok := v["scenes"].([]any); ok {
			return list, nil
		}
		return []any{v}, nil
	default:
		return nil, fmt.Errorf("unexpected JSON %T", parsed)
	}
}

func coerceScene(i int, obj map[string]any) model.Scene {
	return model.Scene{
		ID:             coerceID(i, obj["id"]),
		Title:          coerceString(i, "title", obj["title"], fmt.Sprintf("Scene %d", i+1), maxTitle),
		Summary:        coerceString(i, "summary", obj["summary"], fallbackSummary, maxSummary),
		Narration:      coerceString(i, "narration", obj["narration"], fallbackNarration, maxNarration),
		OnScreenText:   coerceString(i, "on_screen_text", obj["on_screen_text"], fallbackOnScreen, maxOnScreenText),
		VisualKeywords: coerceString(i, "visual_keywords", obj["visual_keywords"], fallbackKeywords, maxKeywords),
		Mood:           coerceMood(i, obj["mood"]),
		Duration:       coerceDuration(i, obj["duration_seconds"]),
	}
}

func invalid(i int, field, reason string) {
	slog.Debug("Coerced generated scene field", "error", &ValidationError{Index: i, Field: field, Reason: reason})
}

func coerceID(i int, v any) int {
	switch x := v.(type) {
	case float64:
		if x >= 1 && x == math.Trunc(x) && x <= math.MaxInt32 {
			return int(x)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil && n >= 1 {
			return n
		}
	}
	if v != nil {
		invalid(i, "id", "not a positive integer")
	}
	return i + 1
}

func coerceString(i int, field string, v any, fallback string, maxLen int) string {
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		invalid(i, field, "missing or not a string")
		return fallback
	}
	if r := []rune(s); len(r) > maxLen {
		invalid(i, field, "truncated")
		return string(r[:maxLen])
	}
	return s
}

func coerceMood(i int, v any) model.Mood {
	if s, ok := v.(string); ok && model.Mood(s).Valid() {
		return model.Mood(s)
	}
	invalid(i, "mood", fmt.Sprintf("unsupported mood %v", v))
	return model.MoodInformative
}

func coerceDuration(i int, v any) int {
	n, ok := parseIntPrefix(v)
	if !ok || n < model.MinSceneDuration || n > model.MaxSceneDuration {
		invalid(i, "duration_seconds", fmt.Sprintf("%v outside [%d,%d]", v, model.MinSceneDuration, model.MaxSceneDuration))
		return model.DefaultSceneDuration
	}
	return n
}

// parseIntPrefix reads an integer the lenient way: numbers are truncated and
// strings contribute their leading optionally-signed digits ("12s" is 12).
func parseIntPrefix(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	case string:
		s := strings.TrimLeft(x, " \t\n\r")
		end := 0
		if end < len(s) && (s[end] == '-' || s[end] == '+') {
			end++
		}
		start := end
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == start {
			return 0, false
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
