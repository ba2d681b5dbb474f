package planner

import (
	"math"
	"regexp"
	"strings"

	"docuscene/pkg/model"
)

type archetype struct {
	title    string
	onScreen string
	mood     model.Mood
	keywords string
	leadIn   string
}

// archetypes rotate across fallback scenes.
var archetypes = []archetype{
	{"Introduction", "Welcome", model.MoodInformative,
		"office desk, laptop typing, business presentation, professional meeting",
		"Welcome to this presentation. "},
	{"Overview", "Key Points", model.MoodInformative,
		"data analysis, charts graphs, people discussing, whiteboard presentation",
		"Let's examine the key points. "},
	{"Main Content", "Details", model.MoodInformative,
		"focused work, detailed analysis, document review, concentrated reading",
		"Here are the essential details. "},
	{"Key Insights", "Insights", model.MoodInspirational,
		"lightbulb moment, team collaboration, brainstorming session, creative thinking",
		"These insights are particularly important. "},
	{"Implementation", "Action Steps", model.MoodCorporate,
		"task planning, project management, team coordination, goal setting",
		"Now let's look at practical applications. "},
	{"Results", "Outcomes", model.MoodWarm,
		"success metrics, achievement celebration, progress tracking, positive results",
		"The outcomes demonstrate that "},
	{"Conclusion", "Summary", model.MoodCorporate,
		"handshake agreement, satisfied team, successful completion, office celebration",
		"In summary, we can see that "},
}

const defaultLeadIn = "Let's explore this topic. "

const (
	fallbackTotalSeconds = 90
	minSentenceLen       = 20
	summaryWords         = 25
	narrationWords       = 60
)

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	terminalPunct = regexp.MustCompile(`[.!?]$`)
)

// Fallback builds target scenes from the text alone. It never fails and
// always yields non-empty narration with durations inside the scene bounds.
func (p *Planner) Fallback(text string, target int) []model.Scene {
	if target < 1 {
		target = 1
	}
	text = strings.TrimSpace(text)

	var sentences []string
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(s) > minSentenceLen {
			sentences = append(sentences, s)
		}
	}

	perScene := int(math.Ceil(float64(len(sentences)) / float64(target)))
	base := int(math.Round(fallbackTotalSeconds / float64(target)))

	scenes := make([]model.Scene, 0, target)
	for i := 0; i < target; i++ {
		a := archetypes[i%len(archetypes)]

		start := min(i*perScene, len(sentences))
		end := min(start+perScene, len(sentences))
		content := strings.Join(sentences[start:end], ". ")
		if content == "" {
			content = text
		}

		title := a.title
		if i > 2 {
			title = title + " " + itoa(i-1)
		}

		scenes = append(scenes, model.Scene{
			ID:             i + 1,
			Title:          title,
			Summary:        fallbackSummaryText(content, a.title),
			Narration:      fallbackNarrationText(content, a.leadIn),
			OnScreenText:   a.onScreen,
			VisualKeywords: a.keywords,
			Mood:           a.mood,
			Duration:       clampDuration(base + p.jitter()),
		})
	}
	return scenes
}

func fallbackSummaryText(content, sceneType string) string {
	words := strings.Fields(content)
	suffix := "."
	if len(words) >= summaryWords {
		words = words[:summaryWords]
		suffix = "..."
	}
	return "This " + strings.ToLower(sceneType) + " section covers: " + strings.Join(words, " ") + suffix
}

func fallbackNarrationText(content, leadIn string) string {
	if leadIn == "" {
		leadIn = defaultLeadIn
	}
	words := strings.Fields(content)
	if len(words) > narrationWords {
		words = words[:narrationWords]
	}
	narration := leadIn + strings.Join(words, " ")
	narration = strings.TrimSpace(narration)
	if !terminalPunct.MatchString(narration) {
		narration += "."
	}
	return narration
}

func clampDuration(d int) int {
	return max(model.MinSceneDuration, min(model.MaxSceneDuration, d))
}
