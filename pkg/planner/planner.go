// Package planner turns document text into an ordered list of video scenes,
// either through an LLM or a deterministic sentence-based heuristic.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"docuscene/pkg/config"
	"docuscene/pkg/model"
)

// Scene count bounds.
const (
	MinScenes = 5
	MaxScenes = 20
)

const (
	promptTemplate = "scenes.tmpl"
	// Profile is the LLM profile used for scene generation.
	Profile = "scenes"
)

// Generator produces text from a prompt. llm.Provider satisfies it.
type Generator interface {
	GenerateText(ctx context.Context, name, prompt string) (string, error)
}

// Renderer renders a named prompt template. prompts.Manager satisfies it.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// Plan is the outcome of planning one document.
type Plan struct {
	Scenes        []model.Scene `json:"scenes"`
	TotalDuration int           `json:"total_duration"`
	SceneCount    int           `json:"scene_count"`
	WordCount     int           `json:"word_count"`
	TargetCount   int           `json:"target_count"`
	Generated     bool          `json:"generated"` // False when the heuristic fallback produced the scenes
}

// Planner plans scenes for documents. It is safe for concurrent use.
type Planner struct {
	gen           Generator
	prompts       Renderer
	maxInputChars int

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New creates a Planner. gen may be nil, in which case every plan uses the
// heuristic fallback.
func New(gen Generator, prompts Renderer, cfg config.PlannerConfig) *Planner {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Planner{
		gen:           gen,
		prompts:       prompts,
		maxInputChars: cfg.MaxInputChars,
		rnd:           rand.New(rand.NewSource(seed)),
	}
}

// SceneCount maps a word count to a target number of scenes.
func SceneCount(words int) int {
	var n int
	switch {
	case words < 200:
		n = MinScenes
	case words < 500:
		n = ceilDiv(words, 80)
	case words < 1000:
		n = ceilDiv(words, 100)
	case words < 2000:
		n = ceilDiv(words, 120)
	default:
		n = ceilDiv(words, 150)
	}
	return max(MinScenes, min(MaxScenes, n))
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Plan produces the scene list for a document.
func (p *Planner) Plan(ctx context.Context, text string) (*Plan, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &EmptyInputError{}
	}

	words := WordCount(trimmed)
	target := SceneCount(words)
	slog.Debug("Document analysis", "words", words, "chars", len(trimmed), "target_scenes", target)

	var scenes []model.Scene
	generated := false
	if p.gen != nil {
		s, err := p.generate(ctx, trimmed, words, target)
		switch {
		case err == nil:
			scenes, generated = s, true
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			slog.Warn("Scene generation failed, using fallback", "error", err)
		}
	}
	if scenes == nil {
		scenes = p.Fallback(trimmed, target)
	}

	plan := &Plan{
		Scenes:      scenes,
		SceneCount:  len(scenes),
		WordCount:   words,
		TargetCount: target,
		Generated:   generated,
	}
	for _, s := range scenes {
		plan.TotalDuration += s.Duration
	}

	slog.Info("Scenes planned", "scenes", plan.SceneCount, "total_seconds", plan.TotalDuration, "generated", generated)
	return plan, nil
}

func (p *Planner) generate(ctx context.Context, text string, words, target int) ([]model.Scene, error) {
	if p.prompts == nil {
		return nil, &GenerationError{Err: errors.New("no prompt templates configured")}
	}

	prompt, err := p.prompts.Render(promptTemplate, promptData{
		TargetCount: target,
		WordCount:   words,
		Text:        truncateText(text, p.maxInputChars),
		Moods:       []string{string(model.MoodInformative), string(model.MoodInspirational), string(model.MoodWarm), string(model.MoodCorporate)},
		MinDuration: model.MinSceneDuration,
		MaxDuration: model.MaxSceneDuration,
	})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	raw, err := p.gen.GenerateText(ctx, Profile, prompt)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	scenes, err := ParseScenes(raw, target)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	return scenes, nil
}

type promptData struct {
	TargetCount int
	WordCount   int
	Text        string
	Moods       []string
	MinDuration int
	MaxDuration int
}

// jitter returns a duration offset in [-2, 2].
func (p *Planner) jitter() int {
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return p.rnd.Intn(5) - 2
}

// truncateText cuts text to at most maxChars runes, preferring a word boundary.
func truncateText(text string, maxChars int) string {
	r := []rune(text)
	if maxChars <= 0 || len(r) <= maxChars {
		return text
	}
	cut := string(r[:maxChars])
	if i := strings.LastIndexAny(cut, " \n\t"); i > maxChars/2 {
		cut = cut[:i]
	}
	return cut
}

func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// SetRand replaces the random source used for fallback duration jitter.
func (p *Planner) SetRand(r *rand.Rand) {
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	p.rnd = r
}
