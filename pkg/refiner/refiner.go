// Package refiner turns a planned scene into stock-footage search queries by
// retrieving and reranking entries from a small visual pattern knowledge base.
package refiner

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"docuscene/pkg/embedding"
	"docuscene/pkg/logging"
	"docuscene/pkg/model"
	"docuscene/pkg/similarity"
)

// DefaultTopK is the number of patterns kept after reranking.
const DefaultTopK = 3

// Rerank weights.
const (
	weightSimilarity = 0.4
	weightSemantic   = 0.3
	weightMood       = 0.2
	weightOverlap    = 0.1
)

const (
	minQueryLen      = 3
	maxQueryLen      = 25
	maxRefined       = 8
	maxFallbackWords = 5
	moodMismatch     = 0.3
)

var (
	primaryPrefs   = []string{"business", "professional", "office", "meeting"}
	secondaryPrefs = []string{"work", "team", "corporate", "people"}

	moodCompatibility = map[string][]string{
		"corporate":     {"corporate", "informative", "professional"},
		"informative":   {"informative", "corporate", "educational"},
		"inspirational": {"inspirational", "warm", "creative"},
		"warm":          {"warm", "inspirational", "friendly"},
		"energetic":     {"energetic", "dynamic", "inspirational"},
	}

	moodAdjectives = map[string]string{
		"corporate":     "professional",
		"informative":   "educational",
		"inspirational": "motivating",
		"warm":          "friendly",
		"energetic":     "dynamic",
	}

	keywordSplit = regexp.MustCompile(`[,;\s]+`)
)

var errNoPatterns = errors.New("visual pattern knowledge base is empty")

// Refiner builds VisualQueryBundles. It holds read-only state and is safe for
// concurrent use.
type Refiner struct {
	patterns []model.VisualPattern
	vectors  [][]float64
	embedder embedding.Provider
	topK     int
}

// New creates a Refiner over already embedded patterns.
func New(patterns []model.VisualPattern, e embedding.Provider, topK int) *Refiner {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vectors := make([][]float64, len(patterns))
	for i, p := range patterns {
		vectors[i] = p.Embedding
	}
	return &Refiner{
		patterns: patterns,
		vectors:  vectors,
		embedder: e,
		topK:     topK,
	}
}

// Refine derives search queries for a scene. It never fails: any internal
// error degrades to FallbackBundle.
func (r *Refiner) Refine(ctx context.Context, scene model.Scene) model.VisualQueryBundle {
	matched, err := r.match(ctx, scene)
	if err != nil {
		slog.Warn("Visual refinement failed, using fallback queries", "scene_id", scene.ID, "error", err)
		return FallbackBundle(scene)
	}

	var patternKeywords, patternQueries []string
	ids := make([]string, len(matched))
	for i, p := range matched {
		ids[i] = p.ID
		patternKeywords = append(patternKeywords, p.Keywords...)
		patternQueries = append(patternQueries, p.Queries...)
	}

	sceneKeywords := SplitKeywords(scene.VisualKeywords)
	refined := dedupe(append(append([]string{}, sceneKeywords...), lowerAll(patternKeywords)...))
	if len(refined) > maxRefined {
		refined = refined[:maxRefined]
	}

	queries := buildQueries(scene, sceneKeywords, patternQueries)
	bundle := model.VisualQueryBundle{
		RefinedKeywords:   refined,
		PrimaryQuery:      selectQuery(queries, primaryPrefs, scene.Mood),
		SecondaryQuery:    selectQuery(queries, secondaryPrefs, scene.Mood),
		BackupQueries:     window(queries, 2, 6),
		MatchedPatternIDs: ids,
	}

	slog.Debug("Scene refined",
		"scene_id", scene.ID,
		"patterns", ids,
		"primary", bundle.PrimaryQuery,
		"secondary", bundle.SecondaryQuery)
	return bundle
}

type ranked struct {
	pattern model.VisualPattern
	score   float64
}

// match retrieves the 2K nearest patterns and reranks them against the scene.
func (r *Refiner) match(ctx context.Context, scene model.Scene) ([]model.VisualPattern, error) {
	if len(r.patterns) == 0 {
		return nil, errNoPatterns
	}

	text := scene.Title + " " + scene.Summary + " " + scene.VisualKeywords + " " + string(scene.Mood)
	query, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	candidates := similarity.TopK(query, r.vectors, r.topK*2)
	out := make([]ranked, len(candidates))
	for i, c := range candidates {
		p := r.patterns[c.Index]
		sem, mood, overlap := semanticRelevance(p, scene), moodAlignment(p, scene), keywordOverlap(p, scene)
		out[i] = ranked{
			pattern: p,
			score:   weightSimilarity*c.Score + weightSemantic*sem + weightMood*mood + weightOverlap*overlap,
		}
		logging.TraceDefault("Pattern scored", "scene_id", scene.ID, "pattern", p.ID,
			"similarity", c.Score, "semantic", sem, "mood", mood, "overlap", overlap, "score", out[i].score)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > r.topK {
		out = out[:r.topK]
	}

	matched := make([]model.VisualPattern, len(out))
	for i, c := range out {
		matched[i] = c.pattern
	}
	return matched, nil
}

// semanticRelevance is the Jaccard index of title+summary words and pattern keyword words.
func semanticRelevance(p model.VisualPattern, scene model.Scene) float64 {
	sceneWords := wordSet(scene.Title + " " + scene.Summary)
	patternWords := wordSet(strings.Join(p.Keywords, " "))

	union := len(sceneWords)
	inter := 0
	for w := range patternWords {
		if _, ok := sceneWords[w]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func moodAlignment(p model.VisualPattern, scene model.Scene) float64 {
	compatible, ok := moodCompatibility[string(scene.Mood)]
	if !ok {
		compatible = []string{string(scene.Mood)}
	}
	for _, m := range compatible {
		if m == p.Mood {
			return 1.0
		}
	}
	return moodMismatch
}

// keywordOverlap is the share of scene keywords that substring-match a pattern keyword.
func keywordOverlap(p model.VisualPattern, scene model.Scene) float64 {
	sceneKeywords := SplitKeywords(scene.VisualKeywords)
	if len(sceneKeywords) == 0 {
		return 0
	}
	patternKeywords := lowerAll(p.Keywords)

	hits := 0
	for _, sk := range sceneKeywords {
		for _, pk := range patternKeywords {
			if strings.Contains(pk, sk) || strings.Contains(sk, pk) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(sceneKeywords))
}

func buildQueries(scene model.Scene, sceneKeywords, patternQueries []string) []string {
	var queries []string

	if title := strings.Fields(strings.ToLower(scene.Title)); len(title) >= 2 {
		queries = append(queries, moodAdjective(scene.Mood)+" "+title[0]+" "+title[1])
	}
	if len(sceneKeywords) >= 2 {
		queries = append(queries, sceneKeywords[0]+" "+sceneKeywords[1])
	}
	queries = append(queries, window(patternQueries, 0, 2)...)
	queries = append(queries,
		string(scene.Mood)+" business",
		"professional work",
		"office meeting",
		"corporate presentation",
	)

	out := queries[:0]
	for _, q := range dedupe(queries) {
		if n := utf8.RuneCountInString(q); n >= minQueryLen && n <= maxQueryLen {
			out = append(out, q)
		}
	}
	return out
}

func selectQuery(queries, prefs []string, mood model.Mood) string {
	for _, q := range queries {
		lq := strings.ToLower(q)
		for _, p := range prefs {
			if strings.Contains(lq, p) {
				return q
			}
		}
	}
	if len(queries) > 0 {
		return queries[0]
	}
	return string(mood) + " business"
}

func moodAdjective(m model.Mood) string {
	if adj, ok := moodAdjectives[string(m)]; ok {
		return adj
	}
	return "professional"
}

// FallbackBundle derives a bundle from the scene's own keywords and mood.
func FallbackBundle(scene model.Scene) model.VisualQueryBundle {
	keywords := SplitKeywords(scene.VisualKeywords)
	if len(keywords) > maxFallbackWords {
		keywords = keywords[:maxFallbackWords]
	}
	mood := scene.Mood
	if !mood.Valid() {
		mood = model.MoodInformative
	}
	return model.VisualQueryBundle{
		RefinedKeywords:   keywords,
		PrimaryQuery:      string(mood) + " business",
		SecondaryQuery:    "professional work",
		BackupQueries:     []string{"office meeting", "team collaboration", "business presentation"},
		MatchedPatternIDs: []string{FallbackPatternID},
	}
}

// SplitKeywords splits a free-text keyword string on commas, semicolons and
// whitespace, keeping lowercased tokens longer than two characters.
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range keywordSplit.Split(strings.ToLower(s), -1) {
		if len(k) > 2 {
			out = append(out, k)
		}
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// window returns s[from:to] clipped to the slice bounds.
func window(s []string, from, to int) []string {
	if from >= len(s) {
		return nil
	}
	return s[from:min(to, len(s))]
}
