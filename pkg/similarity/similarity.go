// Package similarity ranks vectors by cosine similarity.
package similarity

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths and zero vectors yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Scored pairs an item index with its similarity to a query.
type Scored struct {
	Index int
	Score float64
}

// TopK scores every candidate against query and returns the k best, highest
// first. Ties keep candidate order. k <= 0 returns all candidates ranked.
func TopK(query []float64, candidates [][]float64, k int) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Index: i, Score: Cosine(query, c)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

// Best returns the highest scoring candidate at or above threshold.
// ok is false when nothing qualifies. accept filters candidates before
// scoring; nil accepts all.
func Best(query []float64, candidates [][]float64, threshold float64, accept func(i int) bool) (best Scored, ok bool) {
	best.Index = -1
	for i, c := range candidates {
		score := Cosine(query, c)
		if score < threshold || (ok && score <= best.Score) {
			continue
		}
		if accept != nil && !accept(i) {
			continue
		}
		best = Scored{Index: i, Score: score}
		ok = true
	}
	return best, ok
}
