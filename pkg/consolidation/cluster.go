package consolidation

import (
	"math"
	"strings"
	"unicode"

	"github.com/engram-memory/engram/pkg/models"
)

// clusterThresholds are the similarity gates for identity clustering.
type clusterThresholds struct {
	cosineMin      float64
	keywordOverlap float64
	jaccardMin     float64
}

// stopwords excluded from keyword sets. Small on purpose: becoming
// statements are short and over-stripping empties them.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "with": {},
}

// clusterHandoffs groups handoffs whose becoming statements are mutually
// similar: cosine over embeddings AND keyword overlap when both embeddings
// exist, Jaccard over keyword sets otherwise. Clusters are connected
// components under that pairwise relation, members kept in input order
// (oldest first), so cluster[0] is the earliest statement.
func clusterHandoffs(handoffs []*models.Handoff, t clusterThresholds) [][]*models.Handoff {
	n := len(handoffs)
	if n == 0 {
		return nil
	}

	keywords := make([]map[string]struct{}, n)
	for i, h := range handoffs {
		keywords[i] = keywordSet(h.Becoming)
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		parent[find(a)] = find(b)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if similarStatements(handoffs[i], handoffs[j], keywords[i], keywords[j], t) {
				union(i, j)
			}
		}
	}

	componentOrder := make([]int, 0, n)
	components := make(map[int][]*models.Handoff)
	for i, h := range handoffs {
		root := find(i)
		if _, seen := components[root]; !seen {
			componentOrder = append(componentOrder, root)
		}
		components[root] = append(components[root], h)
	}

	clusters := make([][]*models.Handoff, 0, len(componentOrder))
	for _, root := range componentOrder {
		clusters = append(clusters, components[root])
	}
	return clusters
}

func similarStatements(a, b *models.Handoff, kwA, kwB map[string]struct{}, t clusterThresholds) bool {
	if a.Embedding != nil && b.Embedding != nil {
		return cosineSimilarity(a.Embedding.Slice(), b.Embedding.Slice()) >= t.cosineMin &&
			overlapRatio(kwA, kwB) >= t.keywordOverlap
	}
	return jaccard(kwA, kwB) >= t.jaccardMin
}

// keywordSet lowercases, splits on non-alphanumerics and strips stopwords.
func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// overlapRatio is shared keywords over the smaller set.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var shared int
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// jaccard is intersection over union of the keyword sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var shared int
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
