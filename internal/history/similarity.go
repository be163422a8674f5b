package history

import (
	"sort"
	"strings"

	"github.com/zjrosen/adwd/internal/adw"
)

// Similarity weights sum to 100: categorical matches plus a text component
// scaled by Jaccard overlap of the request tokens.
const (
	similarityClassificationWeight = 30
	similarityTemplateWeight       = 30
	similarityComplexityWeight     = 20
	similarityTextWeight           = 20

	// SimilarityThreshold is the minimum score for two workflows to count as
	// peers.
	SimilarityThreshold = 70

	// MaxSimilar caps how many peers FindSimilar returns.
	MaxSimilar = 10
)

// Similarity scores how alike two workflows are, in [0,100]. The comparison
// is symmetric. Empty categorical fields never match; unknown is not a kind.
func Similarity(a, b *adw.WorkflowRecord) int {
	score := 0
	if a.ClassificationType != "" && a.ClassificationType == b.ClassificationType {
		score += similarityClassificationWeight
	}
	if a.WorkflowTemplate != "" && a.WorkflowTemplate == b.WorkflowTemplate {
		score += similarityTemplateWeight
	}
	if a.ComplexityLevel != "" && a.ComplexityLevel == b.ComplexityLevel {
		score += similarityComplexityWeight
	}
	score += int(float64(similarityTextWeight) * jaccard(requestTokens(a.NLInput), requestTokens(b.NLInput)))
	return score
}

// Similar pairs a peer record with its similarity score to some target.
type Similar struct {
	Record *adw.WorkflowRecord
	Score  int
}

// FindSimilar returns the target's peers from the pool: records scoring at
// least SimilarityThreshold, best first, at most MaxSimilar. Ties break on
// adw_id so repeated syncs produce identical orderings. The target itself is
// excluded.
func FindSimilar(target *adw.WorkflowRecord, pool []*adw.WorkflowRecord) []Similar {
	var matches []Similar
	for _, candidate := range pool {
		if candidate.ADWID == target.ADWID {
			continue
		}
		if score := Similarity(target, candidate); score >= SimilarityThreshold {
			matches = append(matches, Similar{Record: candidate, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.ADWID < matches[j].Record.ADWID
	})
	if len(matches) > MaxSimilar {
		matches = matches[:MaxSimilar]
	}
	return matches
}

// requestTokens lowercases and splits a request, trimming edge punctuation so
// "button." and "button" count as the same token.
func requestTokens(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		token := strings.Trim(f, ".,!?;:\"'()[]{}")
		if token != "" {
			set[token] = struct{}{}
		}
	}
	return set
}

// jaccard is intersection over union. Either side empty scores zero; there
// is no text evidence to compare.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
