package relations

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/docgraph/internal/model"
)

// Confidence blend for pattern scoring.
const (
	dominanceWeight = 0.6
	volumeWeight    = 0.4
	volumeSaturate  = 5.0
)

// PatternResult is the pattern-only verdict for a concept pair.
type PatternResult struct {
	Category         model.StructureCategory `json:"category"`
	Type             model.RelationshipType  `json:"type"`
	Confidence       float64                 `json:"confidence"`
	HierarchicalHits int                     `json:"hierarchical_hits"`
	SequentialHits   int                     `json:"sequential_hits"`
	Evidence         string                  `json:"evidence,omitempty"`
}

// Hits is the total number of keyword matches.
func (r PatternResult) Hits() int { return r.HierarchicalHits + r.SequentialHits }

// familyScore tallies one family's matches per relationship type.
type familyScore struct {
	total    int
	byType   map[model.RelationshipType]int
	order    []model.RelationshipType
	evidence string
}

// span is one keyword match; pattern indexes the family slice.
type span struct {
	start, end int
	pattern    int
}

// scoreFamily counts non-overlapping matches across the family. Where
// matches overlap, the earliest and then longest wins, so "is a type of"
// is one hit rather than one per pattern it satisfies.
func scoreFamily(text string, patterns []Pattern) familyScore {
	fs := familyScore{byType: make(map[model.RelationshipType]int)}

	var spans []span
	for i, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], pattern: i})
		}
	}
	slices.SortFunc(spans, func(a, b span) int {
		if a.start != b.start {
			return cmp.Compare(a.start, b.start)
		}
		if a.end != b.end {
			return cmp.Compare(b.end, a.end)
		}
		return cmp.Compare(a.pattern, b.pattern)
	})

	perPattern := make([]int, len(patterns))
	firstMatch := make([]string, len(patterns))
	last := -1
	for _, sp := range spans {
		if sp.start < last {
			continue
		}
		last = sp.end
		if perPattern[sp.pattern] == 0 {
			firstMatch[sp.pattern] = text[sp.start:sp.end]
		}
		perPattern[sp.pattern]++
		fs.total++
	}

	for i, p := range patterns {
		n := perPattern[i]
		if n == 0 {
			continue
		}
		if _, seen := fs.byType[p.Type]; !seen {
			fs.order = append(fs.order, p.Type)
		}
		fs.byType[p.Type] += n
		if fs.evidence == "" {
			fs.evidence = strings.ToLower(firstMatch[i])
		}
	}
	return fs
}

// bestType returns the type with the most matches, earliest pattern first
// on ties.
func (fs familyScore) bestType() model.RelationshipType {
	var best model.RelationshipType
	bestN := 0
	for _, t := range fs.order {
		if fs.byType[t] > bestN {
			best, bestN = t, fs.byType[t]
		}
	}
	return best
}

// Score counts keyword family matches in text. Equal counts, including none,
// are unclassified. Confidence is 0.6 x dominance + 0.4 x min(1, hits/5).
func (f *Families) Score(text string) PatternResult {
	h := scoreFamily(text, f.Hierarchical)
	s := scoreFamily(text, f.Sequential)
	res := PatternResult{HierarchicalHits: h.total, SequentialHits: s.total}

	total := h.total + s.total
	if total == 0 {
		res.Category = model.CategoryUnclassified
		res.Type = model.RelRelatedTo
		return res
	}

	winner := max(h.total, s.total)
	res.Confidence = dominanceWeight*float64(winner)/float64(total) +
		volumeWeight*min(1, float64(total)/volumeSaturate)

	switch {
	case h.total > s.total:
		res.Category = model.CategoryHierarchical
		res.Type = h.bestType()
		res.Evidence = h.evidence
	case s.total > h.total:
		res.Category = model.CategorySequential
		res.Type = s.bestType()
		res.Evidence = s.evidence
	default:
		res.Category = model.CategoryUnclassified
		res.Type = model.RelRelatedTo
	}
	return res
}

// PatternScore scores a concept pair over both concepts' definitions and
// source sentences. A sentence shared by both is counted once.
func (f *Families) PatternScore(a, b *model.Concept) PatternResult {
	return f.Score(pairText(a, b))
}

func pairText(a, b *model.Concept) string {
	var parts []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		parts = append(parts, s)
	}
	for _, c := range []*model.Concept{a, b} {
		add(c.Definition)
		for _, s := range c.SourceSentences {
			add(s)
		}
	}
	return strings.Join(parts, "\n")
}
