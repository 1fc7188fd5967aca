package relations

import (
	"math"

	"github.com/sells-group/docgraph/internal/extract"
	"github.com/sells-group/docgraph/internal/model"
)

// DefaultMaxPageGap is the largest page distance at which two concepts
// count as nearby.
const DefaultMaxPageGap = 1

// Gate names the context signal that admitted a candidate pair.
type Gate string

const (
	GateSharedSentence Gate = "shared_sentence"
	GateNearbyPages    Gate = "nearby_pages"
	GateMention        Gate = "mention"
	GateSharedNeighbor Gate = "shared_neighbor"
)

// Pair is a candidate concept pair, oriented source to target.
type Pair struct {
	Source *model.Concept
	Target *model.Concept
	Gate   Gate
}

// Candidates returns the unmerged concept pairs that co-occur: a shared
// source sentence, pages within maxPageGap, a textual mention of one term in
// the other's text, or at least one neighbor co-occurring with both.
func Candidates(concepts []model.Concept, maxPageGap int) []Pair {
	if maxPageGap < 0 {
		maxPageGap = DefaultMaxPageGap
	}
	var live []int
	for i := range concepts {
		if !concepts[i].IsMerged() {
			live = append(live, i)
		}
	}

	n := len(live)
	direct := make([][]Gate, n)
	for i := range direct {
		direct[i] = make([]Gate, n)
	}
	neighbors := make([]map[int]struct{}, n)
	for i := range neighbors {
		neighbors[i] = make(map[int]struct{})
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g := directGate(&concepts[live[i]], &concepts[live[j]], maxPageGap)
			if g == "" {
				continue
			}
			direct[i][j], direct[j][i] = g, g
			neighbors[i][j] = struct{}{}
			neighbors[j][i] = struct{}{}
		}
	}

	var pairs []Pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g := direct[i][j]
			if g == "" && sharesNeighbor(neighbors[i], neighbors[j]) {
				g = GateSharedNeighbor
			}
			if g == "" {
				continue
			}
			src, tgt := orient(&concepts[live[i]], &concepts[live[j]])
			pairs = append(pairs, Pair{Source: src, Target: tgt, Gate: g})
		}
	}
	return pairs
}

func directGate(a, b *model.Concept, maxPageGap int) Gate {
	switch {
	case sharesSentence(a, b):
		return GateSharedSentence
	case nearbyPages(a.PageNumbers, b.PageNumbers, maxPageGap):
		return GateNearbyPages
	case mentions(a, b) || mentions(b, a):
		return GateMention
	}
	return ""
}

func sharesSentence(a, b *model.Concept) bool {
	for _, s := range a.SourceSentences {
		for _, t := range b.SourceSentences {
			if s == t {
				return true
			}
		}
	}
	return false
}

func nearbyPages(a, b []int, gap int) bool {
	for _, p := range a {
		for _, q := range b {
			if abs(p-q) <= gap {
				return true
			}
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// mentions reports whether a's definition or sentences mention b's term.
func mentions(a, b *model.Concept) bool {
	if extract.Mentions(a.Definition, b.Term) {
		return true
	}
	for _, s := range a.SourceSentences {
		if extract.Mentions(s, b.Term) {
			return true
		}
	}
	return false
}

func sharesNeighbor(a, b map[int]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// orient puts the concept whose text mentions the other first. Otherwise
// the earlier page goes first, then the input order.
func orient(a, b *model.Concept) (*model.Concept, *model.Concept) {
	am, bm := mentions(a, b), mentions(b, a)
	switch {
	case am && !bm:
		return a, b
	case bm && !am:
		return b, a
	}
	if fa, fb := firstPage(a), firstPage(b); fb < fa {
		return b, a
	}
	return a, b
}

func firstPage(c *model.Concept) int {
	if len(c.PageNumbers) == 0 {
		return math.MaxInt
	}
	first := c.PageNumbers[0]
	for _, p := range c.PageNumbers[1:] {
		first = min(first, p)
	}
	return first
}
