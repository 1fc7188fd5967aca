package extract

import (
	"context"
	"math"
	"sort"
)

const (
	textRankDamping    = 0.85
	textRankIterations = 50
	textRankTolerance  = 1e-6
	textRankWindow     = 3
)

// GraphStrategy ranks words with TextRank over a co-occurrence graph built
// from a sliding window across each sentence's content words. A phrase
// scores the sum of its word ranks.
type GraphStrategy struct {
	maxNgram int
	window   int
}

// NewGraphStrategy creates a GraphStrategy.
func NewGraphStrategy(maxNgram int) *GraphStrategy {
	return &GraphStrategy{maxNgram: maxNgram, window: textRankWindow}
}

// Name implements Strategy.
func (g *GraphStrategy) Name() string { return "graph" }

// Available implements Strategy.
func (g *GraphStrategy) Available() bool { return true }

// Extract implements Strategy.
func (g *GraphStrategy) Extract(ctx context.Context, text string, n int) ([]Keyword, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cands, seqs := candidates(text, g.maxNgram)
	ranks := TextRank(seqs, g.window)

	kws := make([]Keyword, 0, len(cands))
	for _, c := range cands {
		var score float64
		for _, w := range c.words {
			score += ranks[Key(w)]
		}
		kws = append(kws, Keyword{Term: c.term, Score: score})
	}
	return topKeywords(kws, n), nil
}

// TextRank returns the rank of every word in seqs. Words within window
// positions of each other share an undirected edge weighted by how often
// they co-occur.
func TextRank(seqs [][]string, window int) map[string]float64 {
	if window < 2 {
		window = 2
	}
	index := make(map[string]int)
	var words []string
	id := func(w string) int {
		k := Key(w)
		if i, ok := index[k]; ok {
			return i
		}
		index[k] = len(words)
		words = append(words, k)
		return len(words) - 1
	}

	edges := make(map[int]map[int]float64)
	link := func(a, b int) {
		if a == b {
			return
		}
		if edges[a] == nil {
			edges[a] = make(map[int]float64)
		}
		edges[a][b]++
	}
	for _, seq := range seqs {
		ids := make([]int, len(seq))
		for i, w := range seq {
			ids[i] = id(w)
		}
		for i := range ids {
			for j := i + 1; j < len(ids) && j < i+window; j++ {
				link(ids[i], ids[j])
				link(ids[j], ids[i])
			}
		}
	}

	n := len(words)
	if n == 0 {
		return map[string]float64{}
	}
	outWeight := make([]float64, n)
	for a, nbrs := range edges {
		for _, w := range nbrs {
			outWeight[a] += w
		}
	}

	// Neighbours in a fixed order keep the float sums deterministic.
	type edge struct {
		from int
		w    float64
	}
	incoming := make([][]edge, n)
	for a, nbrs := range edges {
		for b, w := range nbrs {
			incoming[b] = append(incoming[b], edge{from: a, w: w})
		}
	}
	for i := range incoming {
		sort.Slice(incoming[i], func(x, y int) bool { return incoming[i][x].from < incoming[i][y].from })
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = 1
	}
	next := make([]float64, n)
	for iter := 0; iter < textRankIterations; iter++ {
		delta := 0.0
		for i := 0; i < n; i++ {
			sum := 0.0
			for _, e := range incoming[i] {
				sum += e.w / outWeight[e.from] * score[e.from]
			}
			next[i] = (1 - textRankDamping) + textRankDamping*sum
			delta = math.Max(delta, math.Abs(next[i]-score[i]))
		}
		score, next = next, score
		if delta < textRankTolerance {
			break
		}
	}

	ranks := make(map[string]float64, n)
	for i, w := range words {
		ranks[w] = score[i]
	}
	return ranks
}
