package extract

import (
	"context"
	"math"
	"sort"
	"strings"
)

// DefaultMaxNgram is the longest candidate phrase in words.
const DefaultMaxNgram = 3

// Keyword is one scored term from a strategy.
type Keyword struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// Strategy is one independent keyword extraction method.
type Strategy interface {
	Name() string
	// Available reports whether the strategy's dependencies are present.
	Available() bool
	Extract(ctx context.Context, text string, n int) ([]Keyword, error)
}

// candidate is a phrase shared by every strategy so votes can agree.
type candidate struct {
	term  string
	key   string
	words []string
	count int
}

// candidates returns the candidate phrases of text in first-seen order plus
// the content-word sequence of each sentence.
func candidates(text string, maxNgram int) ([]*candidate, [][]string) {
	if maxNgram <= 0 {
		maxNgram = DefaultMaxNgram
	}
	index := make(map[string]*candidate)
	var order []*candidate
	var seqs [][]string

	for _, s := range Sentences(text) {
		var seq []string
		for _, p := range phrases(s, maxNgram) {
			words := make([]string, len(p))
			for i, w := range p {
				words[i] = normalizeWord(w)
			}
			seq = append(seq, words...)
			term := strings.Join(words, " ")
			key := Key(term)
			c, ok := index[key]
			if !ok {
				c = &candidate{term: term, key: key, words: words}
				index[key] = c
				order = append(order, c)
			}
			c.count++
		}
		if len(seq) > 0 {
			seqs = append(seqs, seq)
		}
	}
	return order, seqs
}

// normalizeWord lower-cases a word unless it is an acronym.
func normalizeWord(w string) string {
	if isAcronym(w) {
		return w
	}
	return strings.ToLower(w)
}

// topKeywords sorts by score descending, then term, and keeps n.
func topKeywords(kws []Keyword, n int) []Keyword {
	sort.SliceStable(kws, func(i, j int) bool {
		if kws[i].Score != kws[j].Score {
			return kws[i].Score > kws[j].Score
		}
		return kws[i].Term < kws[j].Term
	})
	if n > 0 && len(kws) > n {
		kws = kws[:n]
	}
	return kws
}

// Normalize scales scores into [0,1] by the maximum score. Non-positive
// scores are dropped.
func Normalize(kws []Keyword) []Keyword {
	maxScore := 0.0
	for _, k := range kws {
		maxScore = math.Max(maxScore, k.Score)
	}
	if maxScore <= 0 {
		return nil
	}
	out := make([]Keyword, 0, len(kws))
	for _, k := range kws {
		if k.Score <= 0 {
			continue
		}
		out = append(out, Keyword{Term: k.Term, Score: math.Min(1, k.Score/maxScore)})
	}
	return out
}

// StatisticalStrategy scores phrases RAKE-style: each word scores its
// co-occurrence degree over its frequency, a phrase sums its words and is
// boosted by how often it recurs.
type StatisticalStrategy struct {
	maxNgram int
}

// NewStatisticalStrategy creates a StatisticalStrategy.
func NewStatisticalStrategy(maxNgram int) *StatisticalStrategy {
	return &StatisticalStrategy{maxNgram: maxNgram}
}

// Name implements Strategy.
func (s *StatisticalStrategy) Name() string { return "statistical" }

// Available implements Strategy.
func (s *StatisticalStrategy) Available() bool { return true }

// Extract implements Strategy.
func (s *StatisticalStrategy) Extract(ctx context.Context, text string, n int) ([]Keyword, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cands, _ := candidates(text, s.maxNgram)

	freq := make(map[string]float64)
	degree := make(map[string]float64)
	for _, c := range cands {
		for _, w := range c.words {
			key := Key(w)
			freq[key] += float64(c.count)
			degree[key] += float64(c.count * len(c.words))
		}
	}

	kws := make([]Keyword, 0, len(cands))
	for _, c := range cands {
		var score float64
		for _, w := range c.words {
			key := Key(w)
			score += degree[key] / freq[key]
		}
		score *= math.Log2(1 + float64(c.count))
		kws = append(kws, Keyword{Term: c.term, Score: score})
	}
	return topKeywords(kws, n), nil
}
