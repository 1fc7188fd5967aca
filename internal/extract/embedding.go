package extract

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/pkg/embedding"
)

const (
	defaultMaxCandidates = 60
	defaultMaxDocChars   = 8000
)

// EmbeddingStrategy ranks candidate phrases by cosine similarity between
// their embedding and the document's embedding (KeyBERT style).
type EmbeddingStrategy struct {
	client        embedding.Client
	maxNgram      int
	maxCandidates int
	maxDocChars   int
}

// NewEmbeddingStrategy creates an EmbeddingStrategy. A nil client makes the
// strategy unavailable.
func NewEmbeddingStrategy(client embedding.Client, maxNgram int) *EmbeddingStrategy {
	return &EmbeddingStrategy{
		client:        client,
		maxNgram:      maxNgram,
		maxCandidates: defaultMaxCandidates,
		maxDocChars:   defaultMaxDocChars,
	}
}

// Name implements Strategy.
func (e *EmbeddingStrategy) Name() string { return "embedding" }

// Available implements Strategy.
func (e *EmbeddingStrategy) Available() bool { return e.client != nil }

// Extract implements Strategy. Only the most frequent candidates are
// embedded to bound the number of embedding calls.
func (e *EmbeddingStrategy) Extract(ctx context.Context, text string, n int) ([]Keyword, error) {
	if e.client == nil {
		return nil, eris.New("extract: embedding strategy has no client")
	}
	cands, _ := candidates(text, e.maxNgram)
	if len(cands) == 0 {
		return nil, nil
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].count > cands[j].count })
	if len(cands) > e.maxCandidates {
		cands = cands[:e.maxCandidates]
	}

	doc := text
	if r := []rune(doc); len(r) > e.maxDocChars {
		doc = string(r[:e.maxDocChars])
	}
	docVec, err := e.client.Embed(ctx, doc)
	if err != nil {
		return nil, eris.Wrap(err, "extract: embed document")
	}

	terms := make([]string, len(cands))
	for i, c := range cands {
		terms[i] = c.term
	}
	vecs := e.client.EmbedBatch(ctx, terms)

	kws := make([]Keyword, 0, len(cands))
	for i, c := range cands {
		if i >= len(vecs) || vecs[i] == nil {
			continue
		}
		if sim := Cosine(docVec, vecs[i]); sim > 0 {
			kws = append(kws, Keyword{Term: c.term, Score: sim})
		}
	}
	return topKeywords(kws, n), nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
