package extract

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/hierarchy"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/pkg/embedding"
)

const (
	// DefaultTopN is the number of concepts kept per document.
	DefaultTopN = 25

	maxSourceSentences = 3
)

// BuildResult is the output of Builder.Build.
type BuildResult struct {
	Concepts   []model.Concept
	LLMCostUSD float64
	// Degraded lists optional steps that failed and were skipped.
	Degraded []string
}

// Builder turns parse output into located, defined concepts.
type Builder struct {
	ensemble *Ensemble
	definer  *Definer
	embedder embedding.Client
	topN     int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDefiner attaches LLM definitions. Without one, definitions fall back
// to the first source sentence.
func WithDefiner(d *Definer) BuilderOption { return func(b *Builder) { b.definer = d } }

// WithEmbedder stores a term embedding on each concept.
func WithEmbedder(c embedding.Client) BuilderOption { return func(b *Builder) { b.embedder = c } }

// NewBuilder creates a Builder.
func NewBuilder(ensemble *Ensemble, topN int, opts ...BuilderOption) *Builder {
	if topN <= 0 {
		topN = DefaultTopN
	}
	b := &Builder{ensemble: ensemble, topN: topN}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build extracts concepts for docID. Only an ensemble failure is returned
// as an error; definition and embedding failures mark the result degraded.
func (b *Builder) Build(ctx context.Context, docID string, parse *model.ParseResult, nodes []model.HierarchyNode) (*BuildResult, error) {
	log := zap.L().With(zap.String("document_id", docID))
	out := &BuildResult{}
	if parse == nil {
		return out, nil
	}

	concepts, err := b.ensemble.Extract(ctx, parse.Text, b.topN)
	if err != nil {
		return nil, err
	}
	sentences := Sentences(parse.Text)

	for i := range concepts {
		c := &concepts[i]
		c.ID = ConceptID(docID, c.Term)
		c.DocumentID = docID
		c.SourceSentences = sentencesWith(sentences, c.Term, maxSourceSentences)
		c.PageNumbers = pagesWith(parse.PageTexts, c.Term)
		locate(c, nodes)
	}

	if b.definer != nil && len(concepts) > 0 {
		terms := make([]string, len(concepts))
		for i, c := range concepts {
			terms[i] = c.Term
		}
		defs, cost, err := b.definer.Define(ctx, parse.Text, terms)
		out.LLMCostUSD = cost
		if err != nil {
			log.Warn("extract: definitions unavailable, using source sentences", zap.Error(err))
			out.Degraded = append(out.Degraded, "define")
		}
		for i := range concepts {
			def, ok := defs[Key(concepts[i].Term)]
			if !ok {
				continue
			}
			concepts[i].Definition = def.Definition
			if len(concepts[i].SourceSentences) == 0 && len(def.SourceSentences) > 0 {
				concepts[i].SourceSentences = def.SourceSentences[:min(len(def.SourceSentences), maxSourceSentences)]
			}
		}
	}
	for i := range concepts {
		if concepts[i].Definition == "" && len(concepts[i].SourceSentences) > 0 {
			concepts[i].Definition = concepts[i].SourceSentences[0]
		}
	}

	if b.embedder != nil && len(concepts) > 0 {
		terms := make([]string, len(concepts))
		for i, c := range concepts {
			terms[i] = c.Term
		}
		vecs := b.embedder.EmbedBatch(ctx, terms)
		missing := 0
		for i := range concepts {
			if i < len(vecs) && vecs[i] != nil {
				concepts[i].Embedding = vecs[i]
			} else {
				missing++
			}
		}
		if missing > 0 {
			log.Warn("extract: some concept embeddings missing", zap.Int("missing", missing))
			out.Degraded = append(out.Degraded, "embed")
		}
	}

	log.Info("extract: concepts built",
		zap.Int("concepts", len(concepts)),
		zap.Strings("strategies", b.ensemble.Strategies()),
	)
	out.Concepts = concepts
	return out, nil
}

func sentencesWith(sentences []string, term string, limit int) []string {
	var out []string
	for _, s := range sentences {
		if containsFold(s, term) {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func pagesWith(pages []string, term string) []int {
	var out []int
	for i, p := range pages {
		if containsFold(p, term) {
			out = append(out, i+1)
		}
	}
	return out
}

// locate places a concept in the deepest section covering its first page,
// or the first root section when its pages are unknown.
func locate(c *model.Concept, nodes []model.HierarchyNode) {
	if len(nodes) == 0 {
		return
	}
	var n *model.HierarchyNode
	if len(c.PageNumbers) > 0 {
		n = hierarchy.Locate(nodes, c.PageNumbers[0])
	}
	if n == nil {
		n = &nodes[0]
	}
	c.StructureID = n.ID
	c.StructureType = n.Kind
}

// ConceptID derives a stable ID from the document and the folded term, so
// reprocessing a document upserts the same rows.
func ConceptID(docID, term string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID+"\x00"+Key(term))).String()
}
