// Package dedupe finds and merges near-duplicate concepts.
package dedupe

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/store"
)

// DefaultThreshold is the minimum similarity for a duplicate pair.
const DefaultThreshold = 0.85

// Repository is the slice of the concept store the deduplicator needs.
type Repository interface {
	GetConcept(ctx context.Context, id string) (*model.Concept, error)
	GetConceptsByDocument(ctx context.Context, documentID string) ([]model.Concept, error)
	UpsertConcepts(ctx context.Context, concepts []model.Concept) error
	ApplyMerge(ctx context.Context, m store.Merge) error
}

// DuplicatePair is two concepts judged to name the same thing.
type DuplicatePair struct {
	A      model.Concept `json:"a"`
	B      model.Concept `json:"b"`
	Score  float64       `json:"score"`
	Reason Reason        `json:"reason"`
}

// Deduplicator scores, finds, and merges duplicate concepts.
type Deduplicator struct {
	repo      Repository
	threshold float64
}

// New creates a Deduplicator. repo may be nil when only in-memory
// operations are used.
func New(repo Repository, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{repo: repo, threshold: threshold}
}

// Threshold returns the configured duplicate threshold.
func (d *Deduplicator) Threshold() float64 { return d.threshold }

// FindDuplicates loads a document's concepts and returns the pairs scoring
// at or above threshold. A non-positive threshold uses the configured one.
func (d *Deduplicator) FindDuplicates(ctx context.Context, documentID string, threshold float64) ([]DuplicatePair, error) {
	if d.repo == nil {
		return nil, eris.New("dedupe: no repository configured")
	}
	concepts, err := d.repo.GetConceptsByDocument(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "dedupe: load concepts for %s", documentID)
	}
	if threshold <= 0 {
		threshold = d.threshold
	}
	return FindInSet(concepts, threshold), nil
}

// FindInSet scores every pair of unmerged concepts and returns those at or
// above threshold, best first.
func FindInSet(concepts []model.Concept, threshold float64) []DuplicatePair {
	var pairs []DuplicatePair
	for i := range concepts {
		if concepts[i].IsMerged() {
			continue
		}
		for j := i + 1; j < len(concepts); j++ {
			if concepts[j].IsMerged() {
				continue
			}
			score, reason := Similarity(&concepts[i], &concepts[j])
			if score >= threshold {
				pairs = append(pairs, DuplicatePair{A: concepts[i], B: concepts[j], Score: score, Reason: reason})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Score > pairs[j].Score })
	return pairs
}

// Collapse merges duplicates within an in-memory set. Duplicates stay in
// the returned slice with MergedInto set. A concept already merged in this
// pass is not merged again.
func (d *Deduplicator) Collapse(concepts []model.Concept) ([]model.Concept, []DuplicatePair) {
	out := append([]model.Concept(nil), concepts...)
	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.ID] = i
	}

	pairs := FindInSet(out, d.threshold)
	var applied []DuplicatePair
	for _, p := range pairs {
		pi, di := index[p.A.ID], index[p.B.ID]
		if !preferFirst(&out[pi], &out[di]) {
			pi, di = di, pi
		}
		if out[pi].IsMerged() || out[di].IsMerged() {
			continue
		}
		out[pi] = Merge(out[pi], out[di])
		out[di].MergedInto = out[pi].ID
		applied = append(applied, p)
	}
	if len(applied) > 0 {
		zap.L().Debug("dedupe: collapsed duplicates", zap.Int("merged", len(applied)), zap.Int("concepts", len(out)))
	}
	return out, applied
}

// preferFirst picks the survivor of a merge: higher confidence, then the
// longer term, then the smaller ID.
func preferFirst(a, b *model.Concept) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if len(a.Term) != len(b.Term) {
		return len(a.Term) > len(b.Term)
	}
	return a.ID < b.ID
}

// Merge folds the evidence of dup into primary and returns the result.
func Merge(primary, dup model.Concept) model.Concept {
	primary.ExtractionMethods = union(primary.ExtractionMethods, dup.ExtractionMethods)
	primary.SourceSentences = union(primary.SourceSentences, dup.SourceSentences)
	primary.PageNumbers = union(primary.PageNumbers, dup.PageNumbers)
	sort.Ints(primary.PageNumbers)
	primary.MethodsFound = max(primary.MethodsFound, dup.MethodsFound, len(primary.ExtractionMethods))
	primary.Confidence = max(primary.Confidence, dup.Confidence)
	if primary.Definition == "" {
		primary.Definition = dup.Definition
	}
	if len(primary.Embedding) == 0 {
		primary.Embedding = dup.Embedding
	}
	if primary.StructureID == "" {
		primary.StructureID = dup.StructureID
		primary.StructureType = dup.StructureType
	}
	return primary
}

func union[T comparable](a, b []T) []T {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(a)+len(b))
	out := make([]T, 0, len(a)+len(b))
	for _, list := range [][]T{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// MergeConcepts merges duplicateID into primaryID in the repository. The
// primary receives the duplicate's evidence and its relationship endpoints;
// the duplicate is soft-deleted via MergedInto.
func (d *Deduplicator) MergeConcepts(ctx context.Context, primaryID, duplicateID string) (*model.Concept, error) {
	if d.repo == nil {
		return nil, eris.New("dedupe: no repository configured")
	}
	if primaryID == duplicateID {
		return nil, eris.Errorf("dedupe: cannot merge concept %s into itself", primaryID)
	}
	primary, err := d.repo.GetConcept(ctx, primaryID)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load primary")
	}
	dup, err := d.repo.GetConcept(ctx, duplicateID)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load duplicate")
	}
	if primary.IsMerged() {
		return nil, eris.Errorf("dedupe: primary %s is merged into %s", primaryID, primary.MergedInto)
	}
	if dup.IsMerged() {
		return nil, eris.Errorf("dedupe: duplicate %s is already merged into %s", duplicateID, dup.MergedInto)
	}

	merged := Merge(*primary, *dup)
	if err := d.repo.ApplyMerge(ctx, store.Merge{Primary: merged, DuplicateID: duplicateID}); err != nil {
		return nil, eris.Wrapf(err, "dedupe: merge %s into %s", duplicateID, primaryID)
	}
	zap.L().Info("dedupe: merged concepts",
		zap.String("primary", primaryID),
		zap.String("duplicate", duplicateID),
	)
	return &merged, nil
}

// UndoMerge clears MergedInto on a merged concept. Relationship endpoints
// redirected by the merge and evidence copied onto the primary are not
// restored.
func (d *Deduplicator) UndoMerge(ctx context.Context, id string) (*model.Concept, error) {
	if d.repo == nil {
		return nil, eris.New("dedupe: no repository configured")
	}
	c, err := d.repo.GetConcept(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load concept")
	}
	if !c.IsMerged() {
		return c, nil
	}
	primary := c.MergedInto
	c.MergedInto = ""
	if err := d.repo.UpsertConcepts(ctx, []model.Concept{*c}); err != nil {
		return nil, eris.Wrapf(err, "dedupe: undo merge of %s", id)
	}
	zap.L().Warn("dedupe: merge undone, relationships stay on primary",
		zap.String("concept", id),
		zap.String("primary", primary),
	)
	return c, nil
}

// Resolve returns the concept for id, following MergedInto one hop.
func (d *Deduplicator) Resolve(ctx context.Context, id string) (*model.Concept, error) {
	if d.repo == nil {
		return nil, eris.New("dedupe: no repository configured")
	}
	c, err := d.repo.GetConcept(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: resolve")
	}
	if !c.IsMerged() {
		return c, nil
	}
	target, err := d.repo.GetConcept(ctx, c.MergedInto)
	if err != nil {
		return nil, eris.Wrapf(err, "dedupe: resolve %s -> %s", id, c.MergedInto)
	}
	return target, nil
}
