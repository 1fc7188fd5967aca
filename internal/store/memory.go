package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

type pairKey struct{ source, target string }

type storedRel struct {
	documentID string
	rel        model.Relationship
}

// MemoryStore implements Store in process memory. The pipeline falls back to
// it when the configured store is unreachable.
type MemoryStore struct {
	mu       sync.RWMutex
	concepts map[string]model.Concept
	rels     map[pairKey]storedRel
	costs    []model.CostEntry
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		concepts: make(map[string]model.Concept),
		rels:     make(map[pairKey]storedRel),
	}
}

func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) UpsertConcepts(_ context.Context, concepts []model.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range concepts {
		if c.ID == "" {
			return eris.New("memory: concept without id")
		}
		s.concepts[c.ID] = cloneConcept(c)
	}
	return nil
}

func (s *MemoryStore) GetConcept(_ context.Context, id string) (*model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[id]
	if !ok {
		return nil, eris.Wrapf(resilience.ErrNotFound, "memory: concept %s", id)
	}
	out := cloneConcept(c)
	return &out, nil
}

func (s *MemoryStore) GetConceptsByDocument(_ context.Context, documentID string) ([]model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Concept
	for _, c := range s.concepts {
		if c.DocumentID == documentID {
			out = append(out, cloneConcept(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertRelationships(_ context.Context, documentID string, rels []model.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rels {
		s.rels[pairKey{r.SourceConceptID, r.TargetConceptID}] = storedRel{documentID: documentID, rel: r}
	}
	return nil
}

func (s *MemoryStore) GetRelationshipsByDocument(_ context.Context, documentID string) ([]model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Relationship
	for _, sr := range s.rels {
		if sr.documentID == documentID {
			out = append(out, sr.rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ApplyMerge(_ context.Context, m Merge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup, ok := s.concepts[m.DuplicateID]
	if !ok {
		return eris.Wrapf(resilience.ErrNotFound, "memory: concept %s", m.DuplicateID)
	}
	s.concepts[m.Primary.ID] = cloneConcept(m.Primary)
	dup.MergedInto = m.Primary.ID
	s.concepts[dup.ID] = dup

	redirected := make(map[pairKey]storedRel, len(s.rels))
	for k, sr := range s.rels {
		if k.source != m.DuplicateID && k.target != m.DuplicateID {
			redirected[k] = sr
		}
	}
	for k, sr := range s.rels {
		if k.source != m.DuplicateID && k.target != m.DuplicateID {
			continue
		}
		if k.source == m.DuplicateID {
			k.source = m.Primary.ID
			sr.rel.SourceConceptID = m.Primary.ID
		}
		if k.target == m.DuplicateID {
			k.target = m.Primary.ID
			sr.rel.TargetConceptID = m.Primary.ID
		}
		if k.source == k.target {
			continue
		}
		if _, exists := redirected[k]; exists {
			continue
		}
		redirected[k] = sr
	}
	s.rels = redirected
	return nil
}

func (s *MemoryStore) AppendCostEntry(_ context.Context, entry model.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs = append(s.costs, entry)
	return nil
}

func (s *MemoryStore) ListCostEntries(_ context.Context, since time.Time) ([]model.CostEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CostEntry
	for _, e := range s.costs {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func cloneConcept(c model.Concept) model.Concept {
	c.ExtractionMethods = append([]string(nil), c.ExtractionMethods...)
	c.SourceSentences = append([]string(nil), c.SourceSentences...)
	c.PageNumbers = append([]int(nil), c.PageNumbers...)
	c.Embedding = append([]float32(nil), c.Embedding...)
	return c
}
