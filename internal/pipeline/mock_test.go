package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/docgraph/internal/cache"
	"github.com/sells-group/docgraph/internal/extract"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/store"
)

type mockFingerprinter struct{ mock.Mock }

func (m *mockFingerprinter) Fingerprint(ctx context.Context, path string) (*model.DocumentFingerprint, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentFingerprint), args.Error(1)
}

type mockDetector struct{ mock.Mock }

func (m *mockDetector) Classify(ctx context.Context, path string) (*model.DocumentTypeClassification, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentTypeClassification), args.Error(1)
}

type mockParser struct{ mock.Mock }

func (m *mockParser) Parse(ctx context.Context, path string, cls *model.DocumentTypeClassification) (*model.ParseResult, error) {
	args := m.Called(ctx, path, cls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ParseResult), args.Error(1)
}

type mockBuilder struct{ mock.Mock }

func (m *mockBuilder) Build(ctx context.Context, docID string, parse *model.ParseResult, nodes []model.HierarchyNode) (*extract.BuildResult, error) {
	args := m.Called(ctx, docID, parse, nodes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.BuildResult), args.Error(1)
}

// failingCache misses every lookup and rejects every store.
type failingCache struct{}

func (failingCache) Lookup(context.Context, string) (*cache.CachedResult, bool, error) {
	return nil, false, nil
}

func (failingCache) Store(context.Context, string, any, time.Duration) error {
	return errors.New("disk full")
}

// downStore is a store whose database is unreachable.
type downStore struct {
	*store.MemoryStore
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type recorder struct {
	mu      sync.Mutex
	results []*model.ProcessingResult
}

func (r *recorder) Record(res *model.ProcessingResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}
