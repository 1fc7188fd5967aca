// Package store persists the concept graph and the cost ledger.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/config"
	"github.com/sells-group/docgraph/internal/model"
)

// Merge describes one concept merge applied atomically by ApplyMerge.
type Merge struct {
	// Primary is the survivor with its merged fields already unioned.
	Primary     model.Concept
	DuplicateID string
}

// Store defines the persistence interface for the concept graph.
type Store interface {
	// Concepts
	UpsertConcepts(ctx context.Context, concepts []model.Concept) error
	GetConcept(ctx context.Context, id string) (*model.Concept, error)
	GetConceptsByDocument(ctx context.Context, documentID string) ([]model.Concept, error)

	// Relationships. A relationship is unique per (source, target) pair.
	UpsertRelationships(ctx context.Context, documentID string, rels []model.Relationship) error
	GetRelationshipsByDocument(ctx context.Context, documentID string) ([]model.Relationship, error)

	// ApplyMerge updates the primary, marks the duplicate merged into it and
	// redirects relationship endpoints, dropping self-loops and duplicates.
	ApplyMerge(ctx context.Context, m Merge) error

	// Cost ledger
	AppendCostEntry(ctx context.Context, entry model.CostEntry) error
	ListCostEntries(ctx context.Context, since time.Time) ([]model.CostEntry, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		s = NewMemory()
	case "sqlite", "":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
