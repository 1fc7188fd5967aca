package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/db"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_concept":              `SELECT ` + conceptColumns + ` FROM concepts WHERE id = $1`,
	"get_concepts_by_doc":      `SELECT ` + conceptColumns + ` FROM concepts WHERE document_id = $1 ORDER BY id`,
	"get_relationships_by_doc": `SELECT ` + relationshipColumns + ` FROM relationships WHERE document_id = $1 ORDER BY id`,
	"insert_cost_entry":        pgInsertCostEntry,
}

var conceptCols = []string{
	"id", "document_id", "term", "definition", "structure_id", "structure_type", "confidence",
	"methods_found", "extraction_methods", "source_sentences", "page_numbers", "embedding", "merged_into",
}

var relationshipCols = []string{
	"id", "document_id", "source_concept_id", "target_concept_id", "type", "structure_category",
	"strength", "validated_by_user", "evidence",
}

const pgUpsertConcept = `INSERT INTO concepts (` + conceptColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		definition = EXCLUDED.definition, confidence = EXCLUDED.confidence,
		methods_found = EXCLUDED.methods_found, extraction_methods = EXCLUDED.extraction_methods,
		source_sentences = EXCLUDED.source_sentences, page_numbers = EXCLUDED.page_numbers,
		embedding = EXCLUDED.embedding, merged_into = EXCLUDED.merged_into, updated_at = now()`

const pgInsertCostEntry = `INSERT INTO cost_entries (id, key, user_id, day, cost_usd, cache_hit, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id                 TEXT PRIMARY KEY,
	document_id        TEXT NOT NULL,
	term               TEXT NOT NULL,
	definition         TEXT NOT NULL DEFAULT '',
	structure_id       TEXT NOT NULL DEFAULT '',
	structure_type     TEXT NOT NULL DEFAULT '',
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	methods_found      INTEGER NOT NULL DEFAULT 0,
	extraction_methods JSONB NOT NULL DEFAULT '[]',
	source_sentences   JSONB NOT NULL DEFAULT '[]',
	page_numbers       JSONB NOT NULL DEFAULT '[]',
	embedding          JSONB NOT NULL DEFAULT '[]',
	merged_into        TEXT NOT NULL DEFAULT '',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relationships (
	id                 TEXT PRIMARY KEY,
	document_id        TEXT NOT NULL,
	source_concept_id  TEXT NOT NULL,
	target_concept_id  TEXT NOT NULL,
	type               TEXT NOT NULL,
	structure_category TEXT NOT NULL,
	strength           DOUBLE PRECISION NOT NULL DEFAULT 0,
	validated_by_user  BOOLEAN NOT NULL DEFAULT false,
	evidence           TEXT NOT NULL DEFAULT '',
	UNIQUE (source_concept_id, target_concept_id)
);

CREATE TABLE IF NOT EXISTS cost_entries (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	day         TEXT NOT NULL,
	cost_usd    DOUBLE PRECISION NOT NULL,
	cache_hit   BOOLEAN NOT NULL DEFAULT false,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_concepts_document_id ON concepts(document_id);
CREATE INDEX IF NOT EXISTS idx_relationships_document_id ON relationships(document_id);
CREATE INDEX IF NOT EXISTS idx_cost_entries_created_at ON cost_entries(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertConcepts bulk-upserts through a temp table and COPY.
func (s *PostgresStore) UpsertConcepts(ctx context.Context, concepts []model.Concept) error {
	rows := make([][]any, 0, len(concepts))
	for _, c := range concepts {
		if c.ID == "" {
			return eris.New("postgres: concept without id")
		}
		args, err := conceptArgs(c)
		if err != nil {
			return err
		}
		rows = append(rows, args)
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "concepts",
		Columns:      conceptCols,
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert concepts")
}

func (s *PostgresStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE id = $1`, id)
	c, err := scanConcept(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(resilience.ErrNotFound, "postgres: concept %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get concept")
	}
	return c, nil
}

func (s *PostgresStore) GetConceptsByDocument(ctx context.Context, documentID string) ([]model.Concept, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list concepts")
	}
	defer rows.Close()

	var out []model.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan concept")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list concepts iterate")
}

// UpsertRelationships bulk-upserts keyed on the (source, target) pair.
func (s *PostgresStore) UpsertRelationships(ctx context.Context, documentID string, rels []model.Relationship) error {
	rows := make([][]any, 0, len(rels))
	for _, r := range rels {
		rows = append(rows, []any{
			r.ID, documentID, r.SourceConceptID, r.TargetConceptID, string(r.Type),
			string(r.StructureCategory), r.Strength, r.ValidatedByUser, r.Evidence,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "relationships",
		Columns:      relationshipCols,
		ConflictKeys: []string{"source_concept_id", "target_concept_id"},
		UpdateCols:   []string{"document_id", "type", "structure_category", "strength", "validated_by_user", "evidence"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert relationships")
}

func (s *PostgresStore) GetRelationshipsByDocument(ctx context.Context, documentID string) ([]model.Relationship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list relationships")
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		var r model.Relationship
		var typ, cat string
		if err := rows.Scan(&r.ID, &r.SourceConceptID, &r.TargetConceptID, &typ,
			&cat, &r.Strength, &r.ValidatedByUser, &r.Evidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan relationship")
		}
		r.Type = model.RelationshipType(typ)
		r.StructureCategory = model.StructureCategory(cat)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list relationships iterate")
}

func (s *PostgresStore) ApplyMerge(ctx context.Context, m Merge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: apply merge: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	args, err := conceptArgs(m.Primary)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, pgUpsertConcept, args...); err != nil {
		return eris.Wrapf(err, "postgres: update primary %s", m.Primary.ID)
	}

	tag, err := tx.Exec(ctx, `UPDATE concepts SET merged_into = $1, updated_at = now() WHERE id = $2`,
		m.Primary.ID, m.DuplicateID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark %s merged", m.DuplicateID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(resilience.ErrNotFound, "postgres: concept %s", m.DuplicateID)
	}

	for _, stmt := range []string{
		`UPDATE relationships r SET source_concept_id = $1 WHERE r.source_concept_id = $2
		 AND NOT EXISTS (SELECT 1 FROM relationships x WHERE x.source_concept_id = $1 AND x.target_concept_id = r.target_concept_id)`,
		`UPDATE relationships r SET target_concept_id = $1 WHERE r.target_concept_id = $2
		 AND NOT EXISTS (SELECT 1 FROM relationships x WHERE x.target_concept_id = $1 AND x.source_concept_id = r.source_concept_id)`,
	} {
		if _, err := tx.Exec(ctx, stmt, m.Primary.ID, m.DuplicateID); err != nil {
			return eris.Wrap(err, "postgres: redirect relationships")
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM relationships
		WHERE source_concept_id = $1 OR target_concept_id = $1 OR source_concept_id = target_concept_id`,
		m.DuplicateID); err != nil {
		return eris.Wrap(err, "postgres: drop stale relationships")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: apply merge: commit")
}

func (s *PostgresStore) AppendCostEntry(ctx context.Context, e model.CostEntry) error {
	_, err := s.pool.Exec(ctx, pgInsertCostEntry,
		e.ID, e.Key, e.UserID, e.Day, e.CostUSD, e.CacheHit, e.DurationMs, e.CreatedAt)
	return eris.Wrap(err, "postgres: append cost entry")
}

func (s *PostgresStore) ListCostEntries(ctx context.Context, since time.Time) ([]model.CostEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key, user_id, day, cost_usd, cache_hit, duration_ms, created_at
		 FROM cost_entries WHERE created_at >= $1 ORDER BY created_at`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cost entries")
	}
	defer rows.Close()

	var out []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.UserID, &e.Day, &e.CostUSD, &e.CacheHit, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost entry")
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list cost entries iterate")
}
