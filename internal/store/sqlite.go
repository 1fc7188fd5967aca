package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id                 TEXT PRIMARY KEY,
	document_id        TEXT NOT NULL,
	term               TEXT NOT NULL,
	definition         TEXT NOT NULL DEFAULT '',
	structure_id       TEXT NOT NULL DEFAULT '',
	structure_type     TEXT NOT NULL DEFAULT '',
	confidence         REAL NOT NULL DEFAULT 0,
	methods_found      INTEGER NOT NULL DEFAULT 0,
	extraction_methods TEXT NOT NULL DEFAULT '[]',
	source_sentences   TEXT NOT NULL DEFAULT '[]',
	page_numbers       TEXT NOT NULL DEFAULT '[]',
	embedding          TEXT NOT NULL DEFAULT '[]',
	merged_into        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS relationships (
	id                 TEXT PRIMARY KEY,
	document_id        TEXT NOT NULL,
	source_concept_id  TEXT NOT NULL,
	target_concept_id  TEXT NOT NULL,
	type               TEXT NOT NULL,
	structure_category TEXT NOT NULL,
	strength           REAL NOT NULL DEFAULT 0,
	validated_by_user  INTEGER NOT NULL DEFAULT 0,
	evidence           TEXT NOT NULL DEFAULT '',
	UNIQUE (source_concept_id, target_concept_id)
);

CREATE TABLE IF NOT EXISTS cost_entries (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	day         TEXT NOT NULL,
	cost_usd    REAL NOT NULL,
	cache_hit   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_concepts_document_id ON concepts(document_id);
CREATE INDEX IF NOT EXISTS idx_relationships_document_id ON relationships(document_id);
CREATE INDEX IF NOT EXISTS idx_cost_entries_created_at ON cost_entries(created_at);
`

const conceptColumns = `id, document_id, term, definition, structure_id, structure_type, confidence,
	methods_found, extraction_methods, source_sentences, page_numbers, embedding, merged_into`

const relationshipColumns = `id, source_concept_id, target_concept_id, type, structure_category,
	strength, validated_by_user, evidence`

const sqliteUpsertConcept = `INSERT INTO concepts (` + conceptColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		document_id = excluded.document_id, term = excluded.term, definition = excluded.definition,
		structure_id = excluded.structure_id, structure_type = excluded.structure_type,
		confidence = excluded.confidence, methods_found = excluded.methods_found,
		extraction_methods = excluded.extraction_methods, source_sentences = excluded.source_sentences,
		page_numbers = excluded.page_numbers, embedding = excluded.embedding, merged_into = excluded.merged_into`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertConcepts(ctx context.Context, concepts []model.Concept) error {
	if len(concepts) == 0 {
		return nil
	}
	return s.inTx(ctx, "upsert concepts", func(tx *sql.Tx) error {
		for _, c := range concepts {
			if err := upsertConceptTx(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertConceptTx(ctx context.Context, tx *sql.Tx, c model.Concept) error {
	args, err := conceptArgs(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, sqliteUpsertConcept, args...)
	return eris.Wrapf(err, "sqlite: upsert concept %s", c.ID)
}

func (s *SQLiteStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE id = ?`, id)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(resilience.ErrNotFound, "sqlite: concept %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get concept")
	}
	return c, nil
}

func (s *SQLiteStore) GetConceptsByDocument(ctx context.Context, documentID string) ([]model.Concept, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list concepts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan concept")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list concepts iterate")
}

func (s *SQLiteStore) UpsertRelationships(ctx context.Context, documentID string, rels []model.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	return s.inTx(ctx, "upsert relationships", func(tx *sql.Tx) error {
		for _, r := range rels {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO relationships (id, document_id, source_concept_id, target_concept_id, type,
					structure_category, strength, validated_by_user, evidence)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (source_concept_id, target_concept_id) DO UPDATE SET
					document_id = excluded.document_id, type = excluded.type,
					structure_category = excluded.structure_category, strength = excluded.strength,
					validated_by_user = excluded.validated_by_user, evidence = excluded.evidence`,
				r.ID, documentID, r.SourceConceptID, r.TargetConceptID, string(r.Type),
				string(r.StructureCategory), r.Strength, r.ValidatedByUser, r.Evidence,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert relationship %s", r.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetRelationshipsByDocument(ctx context.Context, documentID string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list relationships")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Relationship
	for rows.Next() {
		var r model.Relationship
		var typ, cat string
		if err := rows.Scan(&r.ID, &r.SourceConceptID, &r.TargetConceptID, &typ,
			&cat, &r.Strength, &r.ValidatedByUser, &r.Evidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relationship")
		}
		r.Type = model.RelationshipType(typ)
		r.StructureCategory = model.StructureCategory(cat)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list relationships iterate")
}

func (s *SQLiteStore) ApplyMerge(ctx context.Context, m Merge) error {
	return s.inTx(ctx, "apply merge", func(tx *sql.Tx) error {
		if err := upsertConceptTx(ctx, tx, m.Primary); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE concepts SET merged_into = ? WHERE id = ?`, m.Primary.ID, m.DuplicateID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: mark %s merged", m.DuplicateID)
		}
		if err := checkRowsAffected(res, m.DuplicateID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`UPDATE OR IGNORE relationships SET source_concept_id = ? WHERE source_concept_id = ?`,
			`UPDATE OR IGNORE relationships SET target_concept_id = ? WHERE target_concept_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, m.Primary.ID, m.DuplicateID); err != nil {
				return eris.Wrap(err, "sqlite: redirect relationships")
			}
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM relationships
			 WHERE source_concept_id = ? OR target_concept_id = ? OR source_concept_id = target_concept_id`,
			m.DuplicateID, m.DuplicateID)
		return eris.Wrap(err, "sqlite: drop stale relationships")
	})
}

func (s *SQLiteStore) AppendCostEntry(ctx context.Context, e model.CostEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_entries (id, key, user_id, day, cost_usd, cache_hit, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Key, e.UserID, e.Day, e.CostUSD, e.CacheHit, e.DurationMs, e.CreatedAt.UnixNano(),
	)
	return eris.Wrap(err, "sqlite: append cost entry")
}

func (s *SQLiteStore) ListCostEntries(ctx context.Context, since time.Time) ([]model.CostEntry, error) {
	// UnixNano overflows for the zero time.
	var after int64 = math.MinInt64
	if !since.IsZero() {
		after = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, user_id, day, cost_usd, cache_hit, duration_ms, created_at
		 FROM cost_entries WHERE created_at >= ? ORDER BY created_at`, after)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cost entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Key, &e.UserID, &e.Day, &e.CostUSD, &e.CacheHit, &e.DurationMs, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost entry")
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list cost entries iterate")
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(resilience.ErrNotFound, "concept %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// conceptArgs flattens a concept into column order, JSON-encoding lists.
func conceptArgs(c model.Concept) ([]any, error) {
	methods, err := marshalList(c.ExtractionMethods)
	if err != nil {
		return nil, err
	}
	sentences, err := marshalList(c.SourceSentences)
	if err != nil {
		return nil, err
	}
	pages, err := marshalList(c.PageNumbers)
	if err != nil {
		return nil, err
	}
	emb, err := marshalList(c.Embedding)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID, c.DocumentID, c.Term, c.Definition, c.StructureID, string(c.StructureType),
		c.Confidence, c.MethodsFound, methods, sentences, pages, emb, c.MergedInto,
	}, nil
}

func marshalList[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal list")
}

func scanConcept(row scannable) (*model.Concept, error) {
	var c model.Concept
	var structureType string
	var methods, sentences, pages, emb []byte
	err := row.Scan(&c.ID, &c.DocumentID, &c.Term, &c.Definition, &c.StructureID, &structureType,
		&c.Confidence, &c.MethodsFound, &methods, &sentences, &pages, &emb, &c.MergedInto)
	if err != nil {
		return nil, err
	}
	c.StructureType = model.StructureKind(structureType)
	if err := unmarshalLists(&c, methods, sentences, pages, emb); err != nil {
		return nil, err
	}
	return &c, nil
}

func unmarshalLists(c *model.Concept, methods, sentences, pages, emb []byte) error {
	for _, f := range []struct {
		raw  []byte
		dest any
	}{
		{methods, &c.ExtractionMethods},
		{sentences, &c.SourceSentences},
		{pages, &c.PageNumbers},
		{emb, &c.Embedding},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return eris.Wrap(err, "store: unmarshal list")
		}
	}
	normalizeLists(c)
	return nil
}

// normalizeLists maps empty stored lists back to nil.
func normalizeLists(c *model.Concept) {
	if len(c.ExtractionMethods) == 0 {
		c.ExtractionMethods = nil
	}
	if len(c.SourceSentences) == 0 {
		c.SourceSentences = nil
	}
	if len(c.PageNumbers) == 0 {
		c.PageNumbers = nil
	}
	if len(c.Embedding) == 0 {
		c.Embedding = nil
	}
}
