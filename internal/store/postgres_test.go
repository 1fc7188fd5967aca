package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS concepts`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConcept_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM concepts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetConcept(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConcept(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(conceptCols).AddRow(
		"c1", "doc-1", "kernel", "Core of the OS.", "chapter_1", "hierarchical", 0.8,
		2, []byte(`["statistical","graph"]`), []byte(`["The kernel runs."]`), []byte(`[1,2]`), []byte(`[]`), "",
	)
	mock.ExpectQuery(`FROM concepts WHERE id = \$1`).WithArgs("c1").WillReturnRows(rows)

	c, err := s.GetConcept(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "kernel", c.Term)
	assert.Equal(t, model.StructureHierarchical, c.StructureType)
	assert.Equal(t, []string{"statistical", "graph"}, c.ExtractionMethods)
	assert.Equal(t, []int{1, 2}, c.PageNumbers)
	assert.Nil(t, c.Embedding)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRelationshipsByDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "source_concept_id", "target_concept_id", "type", "structure_category", "strength", "validated_by_user", "evidence"}).
		AddRow("r1", "a", "b", "precedes", "sequential", 0.6, false, "a then b")
	mock.ExpectQuery(`FROM relationships WHERE document_id = \$1`).WithArgs("doc-1").WillReturnRows(rows)

	rels, err := s.GetRelationshipsByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.RelPrecedes, rels[0].Type)
	assert.Equal(t, model.CategorySequential, rels[0].StructureCategory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertConcepts_BulkCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_concepts"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_concepts"}, conceptCols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "concepts" .* ON CONFLICT \("id"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.UpsertConcepts(context.Background(), []model.Concept{
		concept("c1", "doc-1", "kernel"),
		concept("c2", "doc-1", "shell"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertConcepts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.UpsertConcepts(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRelationships_ConflictOnPair(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_relationships"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_relationships"}, relationshipCols).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("source_concept_id", "target_concept_id"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	r, err := model.NewRelationship("a", "b", model.CategorySequential, model.RelPrecedes, 0.6)
	require.NoError(t, err)
	require.NoError(t, s.UpsertRelationships(context.Background(), "doc-1", []model.Relationship{*r}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// primaryArgs matches the upsert of a merge primary: identity columns
// exactly, the remaining ten by position.
func primaryArgs(id, documentID, term string) []any {
	args := []any{id, documentID, term}
	for range 10 {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func TestPostgresStore_ApplyMerge(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO concepts`).WithArgs(primaryArgs("p", "doc-1", "virtual machine")...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE concepts SET merged_into = \$1`).WithArgs("p", "d").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE relationships r SET source_concept_id`).WithArgs("p", "d").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE relationships r SET target_concept_id`).WithArgs("p", "d").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`DELETE FROM relationships`).WithArgs("d").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err := s.ApplyMerge(context.Background(), Merge{Primary: concept("p", "doc-1", "virtual machine"), DuplicateID: "d"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyMerge_MissingDuplicateRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO concepts`).WithArgs(primaryArgs("p", "doc-1", "kernel")...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE concepts SET merged_into`).WithArgs("p", "d").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.ApplyMerge(context.Background(), Merge{Primary: concept("p", "doc-1", "kernel"), DuplicateID: "d"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendCostEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO cost_entries`).
		WithArgs("e1", "k1", "u1", "2026-03-02", 0.5, false, int64(10), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendCostEntry(context.Background(), model.CostEntry{
		ID: "e1", Key: "k1", UserID: "u1", Day: "2026-03-02", CostUSD: 0.5, DurationMs: 10, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCostEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "key", "user_id", "day", "cost_usd", "cache_hit", "duration_ms", "created_at"}).
		AddRow("e1", "k1", "", "2026-03-02", 0.5, true, int64(3), now)
	mock.ExpectQuery(`FROM cost_entries WHERE created_at >= \$1`).WithArgs(now.Add(-time.Hour)).WillReturnRows(rows)

	entries, err := s.ListCostEntries(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CacheHit)
	assert.Equal(t, now, entries[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCostEntries_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM cost_entries`).WillReturnError(errors.New("conn reset"))

	_, err := s.ListCostEntries(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: list cost entries")
}
