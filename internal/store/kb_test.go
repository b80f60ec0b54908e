package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKB(t *testing.T, statements ...string) *Store {
	t.Helper()
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Create = true
	s, err := Open(ctx, filepath.Join(t.TempDir(), "kb.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	for _, st := range statements {
		_, err := s.Insert(ctx, st)
		require.NoError(t, err)
	}
	return s
}

func rawDB(t *testing.T, ddl ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, q := range ddl {
		_, err := db.Exec(q)
		require.NoError(t, err)
	}
	return path
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, filepath.Join(t.TempDir(), "missing.db"), DefaultOptions())
	assert.True(t, errors.Is(err, ErrNotFound))

	noTable := rawDB(t, "CREATE TABLE other (x TEXT)")
	_, err = Open(ctx, noTable, DefaultOptions())
	assert.True(t, errors.Is(err, ErrNoFactsTable))

	legacy := rawDB(t, "CREATE TABLE facts (subject TEXT, predicate TEXT, object TEXT)")
	_, err = Open(ctx, legacy, DefaultOptions())
	assert.True(t, errors.Is(err, ErrNoStatementColumn))

	_, err = Open(ctx, legacy, Options{Table: "facts; DROP TABLE facts", Column: "statement"})
	assert.True(t, errors.Is(err, ErrBadIdentifier))
}

func TestInsertExistsCount(t *testing.T) {
	ctx := context.Background()
	s := newTestKB(t, "IsA(dog, mammal).")

	inserted, err := s.Insert(ctx, "IsA(dog, mammal).")
	require.NoError(t, err)
	assert.False(t, inserted)

	ok, err := s.Exists(ctx, "IsA(dog, mammal).")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "IsA(cat, mammal).")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPredicateCounts(t *testing.T) {
	s := newTestKB(t,
		"A(1, x).", "A(2, x).", "A(3, x).",
		"C(1, y).", "C(2, y).",
		"B(1, z).", "B(2, z).",
		"junk without parens",
	)
	counts, err := s.PredicateCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []PredicateCount{
		{Predicate: "A", Count: 3},
		{Predicate: "B", Count: 2},
		{Predicate: "C", Count: 2},
	}, counts)
}

func TestSamplePredicateDeterministic(t *testing.T) {
	ctx := context.Background()
	var statements []string
	for i := 0; i < 50; i++ {
		statements = append(statements, fmt.Sprintf("HasPart(thing%d, part).", i))
		statements = append(statements, fmt.Sprintf("IsA(thing%d, object).", i))
	}
	s := newTestKB(t, statements...)

	first, err := s.SamplePredicate(ctx, "HasPart", 5, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	second, err := s.SamplePredicate(ctx, "HasPart", 5, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	assert.Len(t, first, 5)
	assert.Equal(t, first, second)
	for _, st := range first {
		assert.True(t, strings.HasPrefix(st, "HasPart("), st)
	}

	all, err := s.SamplePredicate(ctx, "IsA", 500, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestSampleRandomExcludes(t *testing.T) {
	s := newTestKB(t, "A(1).", "A(2).", "A(3).")
	got, err := s.SampleRandom(context.Background(), 10, rand.New(rand.NewPCG(1, 2)), map[string]bool{"A(2).": true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A(1).", "A(3)."}, got)
}

func TestRecentAndStatements(t *testing.T) {
	ctx := context.Background()
	s := newTestKB(t, "A(1).", "A(2).", "A(3).")

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A(3).", "A(2)."}, recent)

	var seen []string
	require.NoError(t, s.Statements(ctx, 2, func(_ int64, st string) error {
		seen = append(seen, st)
		return nil
	}))
	assert.Equal(t, []string{"A(1).", "A(2)."}, seen)
}

func TestExactDuplicates(t *testing.T) {
	path := rawDB(t,
		"CREATE TABLE facts (statement TEXT)",
		"INSERT INTO facts VALUES ('A(1).'), ('A(1).'), ('A(1).'), ('B(1).'), ('B(1).'), ('C(1).')",
	)
	s, err := Open(context.Background(), path, DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	dups, err := s.ExactDuplicates(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []Duplicate{{Statement: "A(1).", Count: 3}, {Statement: "B(1).", Count: 2}}, dups)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	s := newTestKB(t, "A(1).", "A(2).")
	dest := filepath.Join(t.TempDir(), "backups", "kb.backup.db")

	require.NoError(t, s.Backup(ctx, dest))
	assert.Error(t, s.Backup(ctx, dest))

	b, err := Open(ctx, dest, Options{ReadOnly: true})
	require.NoError(t, err)
	defer b.Close()
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestExecScript(t *testing.T) {
	ctx := context.Background()
	s := newTestKB(t, "A(1).", "A(2).", "B(1).")
	script := []string{
		"DELETE FROM facts WHERE statement = 'A(1).'",
		"UPDATE facts SET statement = 'B(2).' WHERE statement = 'B(1).'",
	}

	results, err := s.ExecScript(ctx, script, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.EqualValues(t, 1, results[0].RowsAffected)
	assert.EqualValues(t, 1, results[1].RowsAffected)
	n, _ := s.Count(ctx)
	assert.EqualValues(t, 3, n, "dry run must roll back")

	_, err = s.ExecScript(ctx, script, true)
	require.NoError(t, err)
	n, _ = s.Count(ctx)
	assert.EqualValues(t, 2, n)
	ok, _ := s.Exists(ctx, "B(2).")
	assert.True(t, ok)
}

func TestExecScriptFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestKB(t, "A(1).", "A(2).")
	results, err := s.ExecScript(ctx, []string{
		"DELETE FROM facts WHERE statement = 'A(1).'",
		"DELETE FROM no_such_table",
	}, true)
	require.Error(t, err)
	assert.Len(t, results, 1)
	n, _ := s.Count(ctx)
	assert.EqualValues(t, 2, n)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestKB(t, "A(1).")
	path := s.Path()
	require.NoError(t, s.Close())

	ro, err := Open(ctx, path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	_, err = ro.Insert(ctx, "A(2).")
	assert.Error(t, err)
}
