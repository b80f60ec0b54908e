package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factaudit/internal/cleanup"
	"factaudit/internal/consensus"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "work", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	r := &Run{Command: "run", DBPath: "k_assistant.db", Workdir: "validation_work", Seed: 42}
	id, err := l.RecordRun(ctx, r)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Equal(t, StatusRunning, r.Status)

	got, err := l.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, uint64(42), got.Seed)

	r.Status = StatusCompleted
	r.Items, r.Batches = 120, 9
	require.NoError(t, l.FinishRun(ctx, r))

	got, err = l.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 120, got.Items)
	assert.Equal(t, 9, got.Batches)
	require.NotNil(t, got.FinishedAt)
}

func TestFinishUnknownRun(t *testing.T) {
	err := openLedger(t).FinishRun(context.Background(), &Run{ID: "missing", Status: StatusFailed})
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = openLedger(t).GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	var ids []string
	for _, cmd := range []string{"sample", "batch", "run"} {
		id, err := l.RecordRun(ctx, &Run{Command: cmd, DBPath: "kb.db"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := l.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	all, err := l.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDecisionsAndApplies(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	id, err := l.RecordRun(ctx, &Run{Command: "merge", DBPath: "kb.db"})
	require.NoError(t, err)

	decisions := []consensus.Decision{
		{ID: "f0001", Statement: "ConsistsOf(NH3, nitrogen, oxygen).", Verdict: "invalid", Action: consensus.ActionUpdate,
			Correction: "ConsistsOf(NH3, nitrogen, hydrogen).", Votes: make([]consensus.Vote, 3)},
		{ID: "f0002", Statement: "DirectTest(foo, bar).", Verdict: "invalid", Action: consensus.ActionDelete},
		{ID: "f0003", Statement: "HasPart(cell, nucleus).", Verdict: "valid", Action: consensus.ActionKeep},
		{ID: "f0004", Statement: "IsA(whale, fish).", Verdict: "invalid", Action: consensus.ActionDelete},
	}
	require.NoError(t, l.RecordDecisions(ctx, id, decisions))

	counts, err := l.ActionCounts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"update": 1, "delete": 2, "keep": 1}, counts)

	require.NoError(t, l.RecordApply(ctx, id, "cleanup.sql", &cleanup.Report{Mode: "dry-run", Statements: 4, RowsAffected: 3}))
	require.NoError(t, l.RecordApply(ctx, id, "cleanup.sql", &cleanup.Report{Mode: "apply", Statements: 4, RowsAffected: 3, Committed: true, BackupPath: "b.db"}))
	n, err := l.Applies(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = l.RecordRun(ctx, &Run{Command: "run", DBPath: "kb.db"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(ctx, path)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.Runs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, path, l.Path())
}
