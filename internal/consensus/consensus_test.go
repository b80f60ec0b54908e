package consensus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factaudit/internal/batch"
)

func judged(provider string, results ...batch.Judgment) *batch.Judged {
	return &batch.Judged{BatchID: provider + "_001", RunID: "run-1", Provider: provider, Results: results}
}

func vote(id, statement, verdict string, confidence float64, correction string) batch.Judgment {
	return batch.Judgment{ID: id, Statement: statement, Verdict: verdict, Confidence: confidence, Correction: correction}
}

const (
	nh3   = "ConsistsOf(NH3, nitrogen, oxygen)."
	water = "HasProperty(water, liquid)."
	junk  = "DirectTest(foo, bar)."
	mixed = "IsA(whale, fish)."
	solo  = "HasPart(cell, nucleus)."
)

func sample() []*batch.Judged {
	fix := "ConsistsOf(NH3, nitrogen, hydrogen)."
	return []*batch.Judged{
		judged("deepseek",
			vote("f0001", nh3, "invalid", 0.9, fix),
			vote("f0002", water, "valid", 0.9, ""),
			vote("f0003", junk, "invalid", 0.9, ""),
			vote("f0004", mixed, "invalid", 0.7, ""),
		),
		judged("gemini",
			vote("f0001", nh3, "invalid", 0.8, fix),
			vote("f0002", water, "valid", 0.7, ""),
			vote("f0003", junk, "invalid", 0.8, ""),
			vote("f0004", mixed, "valid", 0.6, ""),
			vote("f0005", solo, "valid", 1, ""),
		),
		judged("openai",
			vote("f0001", nh3, "valid", 0.4, ""),
			vote("f0002", water, "invalid", 0.5, ""),
			vote("f0003", junk, "invalid", 1.0, ""),
			vote("f0004", mixed, "uncertain", 0.5, ""),
		),
	}
}

func byID(t *testing.T, r *Result, id string) Decision {
	t.Helper()
	for _, d := range r.Decisions {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("decision %s not found", id)
	return Decision{}
}

func TestMerge(t *testing.T) {
	r, err := Merge(sample(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek", "gemini", "openai"}, r.Providers)
	assert.Equal(t, "run-1", r.RunID)
	require.Len(t, r.Decisions, 5)

	d := byID(t, r, "f0001")
	assert.Equal(t, batch.VerdictInvalid, d.Verdict)
	assert.InDelta(t, 0.85, d.Confidence, 1e-9)
	assert.InDelta(t, 2.0/3.0, d.Agreement, 1e-9)
	assert.Equal(t, ActionUpdate, d.Action)
	assert.Equal(t, "ConsistsOf(NH3, nitrogen, hydrogen).", d.Correction)

	d = byID(t, r, "f0002")
	assert.Equal(t, batch.VerdictValid, d.Verdict)
	assert.Equal(t, ActionKeep, d.Action)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)

	d = byID(t, r, "f0003")
	assert.Equal(t, ActionDelete, d.Action)
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
	assert.Equal(t, 1.0, d.Agreement)

	d = byID(t, r, "f0004")
	assert.Equal(t, batch.VerdictUncertain, d.Verdict)
	assert.Equal(t, "tie", d.Note)
	assert.Equal(t, ActionReview, d.Action)

	d = byID(t, r, "f0005")
	assert.Equal(t, NoteBelowQuorum, d.Note)
	assert.Equal(t, ActionReview, d.Action)

	assert.Equal(t, map[string]int{ActionKeep: 1, ActionUpdate: 1, ActionDelete: 1, ActionReview: 2}, r.ActionCounts())
	assert.Equal(t, map[string]int{"valid": 1, "invalid": 2, "uncertain": 2}, r.VerdictCounts())
}

func TestMergeEmpty(t *testing.T) {
	_, err := Merge(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoJudgments)
	_, err = Merge([]*batch.Judged{judged("gemini")}, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoJudgments)
}

func TestLastVoteWins(t *testing.T) {
	in := []*batch.Judged{
		judged("gemini", vote("f0001", junk, "valid", 0.9, "")),
		judged("openai", vote("f0001", junk, "invalid", 0.9, "")),
		judged("gemini", vote("f0001", junk, "invalid", 0.5, "")),
	}
	r, err := Merge(in, DefaultOptions())
	require.NoError(t, err)
	d := byID(t, r, "f0001")
	require.Len(t, d.Votes, 2)
	assert.Equal(t, batch.VerdictInvalid, d.Verdict)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
	assert.Equal(t, ActionReview, d.Action)
}

func TestActions(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name       string
		confidence float64
		correction string
		want       string
	}{
		{"low confidence", 0.5, "IsA(whale, mammal).", ActionReview},
		{"valid correction", 0.7, "IsA(whale, mammal).", ActionUpdate},
		{"broken correction deletes", 0.9, "IsA(whale, mammal)", ActionDelete},
		{"broken correction reviews", 0.7, "IsA(whale", ActionReview},
		{"no correction above threshold", 0.8, "", ActionDelete},
		{"no correction below threshold", 0.79, "", ActionReview},
		{"correction equals statement", 0.9, mixed, ActionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []*batch.Judged{
				judged("a", vote("f0001", mixed, "invalid", tt.confidence, tt.correction)),
				judged("b", vote("f0001", mixed, "invalid", tt.confidence, tt.correction)),
			}
			r, err := Merge(in, opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Decisions[0].Action)
		})
	}
}

func TestMostCommonCorrection(t *testing.T) {
	assert.Equal(t, "", mostCommon(nil))
	assert.Equal(t, "b", mostCommon(map[string]int{"a": 1, "b": 2}))
	assert.Equal(t, "a", mostCommon(map[string]int{"c": 2, "a": 2, "b": 1}))
}

func TestMatchByIDWithoutStatement(t *testing.T) {
	in := []*batch.Judged{
		judged("a", vote("f0007", "", "valid", 0.9, "")),
		judged("b", vote("f0007", "", "valid", 0.7, "")),
	}
	r, err := Merge(in, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, r.Decisions, 1)
	assert.Equal(t, ActionKeep, r.Decisions[0].Action)
}

func TestSQL(t *testing.T) {
	in := []*batch.Judged{
		judged("a", vote("f0001", "IsA(o'brien, fish).", "invalid", 0.9, "IsA(o'brien, person).")),
		judged("b", vote("f0001", "IsA(o'brien, fish).", "invalid", 0.9, "IsA(o'brien, person).")),
		judged("a", vote("f0002", junk, "invalid", 0.9, "")),
		judged("b", vote("f0002", junk, "invalid", 0.9, "")),
	}
	r, err := Merge(in, DefaultOptions())
	require.NoError(t, err)

	sql := r.SQL("facts", "statement")
	assert.Contains(t, sql, "UPDATE facts SET statement = 'IsA(o''brien, person).' WHERE statement = 'IsA(o''brien, fish).' AND NOT EXISTS (SELECT 1 FROM facts WHERE statement = 'IsA(o''brien, person).');")
	assert.Contains(t, sql, "DELETE FROM facts WHERE statement = 'IsA(o''brien, fish).';")
	assert.Contains(t, sql, "DELETE FROM facts WHERE statement = 'DirectTest(foo, bar).';")
	assert.Contains(t, sql, "-- updates: 1, deletes: 1, review: 0")
	assert.Equal(t, 3, strings.Count(sql, ";\n"))
}

func TestMarkdown(t *testing.T) {
	r, err := Merge(sample(), DefaultOptions())
	require.NoError(t, err)
	md := r.Markdown()
	assert.Contains(t, md, "# Consensus Summary")
	assert.Contains(t, md, "| update | 1 |")
	assert.Contains(t, md, "## Needs Review")
	assert.Contains(t, md, "below quorum")
	assert.Contains(t, md, "| gemini |")
}

func TestWriteAllAndLoad(t *testing.T) {
	r, err := Merge(sample(), DefaultOptions())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "consensus")
	require.NoError(t, r.WriteAll(dir, "facts", "statement"))
	for _, name := range []string{SQLFile, SummaryFile, JSONFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	loaded, err := LoadResult(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	if diff := cmp.Diff(r, loaded, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadJudgedDir(t *testing.T) {
	dir := t.TempDir()
	for _, j := range sample() {
		require.NoError(t, batch.WriteJudged(batch.FilePath(dir, j.Provider, j.BatchID), j))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, batch.ManifestName), []byte("{}"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gemini", "old"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gemini", "old", "x.json"), []byte("junk"), 0644))

	loaded, err := LoadJudgedDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "deepseek", loaded[0].Provider)
	assert.Equal(t, "openai", loaded[2].Provider)

	_, err = LoadJudgedDir(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoJudgments)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "openai", "broken.json"), []byte("{"), 0644))
	_, err = LoadJudgedDir(context.Background(), dir)
	assert.Error(t, err)
}

func TestInvalidWithoutStatementGoesToReview(t *testing.T) {
	in := []*batch.Judged{
		judged("a", vote("f0001", "", "invalid", 0.95, "")),
		judged("b", vote("f0001", "", "invalid", 0.95, "")),
	}
	r, err := Merge(in, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, r.Decisions, 1)
	assert.Equal(t, ActionReview, r.Decisions[0].Action)
	assert.Equal(t, NoteNoStatement, r.Decisions[0].Note)
	assert.NotContains(t, r.SQL("facts", "statement"), "DELETE")
}

func TestLoadRunResolvesStatements(t *testing.T) {
	const blood = "HasPart(plant, blood)."
	items := []batch.Item{
		{ID: "f0001", Statement: blood},
		{ID: "f0002", Statement: water},
	}
	batches, err := batch.Build("run-2", items, []string{"a", "b", "c"}, 10)
	require.NoError(t, err)
	batchDir, resultsDir := t.TempDir(), t.TempDir()
	m, err := batch.WriteAll(batchDir, batches)
	require.NoError(t, err)

	write := func(j *batch.Judged) {
		require.NoError(t, batch.WriteJudged(batch.FilePath(resultsDir, j.Provider, j.BatchID), j))
	}
	write(&batch.Judged{BatchID: "a_001", RunID: "run-2", Provider: "a", Results: []batch.Judgment{
		vote("f0001", "", "invalid", 0.95, ""),
		vote("f0002", "", "valid", 0.9, ""),
		vote("f0099", "", "invalid", 1, ""),
	}})
	write(&batch.Judged{BatchID: "b_001", RunID: "run-2", Provider: "b", Results: []batch.Judgment{
		vote("f0001", blood, "invalid", 0.95, ""),
		vote("f0002", water, "valid", 0.8, ""),
	}})
	write(&batch.Judged{BatchID: "c_001", RunID: "run-1", Provider: "c", Results: []batch.Judgment{
		vote("f0001", "IsA(old, fact).", "invalid", 1, ""),
	}})

	loaded, err := LoadRun(context.Background(), batchDir, resultsDir, m)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Len(t, loaded[0].Results, 2)

	r, err := Merge(loaded, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Providers)
	require.Len(t, r.Decisions, 2)
	d := byID(t, r, "f0001")
	assert.Equal(t, blood, d.Statement)
	assert.Equal(t, ActionDelete, d.Action)
	assert.Len(t, d.Votes, 2)

	sql := r.SQL("facts", "statement")
	assert.Contains(t, sql, "DELETE FROM facts WHERE statement = 'HasPart(plant, blood).';")
	assert.NotContains(t, sql, "statement = '';")

	_, err = LoadRun(context.Background(), batchDir, t.TempDir(), m)
	assert.ErrorIs(t, err, ErrNoJudgments)
}
