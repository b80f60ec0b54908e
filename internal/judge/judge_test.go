package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"factaudit/internal/batch"
	"factaudit/internal/config"
	"factaudit/internal/rules"
	"factaudit/internal/scorer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newBatch(statements ...string) *batch.Batch {
	items := make([]batch.Item, len(statements))
	for i, s := range statements {
		items[i] = batch.Item{ID: "f000" + string(rune('1'+i)), Statement: s}
	}
	return &batch.Batch{
		BatchID:      "gemini_001",
		RunID:        "run-1",
		Provider:     "gemini",
		Instructions: batch.Instructions,
		OutputSchema: batch.OutputSchema,
		Items:        items,
	}
}

func newScorer(t *testing.T) *scorer.Scorer {
	t.Helper()
	engine, err := rules.NewEngine(rules.DefaultPairs())
	require.NoError(t, err)
	return scorer.New(scorer.DefaultOptions(), engine)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(newBatch("HasPart(cell, nucleus)."))
	assert.Contains(t, p, batch.Instructions)
	assert.Contains(t, p, "batch_id: gemini_001")
	assert.Contains(t, p, `"id": "f0001"`)
	assert.Contains(t, p, `"statement": "HasPart(cell, nucleus)."`)
	assert.Contains(t, p, `"verdict"`)
}

func TestParseResponseObject(t *testing.T) {
	b := newBatch("HasPart(cell, nucleus).", "ConsistsOf(NH3, nitrogen, oxygen).", "IsA(x).")
	text := "Here you go:\n```json\n" + `{"results": [
		{"id": "f0002", "verdict": "INVALID", "confidence": 1.4, "reason": "ammonia has no oxygen", "correction": " ConsistsOf(NH3, nitrogen, hydrogen). "},
		{"id": "f0001", "verdict": "valid", "confidence": 0.9},
		{"id": "f9999", "verdict": "valid", "confidence": 0.9}
	]}` + "\n```\nThanks"

	j, err := ParseResponse(b, "gemini-2.5-flash", text)
	require.NoError(t, err)
	require.Len(t, j.Results, 3)
	assert.Equal(t, "gemini_001", j.BatchID)
	assert.Equal(t, "run-1", j.RunID)
	assert.Equal(t, "gemini-2.5-flash", j.Model)

	assert.Equal(t, "f0001", j.Results[0].ID)
	assert.Equal(t, batch.VerdictValid, j.Results[0].Verdict)
	assert.Equal(t, "HasPart(cell, nucleus).", j.Results[0].Statement)

	assert.Equal(t, batch.VerdictInvalid, j.Results[1].Verdict)
	assert.Equal(t, 1.0, j.Results[1].Confidence)
	assert.Equal(t, "ConsistsOf(NH3, nitrogen, hydrogen).", j.Results[1].Correction)

	assert.Equal(t, batch.VerdictUncertain, j.Results[2].Verdict)
	assert.Zero(t, j.Results[2].Confidence)
	assert.Equal(t, "no verdict returned", j.Results[2].Reason)
	require.NoError(t, j.Validate())
}

func TestParseResponseArrayAndUnknownVerdict(t *testing.T) {
	b := newBatch("HasPart(cell, nucleus).")
	j, err := ParseResponse(b, "m", `[{"id": "f0001", "verdict": "probably", "confidence": -2}]`)
	require.NoError(t, err)
	require.Len(t, j.Results, 1)
	assert.Equal(t, batch.VerdictUncertain, j.Results[0].Verdict)
	assert.Zero(t, j.Results[0].Confidence)
	assert.Contains(t, j.Results[0].Reason, "probably")
}

func TestParseResponseErrors(t *testing.T) {
	b := newBatch("HasPart(cell, nucleus).")
	for _, text := range []string{"", "no json here", `{"results": [`, `{"results": "nope"}`} {
		_, err := ParseResponse(b, "m", text)
		assert.Error(t, err, text)
	}
}

type fakeCompleter struct {
	answer string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func TestLLMJudge(t *testing.T) {
	fc := &fakeCompleter{answer: `{"results": [{"id": "f0001", "verdict": "valid", "confidence": 0.8}]}`}
	j := NewLLMJudge("openai", "gpt-4o-mini", fc, 0)
	assert.Equal(t, "openai", j.Name())

	judged, err := j.Judge(context.Background(), newBatch("HasPart(cell, nucleus)."))
	require.NoError(t, err)
	assert.Equal(t, "openai", judged.Provider)
	assert.Equal(t, "gpt-4o-mini", judged.Model)
	assert.Contains(t, fc.prompt, "f0001")

	fc.err = errors.New("boom")
	_, err = j.Judge(context.Background(), newBatch("HasPart(cell, nucleus)."))
	assert.ErrorContains(t, err, "boom")
}

func TestLocalJudge(t *testing.T) {
	l := NewLocal("", newScorer(t))
	assert.Equal(t, "local", l.Name())

	b := newBatch(
		"ConsistsOf(NH3, nitrogen, oxygen).",
		"HasProperty(water, liquid).",
		"DirectTest(foo, bar).",
		"HasPart(cell, nucleus)",
		"IsA(x).",
	)
	j, err := l.Judge(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, j.Results, 5)
	require.NoError(t, j.Validate())

	nh3 := j.Results[0]
	assert.Equal(t, batch.VerdictInvalid, nh3.Verdict)
	assert.Equal(t, 0.95, nh3.Confidence)
	assert.Equal(t, "ConsistsOf(NH3, nitrogen, hydrogen).", nh3.Correction)

	assert.Equal(t, batch.VerdictValid, j.Results[1].Verdict)

	assert.Equal(t, batch.VerdictInvalid, j.Results[2].Verdict)
	assert.True(t, strings.HasPrefix(j.Results[2].Reason, "placeholder token"))
	assert.Empty(t, j.Results[2].Correction)

	assert.Equal(t, batch.VerdictInvalid, j.Results[3].Verdict)
	assert.Equal(t, "HasPart(cell, nucleus).", j.Results[3].Correction)

	assert.Equal(t, batch.VerdictUncertain, j.Results[4].Verdict)
	assert.Equal(t, 0.5, j.Results[4].Confidence)
}

func TestLocalJudgeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal("local", newScorer(t)).Judge(ctx, newBatch("IsA(x)."))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	sc := newScorer(t)

	p, err := NewProvider(ctx, config.ProviderConfig{Name: "local", Kind: "local"}, sc)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	_, err = NewProvider(ctx, config.ProviderConfig{Name: "gemini", Kind: "gemini"}, sc)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewProvider(ctx, config.ProviderConfig{Name: "deepseek", Kind: "deepseek"}, sc)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	p, err = NewProvider(ctx, config.ProviderConfig{
		Name: "deepseek", Kind: "deepseek", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1", APIKey: "k",
	}, sc)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())

	_, err = NewProvider(ctx, config.ProviderConfig{Name: "x", Kind: "anthropic"}, sc)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
