package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateDefaultPairs(t *testing.T) {
	e, err := NewEngine(DefaultPairs())
	require.NoError(t, err)

	statements := []string{
		"ConsistsOf(NH3, nitrogen, oxygen).",
		"HasProperty(water, liquid).",
		"HasPart(gravity, field).",
		"Infects(virus, organs).",
		"ConsistsOf(H2O, hydrogen, oxygen).",
	}
	got, err := e.Evaluate(statements)
	require.NoError(t, err)

	want := map[int][]string{
		0: {"nh3/oxygen"},
		2: {"gravity/haspart"},
		3: {"virus/organ"},
	}
	pairs := make(map[int][]string)
	for idx, conflicts := range got {
		for _, c := range conflicts {
			pairs[idx] = append(pairs[idx], c.Subject+"/"+c.Forbidden)
			assert.NotEmpty(t, c.Reason)
		}
	}
	if diff := cmp.Diff(want, pairs); diff != "" {
		t.Errorf("conflicts mismatch (-want +got):\n%s", diff)
	}
}

func TestPairOrderIrrelevant(t *testing.T) {
	e, err := NewEngine([]NoGoPair{{Subject: "Plant", Forbidden: "BLOOD", Reason: "plants have no blood"}})
	require.NoError(t, err)

	conflicts, err := e.Check("Contains(blood, plant).")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{Subject: "plant", Forbidden: "blood", Reason: "plants have no blood"}, conflicts[0])
}

func TestMultipleConflictsSorted(t *testing.T) {
	e, err := NewEngine(DefaultPairs())
	require.NoError(t, err)

	conflicts, err := e.Check("HasPart(gravity, particle).")
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "haspart", conflicts[0].Forbidden)
	assert.Equal(t, "particle", conflicts[1].Forbidden)
}

func TestNoConflicts(t *testing.T) {
	e, err := NewEngine(DefaultPairs())
	require.NoError(t, err)

	got, err := e.Evaluate([]string{"IsA(dog, mammal).", ""})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInvalidPair(t *testing.T) {
	_, err := NewEngine([]NoGoPair{{Subject: "bad token", Forbidden: "x"}})
	assert.Error(t, err)
}

func TestDuplicatePairsCollapse(t *testing.T) {
	e, err := NewEngine(append(DefaultPairs(), NoGoPair{Subject: "NH3", Forbidden: "Oxygen", Reason: "dup"}))
	require.NoError(t, err)
	assert.Len(t, e.Pairs(), len(DefaultPairs()))
}

func TestStatementTokensStem(t *testing.T) {
	assert.Equal(t, []string{"infects", "infect", "virus", "viru", "organs", "organ"}, statementTokens("Infects(virus, organs)."))
	assert.Equal(t, []string{"has", "glass"}, statementTokens("Has(glass)."))
}
