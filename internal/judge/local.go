package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"factaudit/internal/batch"
	"factaudit/internal/fact"
	"factaudit/internal/scorer"
)

// knownCorrections maps a no-go subject to the statement it should have been.
var knownCorrections = map[string]string{
	"nh3":      "ConsistsOf(NH3, nitrogen, hydrogen).",
	"h2o":      "ConsistsOf(H2O, hydrogen, oxygen).",
	"co2":      "ConsistsOf(CO2, carbon, oxygen).",
	"ch4":      "ConsistsOf(CH4, carbon, hydrogen).",
	"nacl":     "ConsistsOf(NaCl, sodium, chlorine).",
	"gravity":  "IsTypeOf(gravity, fundamental_force).",
	"momentum": "HasProperty(object, momentum).",
}

// Local judges statements offline with the uncertainty heuristics. It never fails.
type Local struct {
	name   string
	scorer *scorer.Scorer
}

// NewLocal returns the heuristic judge.
func NewLocal(name string, sc *scorer.Scorer) *Local {
	if name == "" {
		name = "local"
	}
	return &Local{name: name, scorer: sc}
}

// Name returns the provider name.
func (l *Local) Name() string { return l.name }

// Judge assigns a verdict to every item from its heuristic signals.
func (l *Local) Judge(ctx context.Context, b *batch.Batch) (*batch.Judged, error) {
	statements := make([]string, len(b.Items))
	for i, it := range b.Items {
		statements[i] = it.Statement
	}
	assessments, err := l.scorer.ScoreAll(statements)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j := &batch.Judged{
		BatchID:  b.BatchID,
		RunID:    b.RunID,
		Provider: l.name,
		Model:    "heuristic",
		JudgedAt: time.Now().UTC(),
		Results:  make([]batch.Judgment, len(b.Items)),
	}
	for i, it := range b.Items {
		j.Results[i] = verdictFor(it.ID, assessments[i])
	}
	return j, nil
}

func verdictFor(id string, a scorer.Assessment) batch.Judgment {
	r := batch.Judgment{ID: id, Statement: a.Statement}
	signals := make(map[string]scorer.Signal, len(a.Signals))
	for _, s := range a.Signals {
		if _, ok := signals[s.Name]; !ok {
			signals[s.Name] = s
		}
	}

	switch {
	case has(signals, scorer.SignalNoGo):
		r.Verdict, r.Confidence = batch.VerdictInvalid, 0.95
		r.Reason = signals[scorer.SignalNoGo].Detail
		subject, _, _ := strings.Cut(r.Reason, "/")
		if c, ok := knownCorrections[subject]; ok && c != a.Statement {
			r.Correction = c
		}
	case has(signals, scorer.SignalPlaceholder):
		r.Verdict, r.Confidence = batch.VerdictInvalid, 0.95
		r.Reason = "placeholder token " + signals[scorer.SignalPlaceholder].Detail
	case has(signals, scorer.SignalSyntax):
		r.Verdict, r.Confidence = batch.VerdictInvalid, 0.9
		r.Reason = "malformed statement: " + signals[scorer.SignalSyntax].Detail
		if fixed, _ := fact.Normalize(a.Statement); fixed != a.Statement && fact.Valid(fixed) {
			r.Correction = fixed
		}
	case has(signals, scorer.SignalPredicateShape) && strings.HasPrefix(signals[scorer.SignalPredicateShape].Detail, "known junk"):
		r.Verdict, r.Confidence = batch.VerdictInvalid, 0.8
		r.Reason = signals[scorer.SignalPredicateShape].Detail
	case a.Score > 0:
		r.Verdict, r.Confidence = batch.VerdictUncertain, 0.5
		r.Reason = fmt.Sprintf("heuristic signals: %s", strings.Join(a.SignalNames(), ", "))
	default:
		r.Verdict, r.Confidence = batch.VerdictValid, 0.7
		r.Reason = "no heuristic issues"
	}
	return r
}

func has(signals map[string]scorer.Signal, name string) bool {
	_, ok := signals[name]
	return ok
}
