// Package consensus majority-votes judged batches from several providers and turns the
// outcome into cleanup SQL and a markdown summary.
package consensus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"factaudit/internal/batch"
	"factaudit/internal/fact"
	"factaudit/internal/logging"
)

// ErrNoJudgments is returned when there is nothing to merge.
var ErrNoJudgments = errors.New("no judgments to merge")

// Actions taken for a decision.
const (
	ActionKeep   = "keep"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReview = "review"
)

// Notes attached to decisions that need review.
const (
	NoteBelowQuorum = "below quorum"
	NoteTie         = "tie"
	NoteNoStatement = "no statement"
)

// Options tune the vote.
type Options struct {
	Quorum          int     `json:"quorum"`
	MinConfidence   float64 `json:"min_confidence"`
	DeleteThreshold float64 `json:"delete_threshold"`
}

// DefaultOptions returns quorum 2, min confidence 0.6 and delete threshold 0.8.
func DefaultOptions() Options {
	return Options{Quorum: 2, MinConfidence: 0.6, DeleteThreshold: 0.8}
}

// Vote is one provider's verdict on a statement.
type Vote struct {
	Provider   string  `json:"provider"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Correction string  `json:"correction,omitempty"`
}

// Decision is the merged outcome for one statement.
type Decision struct {
	ID         string  `json:"id"`
	Statement  string  `json:"statement"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Agreement  float64 `json:"agreement"`
	Action     string  `json:"action"`
	Correction string  `json:"correction,omitempty"`
	Note       string  `json:"note,omitempty"`
	Votes      []Vote  `json:"votes"`
}

// Result holds every decision of a merge.
type Result struct {
	RunID     string     `json:"run_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Providers []string   `json:"providers"`
	Options   Options    `json:"options"`
	Decisions []Decision `json:"decisions"`
}

// VerdictCounts counts decisions per final verdict.
func (r *Result) VerdictCounts() map[string]int {
	out := map[string]int{batch.VerdictValid: 0, batch.VerdictInvalid: 0, batch.VerdictUncertain: 0}
	for _, d := range r.Decisions {
		out[d.Verdict]++
	}
	return out
}

// ActionCounts counts decisions per action.
func (r *Result) ActionCounts() map[string]int {
	out := map[string]int{ActionKeep: 0, ActionUpdate: 0, ActionDelete: 0, ActionReview: 0}
	for _, d := range r.Decisions {
		out[d.Action]++
	}
	return out
}

// ProviderAgreement returns, per provider, the share of its votes that matched the final
// verdict. Decisions below quorum are ignored.
func (r *Result) ProviderAgreement() map[string]float64 {
	agree := make(map[string]int)
	total := make(map[string]int)
	for _, d := range r.Decisions {
		if d.Note == NoteBelowQuorum {
			continue
		}
		for _, v := range d.Votes {
			total[v.Provider]++
			if v.Verdict == d.Verdict {
				agree[v.Provider]++
			}
		}
	}
	out := make(map[string]float64, len(total))
	for p, n := range total {
		out[p] = float64(agree[p]) / float64(n)
	}
	return out
}

type entry struct {
	id        string
	statement string
	votes     map[string]Vote
}

// Merge majority-votes every statement across the judged batches. Statements are matched by
// text, falling back to the item id when a judgment carries no statement. When a provider
// judged the same statement more than once its last vote counts.
func Merge(judged []*batch.Judged, opts Options) (*Result, error) {
	if opts.Quorum < 1 {
		opts.Quorum = 1
	}

	entries := make(map[string]*entry)
	providers := make(map[string]bool)
	runID := ""
	for _, j := range judged {
		if j == nil {
			continue
		}
		if runID == "" {
			runID = j.RunID
		}
		providers[j.Provider] = true
		for _, r := range j.Results {
			key := r.Statement
			if key == "" {
				key = "id:" + r.ID
			}
			e, ok := entries[key]
			if !ok {
				e = &entry{id: r.ID, statement: r.Statement, votes: make(map[string]Vote)}
				entries[key] = e
			}
			e.votes[j.Provider] = Vote{
				Provider:   j.Provider,
				Verdict:    strings.ToLower(r.Verdict),
				Confidence: r.Confidence,
				Reason:     r.Reason,
				Correction: strings.TrimSpace(r.Correction),
			}
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoJudgments
	}

	res := &Result{RunID: runID, CreatedAt: time.Now().UTC(), Options: opts}
	for p := range providers {
		res.Providers = append(res.Providers, p)
	}
	sort.Strings(res.Providers)

	for _, e := range entries {
		res.Decisions = append(res.Decisions, decide(e, opts))
	}
	sort.Slice(res.Decisions, func(i, k int) bool {
		a, b := res.Decisions[i], res.Decisions[k]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Statement < b.Statement
	})

	c := res.ActionCounts()
	logging.Consensus("Merged %d statements from %d providers: %d keep, %d update, %d delete, %d review",
		len(res.Decisions), len(res.Providers), c[ActionKeep], c[ActionUpdate], c[ActionDelete], c[ActionReview])
	return res, nil
}

func decide(e *entry, opts Options) Decision {
	d := Decision{ID: e.id, Statement: e.statement}
	for _, v := range e.votes {
		d.Votes = append(d.Votes, v)
	}
	sort.Slice(d.Votes, func(i, k int) bool { return d.Votes[i].Provider < d.Votes[k].Provider })

	if len(d.Votes) < opts.Quorum {
		d.Verdict = batch.VerdictUncertain
		d.Action = ActionReview
		d.Note = NoteBelowQuorum
		logging.ConsensusWarn("%s has %d of %d required votes", e.id, len(d.Votes), opts.Quorum)
		return d
	}

	counts := make(map[string]int)
	for _, v := range d.Votes {
		counts[v.Verdict]++
	}
	best, bestN, tied := "", 0, false
	for verdict, n := range counts {
		switch {
		case n > bestN:
			best, bestN, tied = verdict, n, false
		case n == bestN:
			tied = true
		}
	}
	d.Agreement = float64(bestN) / float64(len(d.Votes))
	if tied {
		d.Verdict = batch.VerdictUncertain
		d.Action = ActionReview
		d.Note = NoteTie
		return d
	}
	d.Verdict = best

	sum := 0.0
	corrections := make(map[string]int)
	for _, v := range d.Votes {
		if v.Verdict != best {
			continue
		}
		sum += v.Confidence
		if best == batch.VerdictInvalid && v.Correction != "" {
			corrections[v.Correction]++
		}
	}
	d.Confidence = sum / float64(bestN)
	d.Correction = mostCommon(corrections)
	d.Action = action(d, opts)
	if d.Statement == "" && d.Action != ActionKeep && d.Action != ActionReview {
		logging.ConsensusWarn("%s: %s without a statement, sending to review", e.id, d.Action)
		d.Action = ActionReview
		d.Note = NoteNoStatement
	}
	return d
}

func action(d Decision, opts Options) string {
	switch d.Verdict {
	case batch.VerdictValid:
		return ActionKeep
	case batch.VerdictInvalid:
		if d.Confidence < opts.MinConfidence {
			return ActionReview
		}
		if d.Correction != "" && d.Correction != d.Statement && len(fact.Check(d.Correction)) == 0 {
			return ActionUpdate
		}
		if d.Confidence >= opts.DeleteThreshold {
			return ActionDelete
		}
		return ActionReview
	default:
		return ActionReview
	}
}

// mostCommon picks the highest count, breaking ties lexicographically.
func mostCommon(counts map[string]int) string {
	best, bestN := "", 0
	for s, n := range counts {
		if n > bestN || (n == bestN && s < best) {
			best, bestN = s, n
		}
	}
	return best
}

// Actionable returns decisions that change the database, in decision order.
func (r *Result) Actionable() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if d.Action == ActionUpdate || d.Action == ActionDelete {
			out = append(out, d)
		}
	}
	return out
}

// Review returns decisions that need a human.
func (r *Result) Review() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if d.Action == ActionReview {
			out = append(out, d)
		}
	}
	return out
}

func (d Decision) String() string {
	return fmt.Sprintf("%s %s %s (%.2f)", d.ID, d.Verdict, d.Action, d.Confidence)
}
