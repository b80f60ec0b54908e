// Package batch builds provider-specific judgment batches and reads judged results.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"factaudit/internal/logging"
	"factaudit/internal/sampler"
	"factaudit/internal/scorer"
)

// Item origins.
const (
	OriginStratified = "stratified"
	OriginUncertain  = "uncertain"
	OriginBoth       = "both"
)

// Verdicts a judge may return.
const (
	VerdictValid     = "valid"
	VerdictInvalid   = "invalid"
	VerdictUncertain = "uncertain"
)

var (
	// ErrNoItems is returned when there is nothing to batch.
	ErrNoItems = errors.New("no items to batch")
	// ErrNoProviders is returned when no provider is named.
	ErrNoProviders = errors.New("no providers")
)

// Instructions is sent with every batch.
const Instructions = `You are validating facts from a scientific knowledge base.
Each item is a statement of the form Predicate(Arg1, Arg2, ...).
For every item decide whether the statement is factually and structurally correct.
Answer with a single JSON object matching output_schema: one result per item id.
verdict is "valid", "invalid" or "uncertain"; confidence is between 0 and 1.
When a statement is invalid but can be repaired, put the corrected statement in
correction using the same Predicate(Args). form. Do not add items that were not asked.`

// OutputSchema is the fixed shape judged batches must have.
var OutputSchema = json.RawMessage(`{
  "type": "object",
  "required": ["batch_id", "provider", "results"],
  "properties": {
    "batch_id": {"type": "string"},
    "provider": {"type": "string"},
    "model": {"type": "string"},
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "verdict", "confidence"],
        "properties": {
          "id": {"type": "string"},
          "statement": {"type": "string"},
          "verdict": {"type": "string", "enum": ["valid", "invalid", "uncertain"]},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "reason": {"type": "string"},
          "correction": {"type": "string"}
        }
      }
    }
  }
}`)

// Item is one statement to judge.
type Item struct {
	ID          string   `json:"id"`
	Statement   string   `json:"statement"`
	Predicate   string   `json:"predicate"`
	Origin      string   `json:"origin"`
	Stratum     string   `json:"stratum,omitempty"`
	Uncertainty float64  `json:"uncertainty"`
	Signals     []string `json:"signals,omitempty"`
}

// Batch is the file handed to one provider.
type Batch struct {
	BatchID      string          `json:"batch_id"`
	RunID        string          `json:"run_id"`
	Provider     string          `json:"provider"`
	CreatedAt    time.Time       `json:"created_at"`
	Instructions string          `json:"instructions"`
	OutputSchema json.RawMessage `json:"output_schema"`
	Items        []Item          `json:"items"`
}

// Judgment is a provider's verdict on one item.
type Judgment struct {
	ID         string  `json:"id" validate:"required"`
	Statement  string  `json:"statement,omitempty"`
	Verdict    string  `json:"verdict" validate:"required,oneof=valid invalid uncertain"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reason     string  `json:"reason,omitempty"`
	Correction string  `json:"correction,omitempty"`
}

// Judged is a provider's answer file for one batch.
type Judged struct {
	BatchID  string     `json:"batch_id" validate:"required"`
	RunID    string     `json:"run_id,omitempty"`
	Provider string     `json:"provider" validate:"required"`
	Model    string     `json:"model,omitempty"`
	JudgedAt time.Time  `json:"judged_at"`
	Results  []Judgment `json:"results" validate:"dive"`
}

// Merge combines stratified sample items with the top uncertain assessments.
// Stratified items keep sample order, uncertain items follow in rank order, and a
// statement found in both is emitted once with origin "both".
func Merge(sampled []sampler.Item, uncertain []scorer.Assessment) []Item {
	byStatement := make(map[string]scorer.Assessment, len(uncertain))
	for _, a := range uncertain {
		if _, ok := byStatement[a.Statement]; !ok {
			byStatement[a.Statement] = a
		}
	}

	items := make([]Item, 0, len(sampled)+len(uncertain))
	seen := make(map[string]bool, cap(items))
	for _, s := range sampled {
		if seen[s.Statement] {
			continue
		}
		seen[s.Statement] = true
		it := Item{Statement: s.Statement, Predicate: s.Predicate, Origin: OriginStratified, Stratum: s.Stratum}
		if a, ok := byStatement[s.Statement]; ok {
			it.Origin = OriginBoth
			it.Uncertainty = a.Score
			it.Signals = a.SignalNames()
		}
		items = append(items, it)
	}
	for _, a := range uncertain {
		if seen[a.Statement] {
			continue
		}
		seen[a.Statement] = true
		items = append(items, Item{
			Statement:   a.Statement,
			Predicate:   a.Predicate,
			Origin:      OriginUncertain,
			Uncertainty: a.Score,
			Signals:     a.SignalNames(),
		})
	}
	for i := range items {
		items[i].ID = fmt.Sprintf("f%04d", i+1)
	}
	return items
}

// Build splits items into batches of at most size for every provider. Every provider
// receives every item so verdicts can be compared.
func Build(runID string, items []Item, providers []string, size int) ([]*Batch, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if size < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}

	now := time.Now().UTC()
	var out []*Batch
	for _, p := range providers {
		for n, start := 0, 0; start < len(items); n, start = n+1, start+size {
			end := min(start+size, len(items))
			out = append(out, &Batch{
				BatchID:      fmt.Sprintf("%s_%03d", p, n+1),
				RunID:        runID,
				Provider:     p,
				CreatedAt:    now,
				Instructions: Instructions,
				OutputSchema: OutputSchema,
				Items:        append([]Item(nil), items[start:end]...),
			})
		}
	}
	logging.Batch("Built %d batches for %d providers from %d items", len(out), len(providers), len(items))
	return out, nil
}
