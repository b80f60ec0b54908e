package judge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"factaudit/internal/batch"
)

// SystemPrompt frames every request.
const SystemPrompt = "You are a strict scientific fact checker. Reply with JSON only."

type promptItem struct {
	ID        string `json:"id"`
	Statement string `json:"statement"`
}

// BuildPrompt renders a batch as a user prompt.
func BuildPrompt(b *batch.Batch) string {
	items := make([]promptItem, len(b.Items))
	for i, it := range b.Items {
		items[i] = promptItem{ID: it.ID, Statement: it.Statement}
	}
	itemsJSON, _ := json.MarshalIndent(items, "", "  ")

	var sb strings.Builder
	sb.WriteString(b.Instructions)
	fmt.Fprintf(&sb, "\n\nbatch_id: %s\nprovider: %s\n\noutput_schema:\n%s\n\nitems:\n%s\n",
		b.BatchID, b.Provider, b.OutputSchema, itemsJSON)
	return sb.String()
}

// ParseResponse extracts judgments from model output. Code fences and surrounding prose are
// ignored, ids not in the batch are dropped, and items without an answer become uncertain.
func ParseResponse(b *batch.Batch, model, text string) (*batch.Judged, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var results []batch.Judgment
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("failed to parse results array: %w", err)
		}
	} else {
		var obj struct {
			Results []batch.Judgment `json:"results"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse results object: %w", err)
		}
		results = obj.Results
	}

	byID := make(map[string]batch.Judgment, len(results))
	for _, r := range results {
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = r
		}
	}

	j := &batch.Judged{
		BatchID:  b.BatchID,
		RunID:    b.RunID,
		Provider: b.Provider,
		Model:    model,
		JudgedAt: time.Now().UTC(),
		Results:  make([]batch.Judgment, 0, len(b.Items)),
	}
	for _, it := range b.Items {
		r, ok := byID[it.ID]
		if !ok {
			j.Results = append(j.Results, batch.Judgment{
				ID: it.ID, Statement: it.Statement, Verdict: batch.VerdictUncertain, Reason: "no verdict returned",
			})
			continue
		}
		r.Statement = it.Statement
		r.Verdict = strings.ToLower(strings.TrimSpace(r.Verdict))
		switch r.Verdict {
		case batch.VerdictValid, batch.VerdictInvalid, batch.VerdictUncertain:
		default:
			r.Reason = strings.TrimSpace(fmt.Sprintf("unrecognized verdict %q. %s", r.Verdict, r.Reason))
			r.Verdict = batch.VerdictUncertain
		}
		if math.IsNaN(r.Confidence) {
			r.Confidence = 0
		}
		r.Confidence = math.Max(0, math.Min(1, r.Confidence))
		r.Correction = strings.TrimSpace(r.Correction)
		j.Results = append(j.Results, r)
	}
	return j, nil
}

// extractJSON returns the first complete JSON object or array in text.
func extractJSON(text string) ([]byte, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON found in response")
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed JSON in response: %w", err)
	}
	return bytes.TrimSpace(raw), nil
}
