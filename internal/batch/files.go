package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"factaudit/internal/logging"
)

// ManifestName is the file written next to provider directories.
const ManifestName = "manifest.json"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrStale is returned for a judged file that answers another run or batch.
var ErrStale = errors.New("judged batch belongs to another run")

// ManifestEntry locates one batch file relative to the batch directory.
type ManifestEntry struct {
	Provider string `json:"provider"`
	BatchID  string `json:"batch_id"`
	Path     string `json:"path"`
	Items    int    `json:"items"`
}

// Manifest lists every batch of a run.
type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Providers []string        `json:"providers"`
	Items     int             `json:"items"`
	Batches   []ManifestEntry `json:"batches"`
}

// ForProvider returns the entries of one provider.
func (m *Manifest) ForProvider(provider string) []ManifestEntry {
	var out []ManifestEntry
	for _, e := range m.Batches {
		if e.Provider == provider {
			out = append(out, e)
		}
	}
	return out
}

// LoadJudgedFor loads the judged file of e under resultsDir and checks that it answers
// batch e of this manifest's run. A file without a run_id counts only when it was written
// after the manifest was created.
func (m *Manifest) LoadJudgedFor(resultsDir string, e ManifestEntry) (*Judged, error) {
	path := FilePath(resultsDir, e.Provider, e.BatchID)
	j, err := LoadJudged(path)
	if err != nil {
		return nil, err
	}
	if j.BatchID != e.BatchID {
		return nil, fmt.Errorf("%w: %s answers batch %s", ErrStale, path, j.BatchID)
	}
	switch {
	case j.RunID == m.RunID:
	case j.RunID == "":
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.ModTime().Before(m.CreatedAt) {
			return nil, fmt.Errorf("%w: %s predates run %s", ErrStale, path, m.RunID)
		}
	default:
		return nil, fmt.Errorf("%w: %s is from run %s, want %s", ErrStale, path, j.RunID, m.RunID)
	}
	return j, nil
}

// FilePath returns where a batch or judged batch lives under dir.
func FilePath(dir, provider, batchID string) string {
	return filepath.Join(dir, provider, batchID+".json")
}

// WriteAll writes each batch to <dir>/<provider>/<batch_id>.json and a manifest.
func WriteAll(dir string, batches []*Batch) (*Manifest, error) {
	m := &Manifest{CreatedAt: time.Now().UTC()}
	seenProvider := make(map[string]bool)
	itemIDs := make(map[string]bool)

	for _, b := range batches {
		path := FilePath(dir, b.Provider, b.BatchID)
		if err := writeJSON(path, b); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(dir, path)
		m.Batches = append(m.Batches, ManifestEntry{Provider: b.Provider, BatchID: b.BatchID, Path: rel, Items: len(b.Items)})
		m.RunID = b.RunID
		if !seenProvider[b.Provider] {
			seenProvider[b.Provider] = true
			m.Providers = append(m.Providers, b.Provider)
		}
		for _, it := range b.Items {
			itemIDs[it.ID] = true
		}
	}
	m.Items = len(itemIDs)

	if err := writeJSON(filepath.Join(dir, ManifestName), m); err != nil {
		return nil, err
	}
	logging.Batch("Wrote %d batches to %s", len(batches), dir)
	return m, nil
}

// LoadManifest reads <dir>/manifest.json.
func LoadManifest(dir string) (*Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(dir, ManifestName), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadBatch reads a batch file.
func LoadBatch(path string) (*Batch, error) {
	var b Batch
	if err := readJSON(path, &b); err != nil {
		return nil, err
	}
	if b.BatchID == "" || b.Provider == "" {
		return nil, fmt.Errorf("batch %s is missing batch_id or provider", path)
	}
	return &b, nil
}

// WriteJudged writes a judged batch.
func WriteJudged(path string, j *Judged) error {
	if err := j.Validate(); err != nil {
		return err
	}
	return writeJSON(path, j)
}

// LoadJudged reads and validates a judged batch. Verdicts are compared case-insensitively.
func LoadJudged(path string) (*Judged, error) {
	var j Judged
	if err := readJSON(path, &j); err != nil {
		return nil, err
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &j, nil
}

// Validate normalizes verdict case and checks the output schema.
func (j *Judged) Validate() error {
	for i := range j.Results {
		j.Results[i].Verdict = strings.ToLower(strings.TrimSpace(j.Results[i].Verdict))
	}
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("judged batch does not match output schema: %w", err)
	}
	return nil
}

// writeJSON writes through a temp file so readers never see a partial file.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
