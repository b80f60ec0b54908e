// Package judge sends batches to providers and turns their answers into judged batches.
package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factaudit/internal/batch"
	"factaudit/internal/config"
	"factaudit/internal/logging"
	"factaudit/internal/scorer"
)

var (
	// ErrUnknownProvider is returned for provider kinds or names that are not configured.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingAPIKey is returned when a remote provider has no key.
	ErrMissingAPIKey = errors.New("missing API key")
)

// Provider judges one batch at a time.
type Provider interface {
	Name() string
	Judge(ctx context.Context, b *batch.Batch) (*batch.Judged, error)
}

// Completer sends a system and user prompt to a model and returns its text answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMJudge judges batches with a chat model.
type LLMJudge struct {
	name    string
	model   string
	client  Completer
	timeout time.Duration
}

// NewLLMJudge wraps a completer. A zero timeout means no per-batch deadline.
func NewLLMJudge(name, model string, client Completer, timeout time.Duration) *LLMJudge {
	return &LLMJudge{name: name, model: model, client: client, timeout: timeout}
}

// Name returns the provider name.
func (j *LLMJudge) Name() string { return j.name }

// Judge prompts the model with the batch and parses its answer.
func (j *LLMJudge) Judge(ctx context.Context, b *batch.Batch) (*batch.Judged, error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	timer := logging.StartTimer(logging.CategoryJudge, j.name+" "+b.BatchID)
	text, err := j.client.Complete(ctx, SystemPrompt, BuildPrompt(b))
	timer.StopWithThreshold(60 * time.Second)
	if err != nil {
		logging.JudgeError("%s %s failed: %v", j.name, b.BatchID, err)
		return nil, fmt.Errorf("%s: %w", j.name, err)
	}
	logging.JudgeDebug("%s %s answered %d bytes", j.name, b.BatchID, len(text))

	judged, err := ParseResponse(b, j.model, text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", j.name, err)
	}
	judged.Provider = j.name
	return judged, nil
}

// NewProvider builds the provider described by pc.
func NewProvider(ctx context.Context, pc config.ProviderConfig, sc *scorer.Scorer) (Provider, error) {
	switch pc.Kind {
	case "local":
		return NewLocal(pc.Name, sc), nil
	case "gemini":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("%w for %s (set GEMINI_API_KEY)", ErrMissingAPIKey, pc.Name)
		}
		client, err := NewGeminiClient(ctx, pc.APIKey, pc.Model, pc.Temperature)
		if err != nil {
			return nil, err
		}
		return NewLLMJudge(pc.Name, client.model, client, pc.GetTimeout()), nil
	case "openai", "deepseek":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("%w for %s (set OPENAI_API_KEY or DEEPSEEK_API_KEY)", ErrMissingAPIKey, pc.Name)
		}
		client := NewOpenAIClient(pc.APIKey, pc.BaseURL, pc.Model, pc.Temperature)
		return NewLLMJudge(pc.Name, client.model, client, pc.GetTimeout()), nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownProvider, pc.Kind)
	}
}
