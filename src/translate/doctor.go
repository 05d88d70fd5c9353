package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// SampleText is translated by Doctor to prove the model answers.
const SampleText = "こんにちは世界"

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Report is the outcome of a connectivity check.
type Report struct {
	Models       []string `json:"models"`
	ModelPresent bool     `json:"model_present"`
	Sample       string   `json:"sample,omitempty"`
	SampleError  string   `json:"sample_error,omitempty"`
}

// ListModels returns the model names the Ollama server has pulled.
func ListModels(ctx context.Context, baseURL string) ([]string, error) {
	var tags tagsResponse
	resp, err := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second).
		R().
		SetContext(ctx).
		SetResult(&tags).
		Get("/api/tags")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama at %s: %w", baseURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode())
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// Doctor checks that Ollama is reachable, that model is pulled, and that it
// translates a sample phrase. Connectivity failures are returned as errors;
// a missing model or failed sample is reported in the Report.
func Doctor(ctx context.Context, baseURL, model string) (*Report, error) {
	models, err := ListModels(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	report := &Report{Models: models, ModelPresent: hasModel(models, model)}
	if !report.ModelPresent {
		return report, nil
	}

	t, err := NewOllama(baseURL, model, WithRetries(0))
	if err != nil {
		return nil, err
	}
	sample, err := t.Translate(ctx, SampleText)
	if err != nil {
		report.SampleError = err.Error()
		return report, nil
	}
	report.Sample = sample
	return report, nil
}

func hasModel(models []string, want string) bool {
	for _, m := range models {
		if m == want || m == want+":latest" || strings.TrimSuffix(m, ":latest") == want {
			return true
		}
	}
	return false
}
