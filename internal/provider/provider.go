// Package provider holds the pieces shared by the generation provider
// adapters: the common job status, prediction shape, sentinel errors,
// a JSON REST transport and the wait-for-completion loop.
package provider

import (
	"github.com/mediaforge/mediaforge/pkg/models"
)

// Status is a provider job status mapped onto the shared job lifecycle.
type Status string

const (
	StatusStarting   Status = models.PredictionStarting
	StatusProcessing Status = models.PredictionProcessing
	StatusSucceeded  Status = models.PredictionSucceeded
	StatusFailed     Status = models.PredictionFailed
	StatusCanceled   Status = models.PredictionCanceled
)

// IsTerminal reports whether the job will not change status again.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Metrics carries the provider-reported usage figures, when available.
type Metrics struct {
	PredictTime *float64 `json:"predict_time,omitempty"`
}

// Prediction is the provider-neutral view of one job.
type Prediction struct {
	ID      string
	Status  Status
	Output  []string
	Error   string
	Metrics Metrics
}

// OutputURLs flattens a provider output value into a list of URLs. Providers
// return a single string, a list of strings, or an object with a "url" field.
func OutputURLs(v any) []string {
	switch out := v.(type) {
	case nil:
		return nil
	case string:
		if out == "" {
			return nil
		}
		return []string{out}
	case []string:
		return out
	case []any:
		var urls []string
		for _, item := range out {
			urls = append(urls, OutputURLs(item)...)
		}
		return urls
	case map[string]any:
		if u, ok := out["url"].(string); ok && u != "" {
			return []string{u}
		}
		for _, key := range []string{"video", "audio", "image", "images", "output"} {
			if nested, ok := out[key]; ok {
				if urls := OutputURLs(nested); len(urls) > 0 {
					return urls
				}
			}
		}
	}
	return nil
}
