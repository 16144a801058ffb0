package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/pkg/models"
)

// Payload is a provider callback body. Replicate sends this shape directly;
// the Hedra poller and the fal waiter synthesize it.
type Payload struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Provider string          `json:"provider,omitempty"`
	Model    string          `json:"model,omitempty"`
	Input    map[string]any  `json:"input"`
	Output   any             `json:"output"`
	Error    any             `json:"error"`
	Metrics  *PayloadMetrics `json:"metrics,omitempty"`
}

type PayloadMetrics struct {
	PredictTime *float64 `json:"predict_time,omitempty"`
}

// Summary is what a delivery did. It is returned to the caller as JSON.
type Summary struct {
	PredictionID string          `json:"prediction_id"`
	Tool         models.ToolType `json:"tool"`
	Status       string          `json:"status"`
	Stored       int             `json:"stored"`
	Failed       int             `json:"failed"`
	Duplicate    bool            `json:"duplicate"`
}

var validStatuses = map[string]bool{
	models.PredictionStarting:   true,
	models.PredictionProcessing: true,
	models.PredictionSucceeded:  true,
	models.PredictionFailed:     true,
	models.PredictionCanceled:   true,
}

func (p Payload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	if !validStatuses[p.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, p.Status)
	}
	return nil
}

// ErrorMessage returns the provider error as text. Replicate sends a string;
// other shapes are rendered as JSON.
func (p Payload) ErrorMessage() string {
	switch e := p.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	case map[string]any:
		for _, key := range []string{"message", "detail", "error"} {
			if s, ok := e[key].(string); ok && s != "" {
				return s
			}
		}
	}
	raw, err := json.Marshal(p.Error)
	if err != nil {
		return fmt.Sprint(p.Error)
	}
	return string(raw)
}

// MergeHints copies tool and user_id hints into the input without
// overwriting values the provider already echoed back.
func (p *Payload) MergeHints(hints map[string]string) {
	for _, key := range []string{"tool", "user_id"} {
		v := hints[key]
		if v == "" {
			continue
		}
		if p.Input == nil {
			p.Input = make(map[string]any)
		}
		if _, exists := p.Input[key]; !exists {
			p.Input[key] = v
		}
	}
}

func (p Payload) userID() *uuid.UUID {
	s, ok := p.Input["user_id"].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func (p Payload) prompt() *string {
	s, ok := p.Input["prompt"].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func encodeInput(input map[string]any) (json.RawMessage, error) {
	if input == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding prediction input: %w", err)
	}
	return raw, nil
}
