package engine

import (
	"fmt"

	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/modeladapter/usage"
	"github.com/germanamz/illias/pkg/validate"
)

// Params are the generation settings read at every request.
type Params struct {
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `json:"max_tokens" validate:"gt=0"`
	SystemPrompt string  `json:"system_prompt"`
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("engine: params: %w", err)
	}
	return nil
}

// Stats accumulate over a session until Clear.
type Stats struct {
	MessageCount int     `json:"message_count"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// addReply counts one successful reply.
func (s Stats) addReply() Stats {
	s.MessageCount++
	return s
}

// addUsage folds a usage report priced at r.
func (s Stats) addUsage(u usage.Report, r cost.Rates) Stats {
	b := cost.Estimate(u.InputTokens, u.OutputTokens, r)

	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.TotalCost += b.TotalCost

	return s
}
