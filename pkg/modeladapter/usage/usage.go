// Package usage records provider-reported token counts.
package usage

import "sync"

// Report holds the input and output token counts a provider reported for a
// single completed request. Reports are never mutated after creation.
type Report struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the sum of input and output tokens.
func (r Report) Total() int {
	return r.InputTokens + r.OutputTokens
}

// Tracker accumulates usage reports across multiple LLM calls.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries []Report
}

// Add records a usage report.
func (t *Tracker) Add(r Report) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, r)
}

// Last returns the most recent report.
// The bool is false when the tracker has no entries, which means the provider
// did not report usage.
func (t *Tracker) Last() (Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return Report{}, false
	}

	return t.entries[len(t.entries)-1], true
}
