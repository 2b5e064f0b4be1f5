// Package gemini provides a Completer for the Google Gemini generateContent API.
package gemini

import (
	"context"
	"fmt"
	"net/url"

	"github.com/germanamz/illias/pkg/chats/chat"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/chats/role"
	"github.com/germanamz/illias/pkg/modeladapter"
	"github.com/germanamz/illias/pkg/modeladapter/usage"
)

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Gemini API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. baseURL includes the API version, e.g.
// "https://generativelanguage.googleapis.com/v1beta". The key travels in the
// "key" query parameter.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{ModelAdapter: modeladapter.New(baseURL, modeladapter.Auth{Key: apiKey, Query: "key"}, nil)}
	a.Name = model
	a.MaxTokens = 8192

	return a
}

// Complete sends the conversation and returns the first candidate's first
// text part. Anything missing yields an empty reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat) (message.Message, error) {
	req := a.buildRequest(c)
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(a.Name))

	var resp apiResponse
	if err := a.PostJSON(ctx, path, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	if resp.UsageMetadata != nil {
		a.Usage.Add(usage.Report{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		})
	}

	return message.New(role.Assistant, a.parseText(resp)), nil
}

// --- request types ---

type apiRequest struct {
	Contents          []apiContent        `json:"contents"`
	SystemInstruction *apiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  apiGenerationConfig `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text string `json:"text"`
}

type apiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Candidates    []apiCandidate    `json:"candidates"`
	UsageMetadata *apiUsageMetadata `json:"usageMetadata"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(c *chat.Chat) apiRequest {
	req := apiRequest{
		Contents: make([]apiContent, 0, c.Len()),
		GenerationConfig: apiGenerationConfig{
			Temperature:     a.Temperature,
			MaxOutputTokens: a.MaxTokens,
		},
	}

	if sp := c.SystemPrompt(); sp != "" {
		req.SystemInstruction = &apiContent{Parts: []apiPart{{Text: sp}}}
	}

	c.Each(func(_ int, m message.Message) bool {
		if m.Role != role.System {
			req.Contents = append(req.Contents, apiContent{
				Role:  mapRole(m.Role),
				Parts: []apiPart{{Text: m.Content}},
			})
		}
		return true
	})

	return req
}

// mapRole converts a role to Gemini's vocabulary, which calls the assistant
// "model".
func mapRole(r role.Role) string {
	if r == role.Assistant {
		return "model"
	}

	return "user"
}

func (a *Adapter) parseText(resp apiResponse) string {
	if len(resp.Candidates) == 0 {
		a.Logger().Warn("response without candidates", "model", a.Name)
		return ""
	}

	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		a.Logger().Warn("candidate without parts", "model", a.Name,
			"finish_reason", resp.Candidates[0].FinishReason)
		return ""
	}

	return parts[0].Text
}
