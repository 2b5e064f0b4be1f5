// Package openai provides a Completer for the OpenAI-compatible Chat
// Completions API. Groq, Mistral, OpenRouter and xAI speak the same shape.
package openai

import (
	"context"
	"fmt"

	"github.com/germanamz/illias/pkg/chats/chat"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/chats/role"
	"github.com/germanamz/illias/pkg/modeladapter"
	"github.com/germanamz/illias/pkg/modeladapter/usage"
)

const completionsPath = "/chat/completions"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for chat-completions endpoints.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. baseURL includes the version segment, e.g.
// "https://api.groq.com/openai/v1" (no trailing slash). The key is sent as
// "Authorization: Bearer <key>" unless Auth is changed afterwards.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{ModelAdapter: modeladapter.New(baseURL, modeladapter.Auth{Key: apiKey}, nil)}
	a.Name = model
	a.MaxTokens = 4096

	return a
}

// Complete sends the conversation and returns the assistant's reply. A
// missing choice yields an empty reply; missing usage leaves the tracker
// untouched.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat) (message.Message, error) {
	req := a.buildRequest(c)

	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", err)
	}

	if resp.Usage != nil {
		a.Usage.Add(usage.Report{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		})
	}

	if len(resp.Choices) == 0 {
		a.Logger().Warn("response without choices", "model", a.Name)
		return message.New(role.Assistant, ""), nil
	}

	return message.New(role.Assistant, resp.Choices[0].Message.Content), nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   *apiUsage   `json:"usage"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// --- conversion helpers ---

// buildRequest puts the system prompt, if any, first and keeps the remaining
// messages in chat order.
func (a *Adapter) buildRequest(c *chat.Chat) apiRequest {
	req := apiRequest{
		Model:       a.Name,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		Messages:    make([]apiMessage, 0, c.Len()),
	}

	if sp := c.SystemPrompt(); sp != "" {
		req.Messages = append(req.Messages, apiMessage{Role: string(role.System), Content: sp})
	}

	c.Each(func(_ int, m message.Message) bool {
		if m.Role != role.System {
			req.Messages = append(req.Messages, apiMessage{Role: string(m.Role), Content: m.Content})
		}
		return true
	})

	return req
}
