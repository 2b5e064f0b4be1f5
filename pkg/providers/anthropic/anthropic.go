// Package anthropic provides a Completer for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/germanamz/illias/pkg/chats/chat"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/chats/role"
	"github.com/germanamz/illias/pkg/modeladapter"
	"github.com/germanamz/illias/pkg/modeladapter/usage"
)

const messagesPath = "/messages"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Anthropic Messages API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. baseURL includes the version segment, e.g.
// "https://api.anthropic.com/v1". The API also expects an anthropic-version
// header; the catalog supplies it through the descriptor's headers.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{ModelAdapter: modeladapter.New(baseURL, modeladapter.Auth{Key: apiKey, Header: "x-api-key"}, nil)}
	a.Name = model
	a.MaxTokens = 4096

	return a
}

// Complete sends the conversation and returns the concatenated text blocks of
// the reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat) (message.Message, error) {
	req := a.buildRequest(c)

	var resp apiResponse
	if err := a.PostJSON(ctx, messagesPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("anthropic: %w", err)
	}

	if resp.Usage != nil {
		a.Usage.Add(usage.Report{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})
	}

	return message.New(role.Assistant, a.parseText(resp)), nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      *apiUsage    `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(c *chat.Chat) apiRequest {
	req := apiRequest{
		Model:       a.Name,
		MaxTokens:   a.MaxTokens,
		System:      c.SystemPrompt(),
		Temperature: a.Temperature,
		Messages:    make([]apiMessage, 0, c.Len()),
	}

	c.Each(func(_ int, m message.Message) bool {
		if m.Role != role.System {
			req.Messages = append(req.Messages, apiMessage{
				Role:    mapRole(m.Role),
				Content: []apiContent{{Type: "text", Text: m.Content}},
			})
		}
		return true
	})

	return req
}

func mapRole(r role.Role) string {
	if r == role.Assistant {
		return "assistant"
	}

	return "user"
}

func (a *Adapter) parseText(resp apiResponse) string {
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if len(resp.Content) == 0 {
		a.Logger().Warn("response without content", "model", a.Name, "stop_reason", resp.StopReason)
	}

	return text
}
