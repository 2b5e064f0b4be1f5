package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"

	"github.com/germanamz/illias/pkg/chats/chat"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/modeladapter/usage"
)

// Completer sends a conversation to an LLM and returns the assistant's reply.
// A system message in the chat, if any, carries the system prompt.
type Completer interface {
	Complete(ctx context.Context, c *chat.Chat) (message.Message, error)
}

// UsageReporter provides token usage information from a completer.
// Completers that embed ModelAdapter implement this interface automatically.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
}

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
	Query  string // Query parameter name; when set the key is sent in the URL instead of a header.
}

// ModelAdapter holds shared state for LLM provider implementations. Embed it in
// concrete provider structs to get HTTP helpers, auth, custom headers, and
// usage tracking. Concrete types supply the Complete method.
type ModelAdapter struct {
	Name        string            // Model identifier (e.g. "gemini-2.0-flash").
	Temperature float64           // Sampling temperature.
	MaxTokens   int               // Maximum tokens in the response.
	Auth        Auth              // Authentication settings.
	BaseURL     string            // API base URL (no trailing slash).
	Client      *http.Client      // HTTP client; falls back to http.DefaultClient.
	Headers     map[string]string // Extra headers applied to every request.
	Usage       usage.Tracker     // Token usage tracker.
	Log         *slog.Logger      // Optional logger; nil discards.
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to http.DefaultClient at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

// httpClient returns the configured client or http.DefaultClient. No timeout
// is imposed here; callers bound requests through the context or the client.
func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	return http.DefaultClient
}

// Logger returns the configured logger or one that discards everything.
func (a *ModelAdapter) Logger() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}

	return slog.New(slog.DiscardHandler)
}

// AddHeaders merges h into the extra headers, overriding existing keys.
func (a *ModelAdapter) AddHeaders(h map[string]string) {
	if len(h) == 0 {
		return
	}

	if a.Headers == nil {
		a.Headers = make(map[string]string, len(h))
	}

	maps.Copy(a.Headers, h)
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(a.BaseURL + path)
	if err != nil {
		return nil, err
	}

	if a.Auth.Key != "" && a.Auth.Query != "" {
		q := u.Query()
		q.Set(a.Auth.Query, a.Auth.Key)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}

	// Apply header auth.
	if a.Auth.Key != "" && a.Auth.Query == "" {
		header := a.Auth.Header
		if header == "" {
			header = "Authorization"
		}

		value := a.Auth.Key
		if header == "Authorization" {
			scheme := a.Auth.Scheme
			if scheme == "" {
				scheme = "Bearer"
			}

			value = scheme + " " + value
		} else if a.Auth.Scheme != "" {
			value = a.Auth.Scheme + " " + value
		}

		req.Header.Set(header, value)
	}

	// Apply custom headers.
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL is built from trusted catalog config, not user input.
}

// PostJSON marshals payload as JSON, sends a POST to the given path and checks
// for a 2xx status. Non-2xx answers and transport failures are returned as
// *RequestError. On success the body is decoded into dest with DecodeSoft; if
// dest is nil the body is discarded.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return &RequestError{Message: transportMessage(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: transportMessage(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp.StatusCode, respBody)
	}

	if dest == nil {
		return nil
	}

	return a.DecodeSoft(respBody, dest)
}

// DecodeSoft unmarshals a successful response body into dest. A body that is
// not JSON at all is an error. Valid JSON whose shape does not match dest is
// logged and decoded as far as possible, leaving mismatched fields zero.
func (a *ModelAdapter) DecodeSoft(body []byte, dest any) error {
	if !json.Valid(body) {
		return &RequestError{Message: "invalid JSON in response", Body: string(body)}
	}

	err := json.Unmarshal(body, dest)

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		a.Logger().Warn("unexpected response shape",
			"model", a.Name,
			"field", typeErr.Field,
			"value", typeErr.Value,
		)
		return nil
	}

	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func transportMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		// Drop the URL: it may carry a query-string credential.
		return ue.Op + ": " + ue.Err.Error()
	}

	return err.Error()
}
