package modeladapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FallbackMessage is shown when a failure carries no usable message.
const FallbackMessage = "Something went wrong. Check your API key and try again."

// RequestError is returned when a completion request fails, either because the
// provider answered with a non-2xx status or because the transport failed
// (StatusCode is zero in that case). Message is suitable for display.
type RequestError struct {
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ErrorMessage returns the display message for err. Request failures yield
// their derived message, anything else its error text.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var re *RequestError
	if errors.As(err, &re) && strings.TrimSpace(re.Message) != "" {
		return re.Message
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}

	return FallbackMessage
}

// errorEnvelope covers the error body shapes used by the supported providers:
// {"error":{"message":...}} (OpenAI-compatible, Gemini, Anthropic),
// {"error":"..."} and {"message":"..."} (Mistral).
type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type errorDetail struct {
	Message string `json:"message"`
}

// newStatusError builds a RequestError from a non-2xx response body.
func newStatusError(status int, body []byte) *RequestError {
	return &RequestError{
		StatusCode: status,
		Message:    errorMessageFromBody(status, body),
		Body:       string(body),
	}
}

func errorMessageFromBody(status int, body []byte) string {
	fallback := fmt.Sprintf("API error %d", status)

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fallback
	}

	raw := bytes.TrimSpace(env.Error)
	if len(raw) > 0 {
		var detail errorDetail
		if err := json.Unmarshal(raw, &detail); err == nil && strings.TrimSpace(detail.Message) != "" {
			return detail.Message
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}

	if strings.TrimSpace(env.Message) != "" {
		return env.Message
	}

	return fallback
}
