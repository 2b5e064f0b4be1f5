// Package modeladapter defines the interface and shared plumbing for LLM
// completion adapters.
//
// It contains:
//   - [Completer] interface and embeddable [ModelAdapter] base struct with HTTP helpers, auth, and custom headers
//   - [RequestError], the single failure kind for non-2xx responses and transport errors
//   - [github.com/germanamz/illias/pkg/modeladapter/usage]: thread-safe token usage tracker
//
// Model configuration (name, temperature, max tokens) is inlined directly on
// the ModelAdapter struct. This package contains no provider-specific code; concrete
// adapters live in separate packages that import modeladapter.
package modeladapter
