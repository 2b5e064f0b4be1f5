// Package providers groups the wire adapters, one sub-package per request
// schema:
//   - [github.com/germanamz/illias/pkg/providers/openai]: chat-completions message arrays (OpenAI, Groq, Mistral, OpenRouter, xAI and any compatible endpoint)
//   - [github.com/germanamz/illias/pkg/providers/gemini]: Google generateContent contents/parts
//   - [github.com/germanamz/illias/pkg/providers/anthropic]: Anthropic Messages API
//
// Every adapter embeds [github.com/germanamz/illias/pkg/modeladapter.ModelAdapter]
// for auth, HTTP and usage tracking, and implements
// [github.com/germanamz/illias/pkg/modeladapter.Completer]. Which provider an
// adapter talks to is decided entirely by the base URL, auth placement and
// headers it is given.
package providers
