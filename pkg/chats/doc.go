// Package chats provides a provider-agnostic data model for LLM chat interactions.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/illias/pkg/chats/role]: conversation roles (system, user, assistant)
//   - [github.com/germanamz/illias/pkg/chats/message]: messages composed of a role and text content
//   - [github.com/germanamz/illias/pkg/chats/chat]: append-only conversation container
//
// No provider or API code is included; chats is a foundation layer
// that adapters can build on.
package chats
