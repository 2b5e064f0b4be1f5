// Package engine is the composition root of the chat client. It loads the
// provider catalog, builds a wire adapter per request from the session's
// current provider, model and credential, and exposes Session as the single
// frontend-facing API. Frontends (terminal UI, browser bridge) observe
// activity through an EventBus and never import the provider packages
// directly.
package engine
