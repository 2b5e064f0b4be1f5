// Package webbridge exposes one engine session to a browser frontend: a small
// JSON API for the session operations and a WebSocket that streams session
// events as they happen.
//
// The bridge never returns the credential; GET endpoints only report whether
// one is set.
package webbridge
