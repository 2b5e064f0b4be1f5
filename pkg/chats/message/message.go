// Package message defines the immutable unit of a conversation.
package message

import "github.com/germanamz/illias/pkg/chats/role"

// Message is a single conversation turn. It holds only values, so copies
// handed out by a chat never alias the chat's history.
type Message struct {
	Role    role.Role `json:"role"`
	Content string    `json:"content"`
}

// New creates a message with the given role and text content.
func New(r role.Role, content string) Message {
	return Message{Role: r, Content: content}
}
