// Package llm adapts the analysis and chat calls to a concrete model
// provider. Callers build provider-neutral requests; each Provider maps them
// onto its own SDK.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role is the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts only the two roles a provider understands.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PartKind distinguishes attached documents from instruction text.
type PartKind int

const (
	PartText PartKind = iota
	PartDocument
)

// Part is one block of the analysis user turn. Document data is base64.
type Part struct {
	Kind      PartKind
	MediaType string
	Data      string
	Text      string
}

// TextPart builds an instruction block.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// DocumentPart builds a base64 document block.
func DocumentPart(mediaType, data string) Part {
	return Part{Kind: PartDocument, MediaType: mediaType, Data: data}
}

// CompletionRequest is a single blocking call with one user turn.
type CompletionRequest struct {
	System    string
	Parts     []Part
	MaxTokens int64
}

// ChatRequest replays a conversation and streams the reply.
type ChatRequest struct {
	System    string
	Messages  []Message
	MaxTokens int64
}

// Provider is implemented by Anthropic and Gemini.
type Provider interface {
	// Complete returns the concatenated text blocks of the reply.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream calls onDelta for every text fragment. An error from onDelta
	// stops the stream and is returned.
	Stream(ctx context.Context, req ChatRequest, onDelta func(string) error) error
}

// ErrEmptyConversation is returned when a chat has no messages to send.
var ErrEmptyConversation = errors.New("messages must not be empty")

// ValidateMessages checks the conversation before any provider call.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return ErrEmptyConversation
	}
	for i, m := range msgs {
		if _, err := ParseRole(string(m.Role)); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	if msgs[len(msgs)-1].Role != RoleUser {
		return errors.New("last message must come from the user")
	}
	return nil
}
