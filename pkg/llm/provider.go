package llm

import (
	"context"
	"errors"
	"time"
)

// Role represents the role of the message sender (system, user, assistant, tool).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool result recorded in the conversation.
	RoleTool Role = "tool"
)

// Message is a single turn in the conversation. Messages are immutable once
// appended to memory.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Time: time.Now().UTC()}
}

// Request is one completion request: the system context plus the ordered turns.
type Request struct {
	System   string
	Messages []Message
}

// Provider is the transport to a model service. Implementations never
// interpret the completion and must not retry on their own; the Gateway owns
// the retry policy. A provider marks permanent failures with Permanent.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (bad credentials, malformed request).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
