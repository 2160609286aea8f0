package inmemory

import (
	"context"
	"sync"

	"github.com/barekit/tabletalk/pkg/llm"
)

// InMemory keeps transcripts in a map. Transcripts do not survive a restart.
type InMemory struct {
	mu       sync.RWMutex
	messages map[string][]llm.Message
}

// New creates a new InMemory store.
func New() *InMemory {
	return &InMemory{
		messages: make(map[string][]llm.Message),
	}
}

// Append adds msgs under a single lock.
func (m *InMemory) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[sessionID] = append(m.messages[sessionID], msgs...)
	return nil
}

// Load returns a copy of the transcript.
func (m *InMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	result := make([]llm.Message, len(msgs))
	copy(result, msgs)

	return result, nil
}

// Clear drops the transcript.
func (m *InMemory) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, sessionID)
	return nil
}
