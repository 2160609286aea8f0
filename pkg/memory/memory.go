package memory

import (
	"context"

	"github.com/barekit/tabletalk/pkg/llm"
)

// Store holds the transcript of each session.
type Store interface {
	// Append adds msgs to the end of the session transcript. The batch is
	// written atomically: either every message is stored or none is.
	Append(ctx context.Context, sessionID string, msgs ...llm.Message) error
	// Load returns the transcript in append order.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	// Clear removes the transcript.
	Clear(ctx context.Context, sessionID string) error
}

// Window returns the last n messages. It never modifies what is stored;
// n <= 0 returns everything.
func Window(msgs []llm.Message, n int) []llm.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
