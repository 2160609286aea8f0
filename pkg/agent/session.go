package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/knowledge"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory"
	"github.com/barekit/tabletalk/pkg/observability"
	"github.com/barekit/tabletalk/pkg/prompt"
	"github.com/barekit/tabletalk/pkg/tools"
)

// ErrSessionClosed is returned by Ask on a closed session.
var ErrSessionClosed = errors.New("session is closed")

// Answer is the outcome of one successful turn.
type Answer struct {
	Text string
	// Call is the tool the model asked for, nil for a direct answer.
	Call *tools.Call
	// Result is the tool result as returned by the handler.
	Result any
	// Malformed is set when the model tried to call a tool but the request
	// could not be decoded, and its text was used as the answer instead.
	Malformed bool
}

// Session is one conversation. Turns within a session run one at a time;
// separate sessions run independently.
type Session struct {
	id       string
	agent    *Agent
	snapshot prompt.Snapshot

	mu       sync.Mutex
	closed   atomic.Bool
	lastUsed atomic.Int64
}

// ID returns the session id, which is also the transcript key.
func (s *Session) ID() string { return s.id }

// Snapshot returns the schema context captured when the session started.
func (s *Session) Snapshot() prompt.Snapshot { return s.snapshot }

// LastUsed reports when the session last started a turn.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// History returns the stored transcript.
func (s *Session) History(ctx context.Context) ([]llm.Message, error) {
	return s.agent.memory.Load(ctx, s.id)
}

// Reset clears the stored transcript.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent.memory.Clear(ctx, s.id)
}

// Close marks the session closed. The transcript is kept.
func (s *Session) Close() {
	s.closed.Store(true)
}

// Ask answers one question. On success the question, the tool request and
// its result summary (when a tool ran) and the answer are appended to memory
// in a single batch. A failed turn appends nothing.
func (s *Session) Ask(ctx context.Context, question string) (*Answer, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	a := s.agent
	if a.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.turnTimeout)
		defer cancel()
	}

	answer, exchange, err := s.turn(ctx, question)
	if err == nil {
		if err = a.memory.Append(ctx, s.id, exchange...); err != nil {
			err = fmt.Errorf("failed to record exchange: %w", err)
		}
	}
	if err != nil {
		if ctx.Err() != nil && fault.KindOf(err) != fault.KindTimeout {
			err = fault.Timeout("turn", err)
		}
		outcome := string(fault.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		observability.ObserveTurn(outcome)
		a.logger.Error("turn failed", "session_id", s.id, "kind", outcome, "error", err)
		return nil, err
	}

	switch {
	case answer.Call != nil:
		observability.ObserveTurn("answered")
	case answer.Malformed:
		observability.ObserveTurn(string(fault.KindMalformedOutput))
	default:
		observability.ObserveTurn("direct")
	}
	return answer, nil
}

func (s *Session) turn(ctx context.Context, question string) (*Answer, []llm.Message, error) {
	a := s.agent
	if a.debug {
		a.logger.Info("turn started", "session_id", s.id, "question", question)
	}

	history, err := a.memory.Load(ctx, s.id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	asked := llm.NewMessage(llm.RoleUser, question)
	outgoing := llm.NewMessage(llm.RoleUser, question+s.notes(ctx, question))
	messages := append(append([]llm.Message(nil), memory.Window(history, a.historyTurns)...), outgoing)

	completion, err := a.model.Complete(ctx, s.snapshot.Text, messages)
	if err != nil {
		return nil, nil, err
	}
	if a.debug {
		a.logger.Info("model replied", "session_id", s.id, "completion", completion)
	}

	decision := tools.Parse(completion)
	switch d := decision.(type) {
	case tools.DirectAnswer:
		if d.Malformed {
			a.logger.Warn("model output looked like a tool call but could not be decoded", "session_id", s.id)
		}
		text, err := a.composer.Compose(ctx, question, d, nil)
		if err != nil {
			return nil, nil, err
		}
		ans := &Answer{Text: text, Malformed: d.Malformed}
		return ans, []llm.Message{asked, llm.NewMessage(llm.RoleAssistant, text)}, nil

	case tools.ToolRequest:
		if a.debug {
			a.logger.Info("tool call", "session_id", s.id, "tool", d.Call.Name, "args", string(d.Call.Args))
		}
		result, err := a.registry.Dispatch(ctx, d.Call)
		if err != nil {
			return nil, nil, err
		}
		text, err := a.composer.Compose(ctx, question, d, result)
		if err != nil {
			return nil, nil, err
		}
		call := d.Call
		ans := &Answer{Text: text, Call: &call, Result: result}
		return ans, []llm.Message{
			asked,
			llm.NewMessage(llm.RoleAssistant, recordCall(call)),
			llm.NewMessage(llm.RoleTool, a.composer.Summarize(result)),
			llm.NewMessage(llm.RoleAssistant, text),
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown decision %T", decision)
	}
}

// notes returns the knowledge block for question. Retrieval failures only
// cost the notes, never the turn.
func (s *Session) notes(ctx context.Context, question string) string {
	a := s.agent
	if a.knowledge == nil {
		return ""
	}
	found, err := a.knowledge.Relevant(ctx, question, a.noteLimit)
	if err != nil {
		a.logger.Warn("knowledge lookup failed", "session_id", s.id, "error", err)
		return ""
	}
	return knowledge.Format(found)
}
