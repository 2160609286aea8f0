// Package agent runs question turns: it sends the question with the schema
// context to the model, runs at most one tool, composes the answer and
// records the exchange.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/barekit/tabletalk/pkg/compose"
	"github.com/barekit/tabletalk/pkg/knowledge"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory"
	"github.com/barekit/tabletalk/pkg/memory/inmemory"
	"github.com/barekit/tabletalk/pkg/prompt"
	"github.com/barekit/tabletalk/pkg/schema"
	"github.com/barekit/tabletalk/pkg/tools"
	"github.com/google/uuid"
)

const (
	// DefaultHistoryTurns is how many stored messages are sent with a question.
	DefaultHistoryTurns = 40
	// DefaultTurnTimeout bounds one question end to end.
	DefaultTurnTimeout = 60 * time.Second
	// DefaultNoteLimit is how many knowledge notes are attached to a question.
	DefaultNoteLimit = 3
)

// Model is the completion call the agent needs. *llm.Gateway implements it.
type Model interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (string, error)
}

// Retriever finds notes relevant to a question. *knowledge.Base implements it.
type Retriever interface {
	Relevant(ctx context.Context, question string, limit int) ([]knowledge.Note, error)
}

// Agent holds everything shared by sessions. It is immutable after New and
// safe for concurrent use.
type Agent struct {
	model        Model
	registry     *tools.Registry
	schema       *schema.Schema
	composer     *compose.Composer
	memory       memory.Store
	knowledge    Retriever
	noteLimit    int
	historyTurns int
	turnTimeout  time.Duration
	debug        bool
	logger       *slog.Logger
}

// Option is a function that configures an Agent.
type Option func(*Agent)

// WithMemory sets the transcript store. The default keeps transcripts in process.
func WithMemory(store memory.Store) Option {
	return func(a *Agent) {
		if store != nil {
			a.memory = store
		}
	}
}

// WithKnowledge attaches up to limit notes from r to each question.
func WithKnowledge(r Retriever, limit int) Option {
	return func(a *Agent) {
		a.knowledge = r
		if limit > 0 {
			a.noteLimit = limit
		}
	}
}

// WithComposer replaces the default composer.
func WithComposer(c *compose.Composer) Option {
	return func(a *Agent) {
		if c != nil {
			a.composer = c
		}
	}
}

// WithHistoryTurns sets how many stored messages accompany a question.
// Zero or less sends the whole transcript.
func WithHistoryTurns(n int) Option {
	return func(a *Agent) {
		a.historyTurns = n
	}
}

// WithTurnTimeout bounds each question. Zero disables the deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.turnTimeout = d
	}
}

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDebug logs prompts, completions and tool calls at info level.
func WithDebug(enable bool) Option {
	return func(a *Agent) {
		a.debug = enable
	}
}

// New creates an Agent over the given model, tool catalog and schema.
func New(model Model, registry *tools.Registry, s *schema.Schema, opts ...Option) (*Agent, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}

	a := &Agent{
		model:        model,
		registry:     registry,
		schema:       s,
		memory:       inmemory.New(),
		noteLimit:    DefaultNoteLimit,
		historyTurns: DefaultHistoryTurns,
		turnTimeout:  DefaultTurnTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.composer == nil {
		a.composer = compose.New(model, compose.WithLogger(a.logger))
	}
	return a, nil
}

// Context renders the system context new sessions start with.
func (a *Agent) Context() prompt.Snapshot {
	return prompt.BuildContext(a.schema, a.registry)
}

// NewSession starts a session with a fresh id.
func (a *Agent) NewSession() *Session {
	return a.Resume(uuid.NewString())
}

// Resume returns a session bound to an existing transcript id. The schema
// context is captured now and does not change for the life of the session.
func (a *Agent) Resume(id string) *Session {
	s := &Session{
		id:       id,
		agent:    a,
		snapshot: a.Context(),
	}
	s.touch()
	if a.debug {
		a.logger.Info("session opened", "session_id", id, "context_fingerprint", s.snapshot.Fingerprint)
	}
	return s
}

// recordCall renders a tool call the way the model is asked to write it.
func recordCall(call tools.Call) string {
	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	b, err := json.Marshal(tools.Call{Name: call.Name, Args: args})
	if err != nil {
		return fmt.Sprintf(`{"tool": %q, "parameters": %s}`, call.Name, args)
	}
	return string(b)
}
