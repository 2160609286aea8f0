// Package compose turns a tool result into the final natural-language answer.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/tools"
)

// DefaultSampleRows bounds how many rows of a result reach the model.
const DefaultSampleRows = 10

const systemPrompt = `You turn database query results into short, direct answers.
Use only the result you are given. Do not invent rows or values.
If no rows matched, say that nothing matched.
Answer in plain prose. Never reply with JSON.`

// Completer is the single-shot model call the composer needs. *llm.Gateway
// implements it.
type Completer interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (string, error)
}

// Result is a summarizable tool result. *query.Rows and *query.Scalar
// implement it.
type Result interface {
	Empty() bool
	Summary(sample int) string
}

// Composer is stateless and safe for concurrent use.
type Composer struct {
	model  Completer
	sample int
	logger *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithSampleRows sets how many rows are shown to the model.
func WithSampleRows(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.sample = n
		}
	}
}

// WithLogger sets the composer logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Composer.
func New(model Completer, opts ...Option) *Composer {
	c := &Composer{model: model, sample: DefaultSampleRows, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize renders a tool result the way the composer shows it to the model.
func (c *Composer) Summarize(result any) string {
	if r, ok := result.(Result); ok {
		return r.Summary(c.sample)
	}
	return fmt.Sprintf("%v\n", result)
}

// Compose returns the answer for one turn. A direct answer is returned
// verbatim without a model call. For a tool request, result is summarized
// and the model phrases the answer.
func (c *Composer) Compose(ctx context.Context, question string, decision tools.Decision, result any) (string, error) {
	switch d := decision.(type) {
	case tools.DirectAnswer:
		return d.Text, nil

	case tools.ToolRequest:
		var b strings.Builder
		fmt.Fprintf(&b, "Question: %s\n\n", question)
		fmt.Fprintf(&b, "Tool call: %s %s\n\n", d.Call.Name, argsOrEmpty(d.Call))
		b.WriteString("Result:\n")
		b.WriteString(c.Summarize(result))
		if r, ok := result.(Result); ok && r.Empty() {
			b.WriteString("\nThe query matched nothing.\n")
		}

		c.logger.Debug("composing answer", "tool", d.Call.Name)
		answer, err := c.model.Complete(ctx, systemPrompt, []llm.Message{llm.NewMessage(llm.RoleUser, b.String())})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(answer), nil

	default:
		return "", fmt.Errorf("unknown decision %T", decision)
	}
}

func argsOrEmpty(call tools.Call) string {
	if len(call.Args) == 0 {
		return "{}"
	}
	return string(call.Args)
}
