package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/barekit/tabletalk/pkg/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Reply is one scripted provider outcome.
type Reply struct {
	Text string
	Err  error
}

// Provider is a scripted llm.Provider. It returns Replies in order and
// records every request it receives.
type Provider struct {
	mu       sync.Mutex
	Replies  []Reply
	Requests []llm.Request
	// CompleteFn, when set, replaces the scripted replies.
	CompleteFn func(ctx context.Context, req llm.Request) (string, error)
}

// Text returns a provider that answers with the given completions in order.
func Text(completions ...string) *Provider {
	p := &Provider{}
	for _, c := range completions {
		p.Replies = append(p.Replies, Reply{Text: c})
	}
	return p
}

func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	n := len(p.Requests)
	fn := p.CompleteFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if n > len(p.Replies) {
		return "", fmt.Errorf("mock provider: unexpected call %d", n)
	}
	r := p.Replies[n-1]
	return r.Text, r.Err
}

// Calls returns the number of requests received so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
