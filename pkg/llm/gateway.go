package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/observability"
	"github.com/barekit/tabletalk/pkg/retry"
	"golang.org/x/time/rate"
)

// Gateway sends completion requests to a Provider with a per-call timeout,
// optional pacing and bounded retries. It is stateless and safe for
// concurrent use by many sessions.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	policy   retry.Policy
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout sets the deadline applied to each individual attempt.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p retry.Policy) GatewayOption {
	return func(g *Gateway) {
		g.policy = p
	}
}

// WithRateLimit paces calls to at most rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64) GatewayOption {
	return func(g *Gateway) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a Gateway around provider.
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		timeout:  30 * time.Second,
		policy:   retry.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete returns the completion text for the system context and turns.
// Failures come back as *fault.Error of kind transport, or timeout when the
// caller's context expired.
func (g *Gateway) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	req := Request{System: system, Messages: messages}

	out, err := retry.Do(ctx, g.policy, g.retryable, func(attempt int, err error) {
		observability.ObserveRetry("llm")
		g.logger.Warn("retrying model call", "attempt", attempt, "error", err)
	}, func(ctx context.Context) (string, error) {
		return g.attempt(ctx, req)
	})
	if err != nil {
		observability.ObserveModelCall("error")
		if ctx.Err() != nil {
			return "", fault.Timeout("llm.complete", ctx.Err())
		}
		return "", fault.Transport("llm.complete", err, !IsPermanent(err))
	}

	observability.ObserveModelCall("ok")
	return out, nil
}

func (g *Gateway) attempt(ctx context.Context, req Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.provider.Complete(callCtx, req)
}

// retryable treats everything except permanent failures and caller
// cancellation as transient. A per-attempt deadline is retryable.
func (g *Gateway) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
