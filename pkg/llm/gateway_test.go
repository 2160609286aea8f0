package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/llm/mock"
	"github.com/barekit/tabletalk/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{Attempts: 3, Initial: time.Millisecond}

func TestGatewayComplete(t *testing.T) {
	t.Parallel()

	t.Run("passes system context and turns through", func(t *testing.T) {
		t.Parallel()

		p := mock.Text("hello")
		g := llm.NewGateway(p, llm.WithRetry(fastRetry))
		turns := []llm.Message{llm.NewMessage(llm.RoleUser, "hi")}

		out, err := g.Complete(context.Background(), "sys", turns)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
		require.Len(t, p.Requests, 1)
		assert.Equal(t, "sys", p.Requests[0].System)
		assert.Equal(t, turns, p.Requests[0].Messages)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		t.Parallel()

		p := &mock.Provider{Replies: []mock.Reply{
			{Err: errors.New("connection reset")},
			{Err: errors.New("502 bad gateway")},
			{Text: "recovered"},
		}}
		g := llm.NewGateway(p, llm.WithRetry(fastRetry))

		out, err := g.Complete(context.Background(), "", nil)
		require.NoError(t, err)
		assert.Equal(t, "recovered", out)
		assert.Equal(t, 3, p.Calls())
	})

	t.Run("surfaces transport error after exhausting retries", func(t *testing.T) {
		t.Parallel()

		down := errors.New("dial tcp: connection refused")
		p := &mock.Provider{Replies: []mock.Reply{{Err: down}, {Err: down}, {Err: down}}}
		g := llm.NewGateway(p, llm.WithRetry(fastRetry))

		_, err := g.Complete(context.Background(), "", nil)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.KindTransport))
		assert.Equal(t, 3, p.Calls())
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		t.Parallel()

		p := &mock.Provider{Replies: []mock.Reply{{Err: llm.Permanent(errors.New("401 invalid api key"))}}}
		g := llm.NewGateway(p, llm.WithRetry(fastRetry))

		_, err := g.Complete(context.Background(), "", nil)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.KindTransport))
		assert.False(t, fault.IsRetryable(err))
		assert.Equal(t, 1, p.Calls())
	})

	t.Run("applies per-call timeout", func(t *testing.T) {
		t.Parallel()

		p := &mock.Provider{CompleteFn: func(ctx context.Context, _ llm.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		g := llm.NewGateway(p, llm.WithTimeout(5*time.Millisecond), llm.WithRetry(retry.Policy{Attempts: 2, Initial: time.Millisecond}))

		_, err := g.Complete(context.Background(), "", nil)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.KindTransport))
		assert.Equal(t, 2, p.Calls())
	})

	t.Run("reports timeout when the caller deadline expires", func(t *testing.T) {
		t.Parallel()

		p := &mock.Provider{CompleteFn: func(ctx context.Context, _ llm.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		g := llm.NewGateway(p, llm.WithRetry(fastRetry))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		_, err := g.Complete(ctx, "", nil)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.KindTimeout))
	})
}
