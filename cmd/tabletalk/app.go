package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/barekit/tabletalk/pkg/agent"
	"github.com/barekit/tabletalk/pkg/compose"
	"github.com/barekit/tabletalk/pkg/config"
	"github.com/barekit/tabletalk/pkg/database"
	"github.com/barekit/tabletalk/pkg/knowledge"
	kinmemory "github.com/barekit/tabletalk/pkg/knowledge/inmemory"
	kopenai "github.com/barekit/tabletalk/pkg/knowledge/openai"
	kpostgres "github.com/barekit/tabletalk/pkg/knowledge/postgres"
	kqdrant "github.com/barekit/tabletalk/pkg/knowledge/qdrant"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/llm/openai"
	"github.com/barekit/tabletalk/pkg/memory"
	"github.com/barekit/tabletalk/pkg/observability"
	"github.com/barekit/tabletalk/pkg/query"
	"github.com/barekit/tabletalk/pkg/schema"
	"github.com/barekit/tabletalk/pkg/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type closer func(context.Context) error

// logOutput receives structured logs, apart from what the user is shown.
var logOutput io.Writer = os.Stderr

// newProvider builds the chat completions backend. Tests replace it.
var newProvider = func(c config.LLMConfig) llm.Provider {
	return openai.New(openai.Config{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Temperature: c.Temperature,
	})
}

// app owns every long-lived dependency of a command.
type app struct {
	logger  *slog.Logger
	schema  *schema.Schema
	agent   *agent.Agent
	closers []closer
}

func newLogger(c *config.Config) *slog.Logger {
	level, _ := observability.ParseLevel(c.Log.Level)
	l := observability.NewLogger(logOutput, level, c.Log.Format == "json")
	slog.SetDefault(l)
	return l
}

// newRegistry builds the tool catalog. db may be nil when the tools are only
// described, never run.
func newRegistry(c *config.Config, db *gorm.DB, s *schema.Schema, l *slog.Logger) (*tools.Registry, error) {
	translator := query.New(db, s,
		query.WithLimits(c.Store.DefaultLimit, c.Store.MaxLimit),
		query.WithRetry(c.Store.Retry.Policy()),
		query.WithLogger(l),
	)
	qtools, err := query.Tools(translator)
	if err != nil {
		return nil, fmt.Errorf("failed to build tools: %w", err)
	}
	return tools.NewRegistry(qtools...)
}

func newApp(ctx context.Context, c *config.Config) (_ *app, err error) {
	a := &app{logger: newLogger(c)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.startMetrics(c.Metrics.Addr)

	a.schema, err = schema.Load(c.Schema.Path)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, c.Store.DatabaseConfig(), a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return database.Close(db) })

	registry, err := newRegistry(c, db, a.schema, a.logger)
	if err != nil {
		return nil, err
	}

	gateway := llm.NewGateway(
		newProvider(c.LLM),
		llm.WithTimeout(c.LLM.Timeout),
		llm.WithRetry(c.LLM.Retry.Policy()),
		llm.WithRateLimit(c.LLM.RateLimit),
		llm.WithLogger(a.logger),
	)

	store, closeMemory, err := memory.New(ctx, c.MemoryStore(), a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeMemory)

	opts := []agent.Option{
		agent.WithMemory(store),
		agent.WithComposer(compose.New(gateway,
			compose.WithSampleRows(c.Agent.SampleRows),
			compose.WithLogger(a.logger),
		)),
		agent.WithHistoryTurns(c.Agent.HistoryTurns),
		agent.WithTurnTimeout(c.Agent.TurnTimeout),
		agent.WithLogger(a.logger),
		agent.WithDebug(c.Agent.Debug),
	}

	if c.Knowledge.Enabled {
		kb, closeKB, err := a.newKnowledge(ctx, c)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeKB)
		if c.Knowledge.Backend == config.KnowledgeInMemory && c.Knowledge.NotesFile != "" {
			if _, err := ingestFile(ctx, kb, c.Knowledge.NotesFile); err != nil {
				return nil, err
			}
		}
		opts = append(opts, agent.WithKnowledge(kb, c.Knowledge.Limit))
	}

	a.agent, err = agent.New(gateway, registry, a.schema, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newKnowledge builds the note base for the configured backend.
func (a *app) newKnowledge(ctx context.Context, c *config.Config) (*knowledge.Base, closer, error) {
	k := c.Knowledge
	emb := kopenai.Config{BaseURL: k.Embedding.BaseURL, APIKey: k.Embedding.APIKey, Model: k.Embedding.Model}
	if emb.BaseURL == "" {
		emb.BaseURL = c.LLM.BaseURL
	}
	if emb.APIKey == "" {
		emb.APIKey = c.LLM.APIKey
	}
	embedder := kopenai.NewEmbedder(emb)
	noop := func(context.Context) error { return nil }

	var (
		store knowledge.Store
		done  closer = noop
	)
	switch k.Backend {
	case config.KnowledgeQdrant:
		qs, err := kqdrant.New(ctx, kqdrant.Config{
			Host:       k.Qdrant.Host,
			Port:       k.Qdrant.Port,
			APIKey:     k.Qdrant.APIKey,
			Collection: k.Qdrant.Collection,
			VectorSize: uint64(k.Embedding.Dimensions),
		})
		if err != nil {
			return nil, nil, err
		}
		store, done = qs, func(context.Context) error { return qs.Close() }
	case config.KnowledgePGVector:
		db, err := database.Open(ctx, database.Config{Driver: database.DriverPostgres, DSN: k.PGVectorDSN}, a.logger)
		if err != nil {
			return nil, nil, err
		}
		ps, err := kpostgres.New(db, k.Embedding.Dimensions)
		if err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		store, done = ps, func(context.Context) error { return database.Close(db) }
	default:
		store = kinmemory.New()
	}

	return knowledge.New(embedder, store, knowledge.WithMinScore(float32(k.MinScore))), done, nil
}

func ingestFile(ctx context.Context, kb *knowledge.Base, path string) (int, error) {
	notes, err := knowledge.LoadNotes(path)
	if err != nil {
		return 0, err
	}
	if err := kb.Ingest(ctx, notes); err != nil {
		return 0, fmt.Errorf("failed to ingest notes: %w", err)
	}
	return len(notes), nil
}

func (a *app) startMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
}

// close releases dependencies in reverse order of creation.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}
