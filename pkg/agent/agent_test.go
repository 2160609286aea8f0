package agent_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/barekit/tabletalk/pkg/agent"
	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/knowledge"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/llm/mock"
	"github.com/barekit/tabletalk/pkg/memory/inmemory"
	"github.com/barekit/tabletalk/pkg/query"
	"github.com/barekit/tabletalk/pkg/retry"
	"github.com/barekit/tabletalk/pkg/schema"
	"github.com/barekit/tabletalk/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const catalogYAML = `
version: "1"
tables:
  - name: products
    description: Items for sale
    columns:
      - {name: id, type: integer}
      - {name: name, type: string}
      - {name: brand, type: string}
      - {name: price, type: number}
`

func seededDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		brand TEXT NOT NULL,
		price REAL NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO products VALUES
		(1, 'iPhone 15', 'Apple', 999.99),
		(2, 'MacBook Pro', 'Apple', 1299.99),
		(3, 'Galaxy S24', 'Samsung', 749.99),
		(4, 'AirPods', 'Apple', 179.00),
		(5, 'Desk Lamp', 'Ikea', 25.50)`).Error)
	return db
}

func newAgent(t *testing.T, db *gorm.DB, p llm.Provider, policy retry.Policy, opts ...agent.Option) *agent.Agent {
	t.Helper()

	s, err := schema.Parse([]byte(catalogYAML))
	require.NoError(t, err)
	qtools, err := query.Tools(query.New(db, s, query.WithRetry(policy)))
	require.NoError(t, err)
	registry, err := tools.NewRegistry(qtools...)
	require.NoError(t, err)

	a, err := agent.New(llm.NewGateway(p, llm.WithRetry(retry.None())), registry, s, opts...)
	require.NoError(t, err)
	return a
}

func roles(msgs []llm.Message) []llm.Role {
	out := make([]llm.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestToolTurnAnswersAndRecordsExchange(t *testing.T) {
	t.Parallel()

	p := mock.Text(
		`{"tool": "fetch", "parameters": {"table": "products", "filters": {"brand": "Apple"}, "columns": ["name"]}}`,
		"Apple sells the iPhone 15, the MacBook Pro and AirPods.",
	)
	a := newAgent(t, seededDB(t), p, retry.None())
	s := a.NewSession()

	answer, err := s.Ask(context.Background(), "Which products are made by Apple?")
	require.NoError(t, err)
	assert.Equal(t, "Apple sells the iPhone 15, the MacBook Pro and AirPods.", answer.Text)
	require.NotNil(t, answer.Call)
	assert.Equal(t, "fetch", answer.Call.Name)

	rows, ok := answer.Result.(*query.Rows)
	require.True(t, ok)
	assert.Equal(t, query.DefaultLimit, rows.Limit)
	assert.Equal(t, []map[string]any{{"name": "iPhone 15"}, {"name": "MacBook Pro"}, {"name": "AirPods"}}, rows.Maps())

	require.Equal(t, 2, p.Calls())
	assert.Equal(t, s.Snapshot().Text, p.Requests[0].System)

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}, roles(history))
	assert.Equal(t, "Which products are made by Apple?", history[0].Content)
	assert.JSONEq(t, `{"tool": "fetch", "parameters": {"table": "products", "filters": {"brand": "Apple"}, "columns": ["name"]}}`, history[1].Content)
	assert.Contains(t, history[2].Content, "rows returned: 3 (limit 50)")
	assert.Equal(t, answer.Text, history[3].Content)
}

func TestAggregateTurn(t *testing.T) {
	t.Parallel()

	p := mock.Text(
		`{"tool": "aggregate", "parameters": {"table": "products", "operation": "avg", "column": "price", "filters": {"brand": "Apple"}}}`,
		"The average Apple price is about 826.33.",
	)
	a := newAgent(t, seededDB(t), p, retry.None())

	answer, err := a.NewSession().Ask(context.Background(), "What is the average price of Apple products?")
	require.NoError(t, err)
	scalar, ok := answer.Result.(*query.Scalar)
	require.True(t, ok)
	assert.InDelta(t, (999.99+1299.99+179.00)/3, scalar.Value, 1e-6)
	assert.Contains(t, p.Requests[1].Messages[0].Content, "avg(price) over products")
}

func TestProseReplyIsTheAnswer(t *testing.T) {
	t.Parallel()

	p := mock.Text("Hello! I can answer questions about the products table.")
	a := newAgent(t, seededDB(t), p, retry.None())
	s := a.NewSession()

	answer, err := s.Ask(context.Background(), "hi there")
	require.NoError(t, err)
	assert.Equal(t, "Hello! I can answer questions about the products table.", answer.Text)
	assert.Nil(t, answer.Call)
	assert.False(t, answer.Malformed)
	assert.Equal(t, 1, p.Calls())

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []llm.Role{llm.RoleUser, llm.RoleAssistant}, roles(history))
}

func TestMalformedToolRequestFallsBackToText(t *testing.T) {
	t.Parallel()

	reply := `{"tool": "fetch", "parameters": "brand=Apple"}`
	p := mock.Text(reply)
	a := newAgent(t, seededDB(t), p, retry.None())

	answer, err := a.NewSession().Ask(context.Background(), "Apple products?")
	require.NoError(t, err)
	assert.True(t, answer.Malformed)
	assert.Equal(t, reply, answer.Text)
	assert.Equal(t, 1, p.Calls())
}

func mockStore(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, sm, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db, sm
}

func TestConnectionRefusedLeavesMemoryUnchanged(t *testing.T) {
	t.Parallel()

	db, sm := mockStore(t)
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	sm.ExpectQuery(`SELECT AVG\("price"\) FROM "products"`).WillReturnError(refused)
	sm.ExpectQuery(`SELECT AVG\("price"\) FROM "products"`).WillReturnError(refused)

	p := mock.Text(`{"tool": "aggregate", "parameters": {"table": "products", "operation": "avg", "column": "price"}}`)
	policy := retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	a := newAgent(t, db, p, policy)
	s := a.NewSession()

	_, err := s.Ask(context.Background(), "What is the average price?")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindConnection))
	assert.Contains(t, fault.UserMessage(err), "[connection]")
	assert.Equal(t, 1, p.Calls(), "composer must not run")
	assert.NoError(t, sm.ExpectationsWereMet())

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRejectedCallsNeverReachTheStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		kind  fault.Kind
		field string
	}{
		{
			name:  "unknown tool",
			reply: `{"tool": "drop_table", "parameters": {"table": "products"}}`,
			kind:  fault.KindUnknownTool,
			field: "drop_table",
		},
		{
			name:  "unsupported operator",
			reply: `{"tool": "fetch", "parameters": {"table": "products", "filters": {"price": {"op": "BETWEEN", "value": 1}}}}`,
			kind:  fault.KindValidation,
			field: "filters.price",
		},
		{
			name:  "unknown column",
			reply: `{"tool": "fetch", "parameters": {"table": "products", "filters": {"price; DROP TABLE products": 1}}}`,
			kind:  fault.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, sm := mockStore(t)
			p := mock.Text(tt.reply)
			s := newAgent(t, db, p, retry.None()).NewSession()

			_, err := s.Ask(context.Background(), "anything")
			var fe *fault.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.kind, fe.Kind)
			if tt.field != "" {
				assert.Equal(t, tt.field, fe.Field)
			}
			assert.NoError(t, sm.ExpectationsWereMet())

			history, err := s.History(context.Background())
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestHistoryWindow(t *testing.T) {
	t.Parallel()

	p := mock.Text("one", "two", "three")
	a := newAgent(t, seededDB(t), p, retry.None(), agent.WithHistoryTurns(2))
	s := a.NewSession()

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := s.Ask(context.Background(), q)
		require.NoError(t, err)
	}

	require.Equal(t, 3, p.Calls())
	assert.Len(t, p.Requests[0].Messages, 1)
	last := p.Requests[2].Messages
	require.Len(t, last, 3)
	assert.Equal(t, "q2", last[0].Content)
	assert.Equal(t, "two", last[1].Content)
	assert.Equal(t, "q3", last[2].Content)

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 6)
}

type staticNotes struct {
	notes []knowledge.Note
	err   error
}

func (s staticNotes) Relevant(context.Context, string, int) ([]knowledge.Note, error) {
	return s.notes, s.err
}

func TestKnowledgeNotesReachOnlyTheModel(t *testing.T) {
	t.Parallel()

	p := mock.Text("Premium products cost more than 1000.")
	notes := staticNotes{notes: []knowledge.Note{{Text: "Premium means a price above 1000."}}}
	s := newAgent(t, seededDB(t), p, retry.None(), agent.WithKnowledge(notes, 2)).NewSession()

	_, err := s.Ask(context.Background(), "What counts as premium?")
	require.NoError(t, err)

	sent := p.Requests[0].Messages
	assert.Contains(t, sent[len(sent)-1].Content, "- Premium means a price above 1000.")

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "What counts as premium?", history[0].Content)
}

func TestKnowledgeFailureDoesNotFailTheTurn(t *testing.T) {
	t.Parallel()

	p := mock.Text("ok")
	s := newAgent(t, seededDB(t), p, retry.None(),
		agent.WithKnowledge(staticNotes{err: errors.New("qdrant down")}, 2)).NewSession()

	answer, err := s.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Text)
}

func TestTurnTimeout(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteFn: func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	s := newAgent(t, seededDB(t), p, retry.None(), agent.WithTurnTimeout(20*time.Millisecond)).NewSession()

	_, err := s.Ask(context.Background(), "slow question")
	assert.True(t, fault.Is(err, fault.KindTimeout))

	history, herr := s.History(context.Background())
	require.NoError(t, herr)
	assert.Empty(t, history)
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteFn: func(_ context.Context, req llm.Request) (string, error) {
		return "echo: " + req.Messages[len(req.Messages)-1].Content, nil
	}}
	store := inmemory.New()
	a := newAgent(t, seededDB(t), p, retry.None(), agent.WithMemory(store))

	var wg sync.WaitGroup
	sessions := make([]*agent.Session, 8)
	for i := range sessions {
		sessions[i] = a.NewSession()
		wg.Add(1)
		go func(s *agent.Session, n int) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				_, err := s.Ask(context.Background(), fmt.Sprintf("s%d-q%d", n, j))
				assert.NoError(t, err)
			}
		}(sessions[i], i)
	}
	wg.Wait()

	for i, s := range sessions {
		history, err := store.Load(context.Background(), s.ID())
		require.NoError(t, err)
		require.Len(t, history, 6)
		for j := 0; j < 3; j++ {
			assert.Equal(t, fmt.Sprintf("s%d-q%d", i, j), history[2*j].Content)
			assert.Equal(t, fmt.Sprintf("echo: s%d-q%d", i, j), history[2*j+1].Content)
		}
	}
}

func TestResetClearsTranscript(t *testing.T) {
	t.Parallel()

	p := mock.Text("first")
	s := newAgent(t, seededDB(t), p, retry.None()).NewSession()

	_, err := s.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.NoError(t, s.Reset(context.Background()))

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSessionsSweep(t *testing.T) {
	t.Parallel()

	a := newAgent(t, seededDB(t), mock.Text(), retry.None())
	m := agent.NewSessions(a, time.Minute)

	s := m.Open()
	assert.Same(t, s, m.Get(s.ID()))
	assert.Empty(t, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Len())

	assert.Equal(t, []string{s.ID()}, m.Sweep(time.Now().Add(2*time.Minute)))
	assert.Zero(t, m.Len())

	_, err := s.Ask(context.Background(), "still there?")
	assert.ErrorIs(t, err, agent.ErrSessionClosed)

	resumed := m.Get(s.ID())
	assert.NotSame(t, s, resumed)
	assert.Equal(t, s.ID(), resumed.ID())
	assert.True(t, m.Close(s.ID()))
	assert.False(t, m.Close(s.ID()))
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := agent.New(nil, nil, nil)
	assert.Error(t, err)
}
