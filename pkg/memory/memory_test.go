package memory_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/barekit/tabletalk/pkg/database"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchange(question, answer string) []llm.Message {
	return []llm.Message{
		llm.NewMessage(llm.RoleUser, question),
		llm.NewMessage(llm.RoleAssistant, `{"tool": "fetch", "parameters": {}}`),
		llm.NewMessage(llm.RoleTool, "rows returned: 1"),
		llm.NewMessage(llm.RoleAssistant, answer),
	}
}

// exerciseStore checks the contract every backend shares.
func exerciseStore(t *testing.T, store memory.Store) {
	t.Helper()
	ctx := context.Background()
	session := uuid.NewString()
	other := uuid.NewString()
	t.Cleanup(func() {
		_ = store.Clear(ctx, session)
		_ = store.Clear(ctx, other)
	})

	empty, err := store.Load(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := exchange("How many Apple products?", "There are 3.")
	second := exchange("And Samsung?", "There is 1.")
	require.NoError(t, store.Append(ctx, session, first...))
	require.NoError(t, store.Append(ctx, other, llm.NewMessage(llm.RoleUser, "unrelated")))
	require.NoError(t, store.Append(ctx, session, second...))
	require.NoError(t, store.Append(ctx, session))

	got, err := store.Load(ctx, session)
	require.NoError(t, err)
	want := append(append([]llm.Message{}, first...), second...)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Role, got[i].Role, "turn %d", i)
		assert.Equal(t, want[i].Content, got[i].Content, "turn %d", i)
		assert.WithinDuration(t, want[i].Time, got[i].Time, time.Second, "turn %d", i)
	}

	require.NoError(t, store.Clear(ctx, session))
	got, err = store.Load(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, got)

	kept, err := store.Load(ctx, other)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()

	store, closeFn, err := memory.New(context.Background(), memory.Config{Type: memory.TypeInMemory}, nil)
	require.NoError(t, err)
	defer closeFn(context.Background())

	exerciseStore(t, store)
}

func TestSQLStore(t *testing.T) {
	t.Parallel()

	store, closeFn, err := memory.New(context.Background(), memory.Config{
		Type: memory.TypeSQL,
		SQL: database.Config{
			Driver:       database.DriverSQLite,
			Database:     filepath.Join(t.TempDir(), "transcripts.db"),
			MaxOpenConns: 1,
		},
	}, nil)
	require.NoError(t, err)
	defer closeFn(context.Background())

	exerciseStore(t, store)
}

func TestConcurrentSessionsStayOrdered(t *testing.T) {
	t.Parallel()

	store, _, err := memory.New(context.Background(), memory.Config{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", s)
			for i := 0; i < 20; i++ {
				assert.NoError(t, store.Append(ctx, id, llm.NewMessage(llm.RoleUser, fmt.Sprint(i))))
			}
		}(s)
	}
	wg.Wait()

	for s := 0; s < 8; s++ {
		msgs, err := store.Load(ctx, fmt.Sprintf("session-%d", s))
		require.NoError(t, err)
		require.Len(t, msgs, 20)
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprint(i), m.Content)
		}
	}
}

func TestUnsupportedType(t *testing.T) {
	t.Parallel()

	_, _, err := memory.New(context.Background(), memory.Config{Type: "cassandra"}, nil)
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	t.Parallel()

	msgs := append(exchange("q1", "a1"), exchange("q2", "a2")...)

	assert.Equal(t, msgs, memory.Window(msgs, 0))
	assert.Equal(t, msgs, memory.Window(msgs, 100))

	last := memory.Window(msgs, 4)
	require.Len(t, last, 4)
	assert.Equal(t, "q2", last[0].Content)
	assert.Len(t, msgs, 8, "window must not modify its input")
}

// External backends run only when their URL is configured, e.g. in .env.
func TestExternalStores(t *testing.T) {
	_ = godotenv.Load("../../.env")

	cases := []struct {
		env string
		cfg func(url string) memory.Config
	}{
		{"TABLETALK_TEST_REDIS_URL", func(url string) memory.Config {
			return memory.Config{Type: memory.TypeRedis, ConnectionString: url, TTL: time.Minute}
		}},
		{"TABLETALK_TEST_MONGO_URL", func(url string) memory.Config {
			return memory.Config{Type: memory.TypeMongo, ConnectionString: url, DBName: "tabletalk_test"}
		}},
		{"TABLETALK_TEST_NEO4J_URL", func(url string) memory.Config {
			return memory.Config{
				Type:             memory.TypeNeo4j,
				ConnectionString: url,
				Username:         os.Getenv("TABLETALK_TEST_NEO4J_USER"),
				Password:         os.Getenv("TABLETALK_TEST_NEO4J_PASSWORD"),
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.env, func(t *testing.T) {
			url := os.Getenv(tc.env)
			if url == "" {
				t.Skipf("%s not set", tc.env)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			store, closeFn, err := memory.New(ctx, tc.cfg(url), nil)
			require.NoError(t, err)
			defer closeFn(context.Background())

			exerciseStore(t, store)
		})
	}
}
