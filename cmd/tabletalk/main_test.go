package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/barekit/tabletalk/pkg/config"
	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/llm/mock"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// workspace writes a seeded sqlite store, the schema file and a config file
// into a fresh directory and returns the config path.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	dbPath := filepath.Join(dir, "shop.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
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
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	schemaPath := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(catalogYAML), 0o600))

	cfgPath := filepath.Join(dir, "tabletalk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
llm:
  model: test-model
  retry:
    attempts: 1
store:
  driver: sqlite
  database: `+dbPath+`
  retry:
    attempts: 1
schema:
  path: `+schemaPath+`
memory:
  type: inmemory
`), 0o600))
	return cfgPath
}

// run executes the CLI with p as the model backend. It returns what the user
// saw and what was logged separately.
func run(t *testing.T, p llm.Provider, args ...string) (string, string, error) {
	t.Helper()

	var out, logs bytes.Buffer
	prevProvider, prevLogOutput, prevLogger := newProvider, logOutput, slog.Default()
	newProvider = func(config.LLMConfig) llm.Provider { return p }
	logOutput = &logs

	pterm.DisableStyling()
	pterm.SetDefaultOutput(&out)
	pterm.Error.Writer = &out
	pterm.Info.Writer = &out

	t.Cleanup(func() {
		newProvider, logOutput = prevProvider, prevLogOutput
		slog.SetDefault(prevLogger)
		pterm.SetDefaultOutput(os.Stdout)
		pterm.Error.Writer = os.Stdout
		pterm.Info.Writer = os.Stdout
		pterm.EnableStyling()
		cfgFile, cfg = "", nil
		askSession, showCall = "", false
	})

	askSession, showCall = "", false
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), logs.String(), err
}

func TestAskPrintsComposedAnswer(t *testing.T) {
	cfgPath := workspace(t)
	p := mock.Text(
		`{"tool": "fetch", "parameters": {"table": "products", "filters": {"brand": "Apple"}, "columns": ["name"]}}`,
		"Apple sells the iPhone 15, the MacBook Pro and AirPods.",
	)

	out, _, err := run(t, p, "--config", cfgPath, "ask", "--show-query", "Which", "products", "are", "made", "by", "Apple?")
	require.NoError(t, err)

	assert.Contains(t, out, "Apple sells the iPhone 15, the MacBook Pro and AirPods.")
	assert.Contains(t, out, "fetch")
	require.Equal(t, 2, p.Calls())
	assert.Equal(t, "Which products are made by Apple?", p.Requests[0].Messages[0].Content)
}

func TestAskFailureShowsOnlyTheLabelledMessage(t *testing.T) {
	cfgPath := workspace(t)
	p := &mock.Provider{Replies: []mock.Reply{{Err: errors.New("dial tcp 10.1.2.3:443: connect: connection refused")}}}

	out, logs, err := run(t, p, "--config", cfgPath, "ask", "How many products are there?")
	require.ErrorIs(t, err, errAlreadyReported)

	assert.Contains(t, out, "[transport] The language model service is unavailable right now.")
	assert.NotContains(t, out, "connection refused")
	assert.NotContains(t, out, "10.1.2.3")
	assert.Equal(t, 1, strings.Count(out, "\n"), "exactly one line is shown: %q", out)

	// Operators still get the cause.
	assert.Contains(t, logs, "connection refused")
	assert.Equal(t, 1, p.Calls())
}

func TestAskWithUnreachableStoreIsLabelled(t *testing.T) {
	cfgPath := workspace(t)
	dir := filepath.Dir(cfgPath)
	body, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	body = bytes.Replace(body, []byte(filepath.Join(dir, "shop.db")), []byte(filepath.Join(dir, "missing", "shop.db")), 1)
	require.NoError(t, os.WriteFile(cfgPath, body, 0o600))
	p := mock.Text()

	out, _, err := run(t, p, "--config", cfgPath, "ask", "How many products are there?")
	require.ErrorIs(t, err, errAlreadyReported)
	assert.Contains(t, out, "[connection] The database is unreachable right now.")
	assert.NotContains(t, out, "missing")
	assert.Zero(t, p.Calls())
}

func TestInvalidConfigIsReported(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "tabletalk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: oracle\n"), 0o600))

	out, _, err := run(t, mock.Text(), "--config", cfgPath, "ask", "anything")
	require.ErrorIs(t, err, errAlreadyReported)
	assert.Contains(t, out, "Invalid configuration")
	assert.Contains(t, out, "oracle")
}

func TestSchemaPrintsSystemContext(t *testing.T) {
	cfgPath := workspace(t)

	out, _, err := run(t, mock.Text(), "--config", cfgPath, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "products")
	assert.Contains(t, out, "Fingerprint")
}

func TestReportHidesUnclassifiedErrors(t *testing.T) {
	var out bytes.Buffer
	pterm.DisableStyling()
	pterm.Error.Writer = &out
	t.Cleanup(func() {
		pterm.Error.Writer = os.Stdout
		pterm.EnableStyling()
	})

	err := report(errors.New(`pq: password authentication failed for user "admin"`))
	require.ErrorIs(t, err, errAlreadyReported)
	assert.Contains(t, out.String(), fault.UserMessage(errors.New("x")))
	assert.NotContains(t, out.String(), "admin")

	out.Reset()
	assert.ErrorIs(t, report(err), errAlreadyReported)
	assert.Empty(t, out.String(), "a reported error is shown once")
}
