// Package config loads tabletalk settings from defaults, an optional YAML
// file, a .env file and TABLETALK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/barekit/tabletalk/pkg/database"
	"github.com/barekit/tabletalk/pkg/memory"
	"github.com/barekit/tabletalk/pkg/observability"
	"github.com/barekit/tabletalk/pkg/query"
	"github.com/barekit/tabletalk/pkg/retry"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TABLETALK_STORE_HOST.
const EnvPrefix = "TABLETALK"

// DefaultConfigName is searched for in the working directory when no file is given.
const DefaultConfigName = "tabletalk"

// Knowledge backends.
const (
	KnowledgeInMemory = "inmemory"
	KnowledgeQdrant   = "qdrant"
	KnowledgePGVector = "pgvector"
)

// Config is the complete tabletalk configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Schema    SchemaConfig    `mapstructure:"schema"`
}

// RetryConfig is a bounded exponential backoff.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Initial  time.Duration `mapstructure:"initial"`
	Max      time.Duration `mapstructure:"max"`
}

// Policy converts the settings to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{Attempts: r.Attempts, Initial: r.Initial, Max: r.Max}
}

// LLMConfig locates an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64     `mapstructure:"rate_limit"`
	Retry     RetryConfig `mapstructure:"retry"`
}

// ConnectionConfig mirrors database.Config.
type ConnectionConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
}

// DatabaseConfig converts the settings to a database.Config.
func (c ConnectionConfig) DatabaseConfig() database.Config {
	return database.Config{
		Driver:          database.Driver(strings.ToLower(c.Driver)),
		DSN:             c.DSN,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		ConnMaxLifetime: c.ConnMaxLifetime,
		SlowQuery:       c.SlowQuery,
	}
}

// StoreConfig is the relational store questions are answered from.
type StoreConfig struct {
	ConnectionConfig `mapstructure:",squash"`
	DefaultLimit     int         `mapstructure:"default_limit"`
	MaxLimit         int         `mapstructure:"max_limit"`
	Retry            RetryConfig `mapstructure:"retry"`
}

// MemoryConfig selects the transcript backend.
type MemoryConfig struct {
	Type string `mapstructure:"type"`
	// SQL is used by the sql backend; an empty driver reuses the store connection.
	SQL              ConnectionConfig `mapstructure:"sql"`
	ConnectionString string           `mapstructure:"connection_string"`
	Username         string           `mapstructure:"username"`
	Password         string           `mapstructure:"password"`
	DBName           string           `mapstructure:"db_name"`
	TTL              time.Duration    `mapstructure:"ttl"`
}

// EmbeddingConfig locates the embeddings endpoint. Empty URL and key reuse the llm section.
type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// QdrantConfig locates the qdrant collection holding notes.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
}

// KnowledgeConfig enables business notes attached to questions.
type KnowledgeConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Backend   string          `mapstructure:"backend"`
	NotesFile string          `mapstructure:"notes_file"`
	Limit     int             `mapstructure:"limit"`
	MinScore  float64         `mapstructure:"min_score"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	// PGVectorDSN is a postgres DSN for the pgvector backend.
	PGVectorDSN string `mapstructure:"pgvector_dsn"`
}

// AgentConfig tunes question turns and session lifetime.
type AgentConfig struct {
	HistoryTurns int           `mapstructure:"history_turns"`
	TurnTimeout  time.Duration `mapstructure:"turn_timeout"`
	SampleRows   int           `mapstructure:"sample_rows"`
	SessionIdle  time.Duration `mapstructure:"session_idle"`
	Debug        bool          `mapstructure:"debug"`
}

// LogConfig selects the log level and the text or json format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

// SchemaConfig points at the YAML table metadata.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration. Precedence, highest first: environment, the
// config file (path, or ./tabletalk.yaml when path is empty), defaults.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Common variable names honored when the prefixed ones are absent.
	_ = v.BindEnv("llm.api_key", "TABLETALK_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.base_url", "TABLETALK_LLM_BASE_URL", "OPENAI_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.rate_limit", 0.0)
	v.SetDefault("llm.retry.attempts", 3)
	v.SetDefault("llm.retry.initial", 500*time.Millisecond)
	v.SetDefault("llm.retry.max", 4*time.Second)

	setConnectionDefaults(v, "store")
	v.SetDefault("store.driver", string(database.DriverSQLite))
	v.SetDefault("store.database", "tabletalk.db")
	v.SetDefault("store.default_limit", query.DefaultLimit)
	v.SetDefault("store.max_limit", query.MaxLimit)
	v.SetDefault("store.retry.attempts", 3)
	v.SetDefault("store.retry.initial", 200*time.Millisecond)
	v.SetDefault("store.retry.max", 2*time.Second)

	v.SetDefault("memory.type", string(memory.TypeInMemory))
	setConnectionDefaults(v, "memory.sql")
	v.SetDefault("memory.connection_string", "")
	v.SetDefault("memory.username", "")
	v.SetDefault("memory.password", "")
	v.SetDefault("memory.db_name", "")
	v.SetDefault("memory.ttl", 0)

	v.SetDefault("knowledge.enabled", false)
	v.SetDefault("knowledge.backend", KnowledgeInMemory)
	v.SetDefault("knowledge.notes_file", "")
	v.SetDefault("knowledge.limit", 3)
	v.SetDefault("knowledge.min_score", 0.2)
	v.SetDefault("knowledge.embedding.base_url", "")
	v.SetDefault("knowledge.embedding.api_key", "")
	v.SetDefault("knowledge.embedding.model", "text-embedding-3-small")
	v.SetDefault("knowledge.embedding.dimensions", 1536)
	v.SetDefault("knowledge.qdrant.host", "localhost")
	v.SetDefault("knowledge.qdrant.port", 6334)
	v.SetDefault("knowledge.qdrant.api_key", "")
	v.SetDefault("knowledge.qdrant.collection", "tabletalk_notes")
	v.SetDefault("knowledge.pgvector_dsn", "")

	v.SetDefault("agent.history_turns", 40)
	v.SetDefault("agent.turn_timeout", 60*time.Second)
	v.SetDefault("agent.sample_rows", 10)
	v.SetDefault("agent.session_idle", 30*time.Minute)
	v.SetDefault("agent.debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("schema.path", "schema.yaml")
}

func setConnectionDefaults(v *viper.Viper, prefix string) {
	for key, val := range map[string]any{
		"driver":             "",
		"dsn":                "",
		"host":               "",
		"port":               0,
		"user":               "",
		"password":           "",
		"database":           "",
		"sslmode":            "",
		"max_open_conns":     10,
		"max_idle_conns":     5,
		"conn_max_idle_time": 5 * time.Minute,
		"conn_max_lifetime":  30 * time.Minute,
		"slow_query":         200 * time.Millisecond,
	} {
		v.SetDefault(prefix+"."+key, val)
	}
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Timeout < 0 || c.LLM.RateLimit < 0 {
		return fmt.Errorf("llm.timeout and llm.rate_limit must not be negative")
	}
	if err := validRetry("llm.retry", c.LLM.Retry); err != nil {
		return err
	}

	if err := validDriver("store.driver", c.Store.Driver); err != nil {
		return err
	}
	if c.Store.DefaultLimit < 1 {
		return fmt.Errorf("store.default_limit must be at least 1, got %d", c.Store.DefaultLimit)
	}
	if c.Store.MaxLimit < c.Store.DefaultLimit {
		return fmt.Errorf("store.max_limit (%d) must be at least store.default_limit (%d)", c.Store.MaxLimit, c.Store.DefaultLimit)
	}
	if err := validRetry("store.retry", c.Store.Retry); err != nil {
		return err
	}

	switch memory.Type(c.Memory.Type) {
	case "", memory.TypeInMemory, memory.TypeRedis, memory.TypeMongo, memory.TypeNeo4j:
	case memory.TypeSQL:
		if c.Memory.SQL.Driver != "" {
			if err := validDriver("memory.sql.driver", c.Memory.SQL.Driver); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported memory.type %q", c.Memory.Type)
	}

	if c.Knowledge.Enabled {
		switch c.Knowledge.Backend {
		case KnowledgeInMemory, KnowledgeQdrant:
		case KnowledgePGVector:
			if c.Knowledge.PGVectorDSN == "" {
				return fmt.Errorf("knowledge.pgvector_dsn is required for the pgvector backend")
			}
		default:
			return fmt.Errorf("unsupported knowledge.backend %q", c.Knowledge.Backend)
		}
		if c.Knowledge.Embedding.Dimensions <= 0 {
			return fmt.Errorf("knowledge.embedding.dimensions must be positive")
		}
	}

	if c.Agent.HistoryTurns < 0 {
		return fmt.Errorf("agent.history_turns must not be negative")
	}
	if c.Agent.TurnTimeout < 0 || c.Agent.SessionIdle < 0 {
		return fmt.Errorf("agent.turn_timeout and agent.session_idle must not be negative")
	}

	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Schema.Path == "" {
		return fmt.Errorf("schema.path is required")
	}
	return nil
}

func validDriver(key, driver string) error {
	switch database.Driver(strings.ToLower(driver)) {
	case database.DriverSQLite, database.DriverPostgres, database.DriverMySQL, database.DriverSQLServer:
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", key, driver)
	}
}

func validRetry(key string, r RetryConfig) error {
	if r.Attempts < 1 {
		return fmt.Errorf("%s.attempts must be at least 1", key)
	}
	if r.Initial < 0 || r.Max < 0 {
		return fmt.Errorf("%s delays must not be negative", key)
	}
	return nil
}

// MemoryStore converts the memory settings. The sql backend falls back to the
// store connection when it has no driver of its own.
func (c *Config) MemoryStore() memory.Config {
	sql := c.Memory.SQL
	if sql.Driver == "" {
		sql = c.Store.ConnectionConfig
	}
	return memory.Config{
		Type:             memory.Type(c.Memory.Type),
		SQL:              sql.DatabaseConfig(),
		ConnectionString: c.Memory.ConnectionString,
		Username:         c.Memory.Username,
		Password:         c.Memory.Password,
		DBName:           c.Memory.DBName,
		TTL:              c.Memory.TTL,
	}
}
