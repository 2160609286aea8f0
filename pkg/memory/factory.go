package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barekit/tabletalk/pkg/database"
	gormmem "github.com/barekit/tabletalk/pkg/memory/gorm"
	"github.com/barekit/tabletalk/pkg/memory/consts"
	"github.com/barekit/tabletalk/pkg/memory/inmemory"
	mongomem "github.com/barekit/tabletalk/pkg/memory/mongo"
	"github.com/barekit/tabletalk/pkg/memory/neo4j"
	"github.com/barekit/tabletalk/pkg/memory/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Type string

const (
	TypeInMemory Type = "inmemory"
	// TypeSQL stores transcripts through gorm in any dialect pkg/database supports.
	TypeSQL   Type = "sql"
	TypeRedis Type = "redis"
	TypeNeo4j Type = "neo4j"
	TypeMongo Type = "mongo"
)

// Config holds configuration for memory adapters.
type Config struct {
	Type Type
	// SQL is used by TypeSQL.
	SQL database.Config
	// ConnectionString is the redis, mongo or neo4j URI.
	ConnectionString string
	Username         string
	Password         string
	DBName           string
	// TTL expires idle redis transcripts.
	TTL time.Duration
}

// New creates a store from cfg. The returned close function releases any
// connection the store opened; it is never nil.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Type {
	case TypeInMemory, "":
		return inmemory.New(), noop, nil

	case TypeSQL:
		db, err := database.Open(ctx, cfg.SQL, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := gormmem.New(db)
		if err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		return store, func(context.Context) error { return database.Close(db) }, nil

	case TypeRedis:
		opts, err := goredis.ParseURL(cfg.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return redis.New(client, cfg.TTL), func(context.Context) error { return client.Close() }, nil

	case TypeNeo4j:
		dbName := "neo4j"
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		store, err := neo4j.New(ctx, cfg.ConnectionString, cfg.Username, cfg.Password, dbName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		return store, store.Close, nil

	case TypeMongo:
		opts := options.Client().ApplyURI(cfg.ConnectionString)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("failed to ping mongo: %w", err)
		}
		dbName := consts.DefaultDBName
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		store := mongomem.New(client, dbName, consts.TableNameMessages)
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Warn("failed to create transcript index", "error", err)
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported memory type: %s", cfg.Type)
	}
}
