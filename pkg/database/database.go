// Package database opens the gorm handle shared by the query translator and
// the SQL transcript backend.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/barekit/tabletalk/pkg/fault"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver names a supported dialect.
type Driver string

const (
	DriverSQLite    Driver = "sqlite"
	DriverPostgres  Driver = "postgres"
	DriverMySQL     Driver = "mysql"
	DriverSQLServer Driver = "sqlserver"
)

// Config holds connection parameters. DSN wins over the individual fields.
type Config struct {
	Driver   Driver
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// SSLMode is passed to postgres only.
	SSLMode string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// SlowQuery is the threshold above which gorm logs a statement as slow.
	SlowQuery time.Duration
}

// BuildDSN returns the DSN for the configured driver.
func (c Config) BuildDSN() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}

	switch c.Driver {
	case DriverSQLite:
		if c.Database == "" {
			return "", fmt.Errorf("sqlite needs a database path")
		}
		return c.Database, nil

	case DriverPostgres:
		sslmode := c.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			c.Host, c.User, c.Password, c.Database, c.port(5432), sslmode), nil

	case DriverMySQL:
		mc := gomysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.port(3306)))
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN(), nil

	case DriverSQLServer:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.port(1433))),
			RawQuery: url.Values{"database": {c.Database}}.Encode(),
		}
		return u.String(), nil

	default:
		return "", fmt.Errorf("unsupported driver %q", c.Driver)
	}
}

func (c Config) port(def int) int {
	if c.Port > 0 {
		return c.Port
	}
	return def
}

// Dialector returns the gorm dialector for the configured driver.
func (c Config) Dialector() (gorm.Dialector, error) {
	dsn, err := c.BuildDSN()
	if err != nil {
		return nil, err
	}
	switch c.Driver {
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLServer:
		return sqlserver.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported driver %q", c.Driver)
}

// Open connects, applies the pool settings and pings the store. An
// unreachable store is reported as a connection fault.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*gorm.DB, error) {
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewSlogLogger(log, logger.Config{
			LogLevel:                  logger.Warn,
			SlowThreshold:             cfg.SlowQuery,
			ParameterizedQueries:      true,
			IgnoreRecordNotFoundError: true,
		}),
		DisableAutomaticPing: true,
	})
	if err != nil {
		// Some dialectors query the store while opening.
		return nil, fault.Connection("database.open", fmt.Errorf("failed to open %s: %w", cfg.Driver, err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fault.Connection("database.open", err)
	}

	log.Info("store connected", "driver", cfg.Driver, "max_open_conns", cfg.MaxOpenConns)
	return db, nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
