package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/barekit/tabletalk/pkg/database"
	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  database.Config
		want string
	}{
		{
			"explicit dsn wins",
			database.Config{Driver: database.DriverPostgres, DSN: "postgres://u@h/db", Host: "ignored"},
			"postgres://u@h/db",
		},
		{
			"postgres defaults",
			database.Config{Driver: database.DriverPostgres, Host: "db", User: "shop", Password: "pw", Database: "catalog"},
			"host=db user=shop password=pw dbname=catalog port=5432 sslmode=disable",
		},
		{
			"mysql",
			database.Config{Driver: database.DriverMySQL, Host: "db", Port: 3307, User: "shop", Password: "pw", Database: "catalog"},
			"shop:pw@tcp(db:3307)/catalog?parseTime=true",
		},
		{
			"sqlserver",
			database.Config{Driver: database.DriverSQLServer, Host: "db", User: "sa", Password: "p@ss", Database: "catalog"},
			"sqlserver://sa:p%40ss@db:1433?database=catalog",
		},
		{
			"sqlite path",
			database.Config{Driver: database.DriverSQLite, Database: "shop.db"},
			"shop.db",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cfg.BuildDSN()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildDSNRejects(t *testing.T) {
	t.Parallel()

	_, err := database.Config{Driver: "oracle", Host: "db"}.BuildDSN()
	assert.Error(t, err)

	_, err = database.Config{Driver: database.DriverSQLite}.BuildDSN()
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := database.Open(context.Background(), database.Config{Driver: database.DriverSQLite, Database: path, MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER)").Error)
	var n int64
	require.NoError(t, db.Table("t").Count(&n).Error)
	assert.Zero(t, n)
}

func TestOpenUnreachablePostgres(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := database.Open(ctx, database.Config{
		Driver: database.DriverPostgres, Host: "127.0.0.1", Port: 1, User: "x", Password: "x", Database: "x",
	}, nil)
	assert.True(t, fault.Is(err, fault.KindConnection), "got %v", err)
}

func TestOpenSQLiteInMissingDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "shop.db")
	_, err := database.Open(context.Background(), database.Config{Driver: database.DriverSQLite, Database: path}, nil)
	assert.True(t, fault.Is(err, fault.KindConnection), "got %v", err)
}
