package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/migrations"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Connect(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectUnsupportedDriver(t *testing.T) {
	_, err := Connect(Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrateSQLiteCreatesAccounts(t *testing.T) {
	db := openSQLite(t)
	fsys, err := migrations.For(DriverSQLite)
	require.NoError(t, err)

	require.NoError(t, Migrate(context.Background(), db, DriverSQLite, fsys, "."))
	// second run is a no-op
	require.NoError(t, Migrate(context.Background(), db, DriverSQLite, fsys, "."))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestMigrateWrapsGooseError(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	fsys, err := migrations.For(DriverPostgres)
	require.NoError(t, err)
	err = Migrate(context.Background(), &sql.DB{}, DriverPostgres, fsys, ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate up: boom")
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	db := openSQLite(t)
	_, err := db.Exec("CREATE TABLE t (name TEXT UNIQUE)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t (name) VALUES ('alice')")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO t (name) VALUES ('alice')")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", err)))
	assert.False(t, IsConnectivity(err))
}

func TestIsUniqueViolationPostgres(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestIsConnectivity(t *testing.T) {
	assert.True(t, IsConnectivity(driver.ErrBadConn))
	assert.True(t, IsConnectivity(fmt.Errorf("query: %w", sql.ErrConnDone)))
	assert.True(t, IsConnectivity(&pq.Error{Code: "08006"}))
	assert.False(t, IsConnectivity(&pq.Error{Code: "23505"}))
	assert.False(t, IsConnectivity(sql.ErrNoRows))
}

func TestDSNQuote(t *testing.T) {
	assert.Equal(t, "'UTC'", dsnQuote("UTC"))
	assert.Equal(t, `'it\'s'`, dsnQuote("it's"))
	assert.Equal(t, `'a\\b'`, dsnQuote(`a\b`))
}

func TestPostgresDSNRuntimeParams(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "url",
			cfg:  Config{DSN: "postgres://chat:pw@db:5432/chat?sslmode=disable", TimeZone: "Asia/Shanghai", ClientEncoding: "UTF8"},
			want: "postgres://chat:pw@db:5432/chat?client_encoding=UTF8&sslmode=disable&timezone=Asia%2FShanghai",
		},
		{
			name: "key value",
			cfg:  Config{DSN: "host=db dbname=chat sslmode=disable", TimeZone: "UTC", ClientEncoding: "UTF8"},
			want: "host=db dbname=chat sslmode=disable timezone='UTC' client_encoding='UTF8'",
		},
		{
			name: "time zone only",
			cfg:  Config{DSN: "host=db", TimeZone: "Etc/GMT+8"},
			want: "host=db timezone='Etc/GMT+8'",
		},
		{
			name: "unset",
			cfg:  Config{DSN: "postgresql://db/chat?sslmode=disable"},
			want: "postgresql://db/chat?sslmode=disable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := postgresDSN(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := postgresDSN(Config{DSN: "postgres://db:port/chat", TimeZone: "UTC"})
	assert.Error(t, err)
}
