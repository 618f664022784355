// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"ethapplist/internal/db"
	"ethapplist/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open returns a migrated and seeded in-memory SQLite database. A single
// connection is used so transactions are serialised the way row locks
// serialise them on postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), db.Config(logger.Nop()))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.Seed(gdb, logger.Nop()))
	return gdb
}

// OpenShared returns a migrated and seeded SQLite database in a temporary
// file, opened in WAL mode with several connections. Readers run while
// another connection holds a write transaction and writers wait on each
// other, the way concurrent postgres sessions behave.
func OpenShared(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ethapplist.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	gdb, err := gorm.Open(sqlite.Open(dsn), db.Config(logger.Nop()))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(4)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.Seed(gdb, logger.Nop()))
	return gdb
}
