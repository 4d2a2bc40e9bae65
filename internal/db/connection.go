package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const DefaultBusyTimeout = 5 * time.Second

type Options struct {
	// BusyTimeout bounds how long a writer waits on a locked database before
	// the statement fails with SQLITE_BUSY.
	BusyTimeout time.Duration
	// Logger receives migration step output. Nil discards it.
	Logger *slog.Logger
}

// OpenSQLiteWithMigrations opens dsn, applies schema sync and data migrations
// and returns a handle limited to one open connection.
func OpenSQLiteWithMigrations(dsn string, opts Options) (*gorm.DB, error) {
	gdb, err := openSQLite(dsn, opts)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(gdb, opts.Logger); err != nil {
		_ = Close(gdb)
		return nil, err
	}
	return gdb, nil
}

func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openSQLite(dsn string, opts Options) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if !isURIDSN(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsnPath(dsn)), 0o755); err != nil {
			return nil, err
		}
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        withConnParams(dsn, busy),
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

// withConnParams adds per-connection settings to dsn. Write transactions
// begin IMMEDIATE so they take the write lock up front and wait out
// busy_timeout instead of failing when another connection commits first.
// Read-only transactions still begin deferred.
func withConnParams(dsn string, busy time.Duration) string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func dsnPath(dsn string) string {
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		return dsn[:i]
	}
	return dsn
}

func isURIDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || dsn == ":memory:"
}
