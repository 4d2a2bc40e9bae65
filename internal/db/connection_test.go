package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"duet/internal/db/migration"
	"duet/internal/logging"

	"gorm.io/gorm"
)

func TestOpenSQLiteWithMigrations_SetsBusyTimeout(t *testing.T) {
	gdb := openTestDB(t, Options{BusyTimeout: 7 * time.Second})

	var timeout int
	if err := gdb.Raw(`PRAGMA busy_timeout;`).Scan(&timeout).Error; err != nil {
		t.Fatalf("query busy_timeout failed: %v", err)
	}
	if timeout != 7000 {
		t.Fatalf("expected busy_timeout 7000, got %d", timeout)
	}
}

func TestOpenSQLiteWithMigrations_DefaultBusyTimeout(t *testing.T) {
	gdb := openTestDB(t, Options{})

	var timeout int
	if err := gdb.Raw(`PRAGMA busy_timeout;`).Scan(&timeout).Error; err != nil {
		t.Fatalf("query busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestOpenSQLiteWithMigrations_EnablesForeignKeys(t *testing.T) {
	gdb := openTestDB(t, Options{})

	var on int
	if err := gdb.Raw(`PRAGMA foreign_keys;`).Scan(&on).Error; err != nil {
		t.Fatalf("query foreign_keys failed: %v", err)
	}
	if on != 1 {
		t.Fatalf("expected foreign_keys on, got %d", on)
	}
}

func TestWithConnParams(t *testing.T) {
	got := withConnParams("/tmp/duet.db", 2*time.Second)
	if got != "/tmp/duet.db?_pragma=busy_timeout(2000)&_pragma=foreign_keys(1)&_txlock=immediate" {
		t.Fatalf("unexpected dsn %q", got)
	}
	got = withConnParams("file:duet.db?_txlock=exclusive", time.Second)
	if strings.Count(got, "_txlock=") != 1 || !strings.HasPrefix(got, "file:duet.db?_txlock=exclusive&") {
		t.Fatalf("explicit txlock must be kept, got %q", got)
	}
	if dsnPath("/tmp/x/duet.db?a=b") != "/tmp/x/duet.db" {
		t.Fatalf("unexpected dsn path")
	}
}

// A write transaction that reads before it writes must not fail when another
// handle commits in between; the second writer waits for the lock instead.
func TestWriteTransactions_SerializeAcrossHandles(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "duet.db")
	first, err := OpenSQLiteWithMigrations(dbPath, Options{})
	if err != nil {
		t.Fatalf("open first handle failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(first) })
	second, err := OpenSQLiteWithMigrations(dbPath, Options{})
	if err != nil {
		t.Fatalf("open second handle failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(second) })

	bump := func(tx *gorm.DB) error {
		return tx.Exec(`UPDATE counters SET value = value + 1 WHERE name = ?`, migration.TaskSequenceCounter).Error
	}

	readDone := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var secondErr error
	go func() {
		defer wg.Done()
		<-readDone
		secondErr = bump(second)
		record("second")
	}()

	firstErr := first.Transaction(func(tx *gorm.DB) error {
		var row Counter
		if err := tx.Where("name = ?", migration.TaskSequenceCounter).Take(&row).Error; err != nil {
			return err
		}
		close(readDone)
		time.Sleep(150 * time.Millisecond)
		if err := bump(tx); err != nil {
			return err
		}
		record("first")
		return nil
	})
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("first transaction failed: %v", firstErr)
	}
	if secondErr != nil {
		t.Fatalf("second write failed instead of waiting: %v", secondErr)
	}
	if len(order) != 2 || order[0] != "first" {
		t.Fatalf("expected second writer to wait for the first, got %v", order)
	}
	var row Counter
	if err := first.Where("name = ?", migration.TaskSequenceCounter).Take(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Value != 2 {
		t.Fatalf("expected both increments, got %d", row.Value)
	}
}

func TestWriteTransactions_TimeOutWithBusyError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "duet.db")
	holder, err := OpenSQLiteWithMigrations(dbPath, Options{})
	if err != nil {
		t.Fatalf("open holder failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(holder) })
	waiter, err := OpenSQLiteWithMigrations(dbPath, Options{BusyTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("open waiter failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(waiter) })

	tx := holder.Begin()
	if tx.Error != nil {
		t.Fatalf("begin failed: %v", tx.Error)
	}
	defer tx.Rollback()

	started := time.Now()
	err = waiter.Transaction(func(tx *gorm.DB) error { return nil })
	if err == nil {
		t.Fatal("expected busy error while another handle holds the write lock")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "locked") && !strings.Contains(err.Error(), "BUSY") {
		t.Fatalf("expected busy error, got %v", err)
	}
	if elapsed := time.Since(started); elapsed < 80*time.Millisecond {
		t.Fatalf("expected bounded wait before failing, took %s", elapsed)
	}
}

func TestMigrateUp_CreatesTablesAndSeedsCounter(t *testing.T) {
	gdb := openTestDB(t, Options{})

	mustHaveColumns(t, gdb, "tasks", []string{
		"task_id", "sequence", "priority", "priority_rank", "category", "status", "title", "instructions",
		"acceptance_json", "depends_on_json", "assigned_to", "result_json", "claimed_at", "started_at", "completed_at",
	})
	for _, table := range []string{"clarifications", "session_contexts", "project_states", "event_log", "counters"} {
		mustHaveTable(t, gdb, table)
	}

	var row Counter
	if err := gdb.Where("name = ?", migration.TaskSequenceCounter).Take(&row).Error; err != nil {
		t.Fatalf("expected seeded counter: %v", err)
	}
	if row.Value != 0 {
		t.Fatalf("expected counter to start at 0, got %d", row.Value)
	}
}

func TestMigrateUp_LogsStepOutput(t *testing.T) {
	var buf bytes.Buffer
	lg := logging.NewLogger(logging.Options{Level: "info", Writer: &buf, Component: "db"})
	gdb, err := OpenSQLiteWithMigrations(filepath.Join(t.TempDir(), "duet.db"), Options{Logger: lg})
	if err != nil {
		t.Fatalf("OpenSQLiteWithMigrations failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })

	out := buf.String()
	if !strings.Contains(out, "seed_task_sequence_counter") || !strings.Contains(out, "seeded task_sequence") {
		t.Fatalf("expected seed step logged, got %q", out)
	}

	buf.Reset()
	if err := MigrateUp(gdb, lg); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
	if strings.Contains(buf.String(), "seeded") {
		t.Fatalf("rerun should not seed again, got %q", buf.String())
	}
}

func TestMigrateUp_IsIdempotent(t *testing.T) {
	gdb := openTestDB(t, Options{})
	if err := gdb.Model(&Counter{}).Where("name = ?", migration.TaskSequenceCounter).Update("value", 42).Error; err != nil {
		t.Fatalf("bump counter failed: %v", err)
	}
	if err := MigrateUp(gdb, nil); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
	var row Counter
	if err := gdb.Where("name = ?", migration.TaskSequenceCounter).Take(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Value != 42 {
		t.Fatalf("rerun must not reset the counter, got %d", row.Value)
	}
}

func TestMigrateUp_BackfillsPriorityRank(t *testing.T) {
	gdb := openTestDB(t, Options{})
	if err := gdb.Create(&Task{TaskID: "t1", Sequence: 1, Priority: "critical", PriorityRank: 2, Status: "queued"}).Error; err != nil {
		t.Fatalf("insert task failed: %v", err)
	}
	if err := MigrateUp(gdb, nil); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	var row Task
	if err := gdb.Where("task_id = ?", "t1").Take(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.PriorityRank != 0 {
		t.Fatalf("expected critical rank 0, got %d", row.PriorityRank)
	}
}

func openTestDB(t *testing.T, opts Options) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "duet.db")
	gdb, err := OpenSQLiteWithMigrations(dbPath, opts)
	if err != nil {
		t.Fatalf("OpenSQLiteWithMigrations failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })
	return gdb
}

func mustHaveColumns(t *testing.T, db *gorm.DB, table string, columns []string) {
	t.Helper()

	for _, column := range columns {
		if !db.Migrator().HasColumn(table, column) {
			t.Fatalf("table %s missing column %s", table, column)
		}
	}
}

func mustHaveTable(t *testing.T, db *gorm.DB, table string) {
	t.Helper()

	if !db.Migrator().HasTable(table) {
		t.Fatalf("missing table %s", table)
	}
}
