package migration

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"duet/internal/logging"

	"gorm.io/gorm"
)

// TaskSequenceCounter names the counters row that hands out task sequence numbers.
const TaskSequenceCounter = "task_sequence"

type step struct {
	name string
	run  func(*Migration) error
}

var (
	steps    []step
	initOnce sync.Once
)

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

// Logs returns what the current step reported.
func (m *Migration) Logs() []string {
	out := make([]string, len(m.logs))
	copy(out, m.logs)
	return out
}

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// Init registers the built-in steps once per process.
func Init() {
	initOnce.Do(func() {
		register("seed_task_sequence_counter", seedTaskSequenceCounter)
		register("backfill_task_priority_rank", backfillTaskPriorityRank)
	})
}

// RunAll runs all registered migrations in order and passes what each step
// logged to logger. Every step must be idempotent.
func RunAll(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	lg := logging.OrDiscard(logger)
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
		for _, line := range ctx.Logs() {
			lg.Info("migration step", "step", s.name, "msg", line)
		}
	}
	return nil
}

func seedTaskSequenceCounter(m *Migration) error {
	res := m.DB.Exec(
		`INSERT INTO counters (name, value, updated_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
		TaskSequenceCounter, time.Now().UTC().UnixMilli(),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.Log("seeded ", TaskSequenceCounter)
	}
	return nil
}

// Rows written before priority_rank existed carry the column default; derive it from the priority text.
func backfillTaskPriorityRank(m *Migration) error {
	res := m.DB.Exec(`
UPDATE tasks SET priority_rank = CASE priority
	WHEN 'critical' THEN 0
	WHEN 'high' THEN 1
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 3
	ELSE 2 END
WHERE priority_rank <> CASE priority
	WHEN 'critical' THEN 0
	WHEN 'high' THEN 1
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 3
	ELSE 2 END
`)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.Log("backfilled priority_rank on ", res.RowsAffected, " tasks")
	}
	return nil
}
