package db

import (
	"errors"
	"log/slog"

	"duet/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&Task{},
		&Clarification{},
		&SessionContext{},
		&ProjectState{},
		&EventLog{},
		&Counter{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_rank_seq ON tasks(status, priority_rank, sequence);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_completed_at ON tasks(status, completed_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_clarifications_pending ON clarifications(response, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_session_contexts_agent_project ON session_contexts(agent, project_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_task_id ON event_log(task_id, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_created_at ON event_log(created_at DESC);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs data migrations. logger may be nil.
func MigrateUp(db *gorm.DB, logger *slog.Logger) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	migration.Init()
	return migration.RunAll(db, logger)
}
