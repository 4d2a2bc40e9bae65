package engine

import (
	"errors"

	"duet/internal/db/migration"

	"gorm.io/gorm"
)

// nextSequence bumps the task counter and returns the new value in one
// statement, so concurrent creators never observe the same value.
func nextSequence(tx *gorm.DB, now int64) (int64, error) {
	var seq int64
	err := tx.Raw(
		`UPDATE counters SET value = value + 1, updated_at = ? WHERE name = ? RETURNING value`,
		now, migration.TaskSequenceCounter,
	).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq <= 0 {
		return 0, errors.New("task sequence counter is missing: run migrations")
	}
	return seq, nil
}
