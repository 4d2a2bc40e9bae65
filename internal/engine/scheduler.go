package engine

import (
	"context"

	dbmodel "duet/internal/db"

	"gorm.io/gorm"
)

// dependencyStatuses maps each referenced id to its current status. Ids that
// no longer resolve are absent.
func dependencyStatuses(tx *gorm.DB, ids []string) (map[string]Status, error) {
	out := make(map[string]Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		TaskID string
		Status string
	}
	if err := tx.Model(&dbmodel.Task{}).Select("task_id, status").Where("task_id IN ?", ids).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.TaskID] = Status(r.Status)
	}
	return out, nil
}

func unmetDependencies(deps []string, statuses map[string]Status) []string {
	var unmet []string
	for _, id := range deps {
		if statuses[id] != StatusCompleted {
			unmet = append(unmet, id)
		}
	}
	return unmet
}

func requireDependenciesMet(tx *gorm.DB, row dbmodel.Task) error {
	deps, err := decodeStrings(row.DependsOnJSON, "depends_on_json")
	if err != nil {
		return err
	}
	statuses, err := dependencyStatuses(tx, deps)
	if err != nil {
		return err
	}
	if unmet := unmetDependencies(deps, statuses); len(unmet) > 0 {
		return &dependencyError{kind: ErrDependencyUnmet, ids: unmet}
	}
	return nil
}

// PullNextTask returns the first queued task, in priority-then-sequence order,
// whose dependencies are all completed. ok is false when nothing is eligible.
// The task is not claimed.
func (e *Engine) PullNextTask(ctx context.Context, f PullFilter) (*Task, bool, error) {
	var next *Task
	err := e.view(ctx, func(tx *gorm.DB) error {
		row, ok, err := nextEligible(tx, f)
		if err != nil || !ok {
			return err
		}
		next, err = taskFromRow(row)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return next, next != nil, nil
}

func nextEligible(tx *gorm.DB, f PullFilter) (dbmodel.Task, bool, error) {
	q := tx.Model(&dbmodel.Task{}).Where("status = ?", string(StatusQueued))
	if len(f.Categories) > 0 {
		cats := make([]string, 0, len(f.Categories))
		for _, c := range f.Categories {
			cats = append(cats, string(c))
		}
		q = q.Where("category IN ?", cats)
	}
	if f.Assignee != "" {
		q = q.Where("(assigned_to = ? OR assigned_to = '')", string(f.Assignee))
	}
	var rows []dbmodel.Task
	if err := q.Order("priority_rank ASC, sequence ASC").Find(&rows).Error; err != nil {
		return dbmodel.Task{}, false, err
	}
	if len(rows) == 0 {
		return dbmodel.Task{}, false, nil
	}

	depsByTask := make([][]string, len(rows))
	var all []string
	for i, row := range rows {
		deps, err := decodeStrings(row.DependsOnJSON, "depends_on_json")
		if err != nil {
			return dbmodel.Task{}, false, err
		}
		depsByTask[i] = deps
		all = append(all, deps...)
	}
	statuses, err := dependencyStatuses(tx, all)
	if err != nil {
		return dbmodel.Task{}, false, err
	}
	for i, row := range rows {
		if len(unmetDependencies(depsByTask[i], statuses)) == 0 {
			return row, true, nil
		}
	}
	return dbmodel.Task{}, false, nil
}

// QueuePosition is the 1-based rank of a queued task among all queued tasks.
func (e *Engine) QueuePosition(ctx context.Context, id string) (int, error) {
	pos := 0
	err := e.view(ctx, func(tx *gorm.DB) error {
		row, err := loadTaskRow(tx, id)
		if err != nil {
			return err
		}
		if Status(row.Status) != StatusQueued {
			return invalid("task %s is %s, not queued", id, row.Status)
		}
		pos, err = queuePosition(tx, row.PriorityRank, row.Sequence)
		return err
	})
	if err != nil {
		return 0, err
	}
	return pos, nil
}

func queuePosition(tx *gorm.DB, rank int, sequence int64) (int, error) {
	var ahead int64
	if err := tx.Model(&dbmodel.Task{}).
		Where("status = ?", string(StatusQueued)).
		Where("(priority_rank < ? OR (priority_rank = ? AND sequence < ?))", rank, rank, sequence).
		Count(&ahead).Error; err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}
