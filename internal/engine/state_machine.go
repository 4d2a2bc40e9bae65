package engine

import (
	"context"
	"slices"
	"strings"

	dbmodel "duet/internal/db"

	"gorm.io/gorm"
)

const (
	EventTaskCreated            = "task_created"
	EventTaskUpdated            = "task_updated"
	EventTaskClaimed            = "task_claimed"
	EventProgressReported       = "progress_reported"
	EventTaskCompleted          = "task_completed"
	EventTaskFailed             = "task_failed"
	EventTaskCancelled          = "task_cancelled"
	EventTaskResumed            = "task_resumed"
	EventClarificationRequested = "clarification_requested"
	EventClarificationAnswered  = "clarification_answered"
	EventSessionSaved           = "session_saved"
	EventSessionResumed         = "session_resumed"
	EventProjectStateUpdated    = "project_state_updated"
	EventDecisionAdded          = "decision_added"
	EventSyncPoint              = "sync_point"
)

// transition is one guarded edge of the task lifecycle.
type transition struct {
	op   string
	from []Status
	to   []Status
}

var (
	opClaim    = transition{op: "claim", from: []Status{StatusQueued}, to: []Status{StatusClaimed}}
	opProgress = transition{op: "report progress on", from: []Status{StatusClaimed, StatusInProgress}, to: []Status{StatusInProgress, StatusBlocked}}
	opComplete = transition{op: "complete", from: []Status{StatusClaimed, StatusInProgress}, to: []Status{StatusCompleted}}
	opFail     = transition{op: "fail", from: []Status{StatusClaimed, StatusInProgress, StatusBlocked}, to: []Status{StatusFailed}}
	opCancel   = transition{op: "cancel", from: []Status{StatusQueued, StatusBlocked}, to: []Status{StatusCancelled}}
	opClarify  = transition{op: "request clarification on", from: []Status{StatusClaimed, StatusInProgress}, to: []Status{StatusBlocked}}
	opResume   = transition{op: "resume", from: []Status{StatusBlocked}, to: []Status{StatusInProgress}}
)

var lifecycle = []transition{opClaim, opProgress, opComplete, opFail, opCancel, opClarify, opResume}

// CanTransition reports whether any operation moves a task from one status to another.
func CanTransition(from, to Status) bool {
	for _, tr := range lifecycle {
		if slices.Contains(tr.from, from) && slices.Contains(tr.to, to) {
			return true
		}
	}
	return false
}

// applyTransition moves task id along tr inside t. guard runs against the row
// read in the same transaction; set adds the columns the edge writes. The
// status update is conditioned on the status that was read.
func applyTransition(t *txn, tr transition, id string, to Status, guard func(dbmodel.Task) error, set map[string]any) (dbmodel.Task, error) {
	row, err := loadTaskRow(t.tx, id)
	if err != nil {
		return dbmodel.Task{}, err
	}
	from := Status(row.Status)
	if !slices.Contains(tr.from, from) || !slices.Contains(tr.to, to) {
		return dbmodel.Task{}, &TransitionError{Op: tr.op, TaskID: id, Current: from}
	}
	if guard != nil {
		if err := guard(row); err != nil {
			return dbmodel.Task{}, err
		}
	}

	updates := map[string]any{
		"status":        string(to),
		"last_modified": t.nowMillis(),
	}
	for k, v := range set {
		updates[k] = v
	}
	if from == StatusClaimed && to != StatusClaimed && row.StartedAt == 0 && !to.Terminal() {
		updates["started_at"] = t.nowMillis()
	}
	res := t.tx.Model(&dbmodel.Task{}).
		Where("task_id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return dbmodel.Task{}, res.Error
	}
	if res.RowsAffected == 0 {
		return dbmodel.Task{}, lostRace(t.tx, tr.op, id)
	}
	return loadTaskRow(t.tx, id)
}

func lostRace(tx *gorm.DB, op, id string) error {
	row, err := loadTaskRow(tx, id)
	if err != nil {
		return err
	}
	return &TransitionError{Op: op, TaskID: id, Current: Status(row.Status)}
}

// ClaimTask moves a queued task whose dependencies are all completed to claimed and assigns it to agent.
func (e *Engine) ClaimTask(ctx context.Context, agent Role, id string) (*Task, error) {
	return e.transitionTask(ctx, func(t *txn) (dbmodel.Task, error) {
		row, err := applyTransition(t, opClaim, id, StatusClaimed,
			func(row dbmodel.Task) error { return requireDependenciesMet(t.tx, row) },
			map[string]any{
				"claimed_at":  t.nowMillis(),
				"assigned_to": string(agent),
			})
		if err != nil {
			return row, err
		}
		_, err = t.appendEvent(agent, EventTaskClaimed, id, map[string]any{"title": row.Title})
		return row, err
	})
}

// ReportProgress records a progress note and moves the task to in_progress or blocked.
func (e *Engine) ReportProgress(ctx context.Context, agent Role, id string, in ProgressUpdate) (*Task, error) {
	if in.Status != StatusInProgress && in.Status != StatusBlocked {
		return nil, invalid("progress status must be %s or %s, got %q", StatusInProgress, StatusBlocked, in.Status)
	}
	return e.transitionTask(ctx, func(t *txn) (dbmodel.Task, error) {
		row, err := applyTransition(t, opProgress, id, in.Status, nil, nil)
		if err != nil {
			return row, err
		}
		_, err = t.appendEvent(agent, EventProgressReported, id, map[string]any{
			"status":         string(in.Status),
			"message":        in.Message,
			"files_modified": nonNil(in.FilesModified),
		})
		return row, err
	})
}

// CompleteTask stores the result and finishes the task.
func (e *Engine) CompleteTask(ctx context.Context, agent Role, id string, result TaskResult) (*Task, error) {
	if strings.TrimSpace(result.Summary) == "" {
		return nil, invalid("result summary is required")
	}
	raw, err := encodeResult(&result)
	if err != nil {
		return nil, err
	}
	return e.transitionTask(ctx, func(t *txn) (dbmodel.Task, error) {
		row, err := applyTransition(t, opComplete, id, StatusCompleted, nil, map[string]any{
			"result_json":  raw,
			"completed_at": t.nowMillis(),
		})
		if err != nil {
			return row, err
		}
		_, err = t.appendEvent(agent, EventTaskCompleted, id, map[string]any{
			"success":        result.Success,
			"summary":        result.Summary,
			"files_modified": nonNil(result.FilesModified),
			"files_created":  nonNil(result.FilesCreated),
			"files_deleted":  nonNil(result.FilesDeleted),
			"commits":        nonNil(result.Commits),
			"follow_ups":     len(result.FollowUps),
		})
		return row, err
	})
}

// FailTask finishes the task with an unsuccessful result carrying errText.
func (e *Engine) FailTask(ctx context.Context, agent Role, id, errText string, blockers []string) (*Task, error) {
	result := TaskResult{Success: false, Summary: errText, Blockers: blockers}
	raw, err := encodeResult(&result)
	if err != nil {
		return nil, err
	}
	return e.transitionTask(ctx, func(t *txn) (dbmodel.Task, error) {
		row, err := applyTransition(t, opFail, id, StatusFailed, nil, map[string]any{
			"result_json":  raw,
			"completed_at": t.nowMillis(),
		})
		if err != nil {
			return row, err
		}
		_, err = t.appendEvent(agent, EventTaskFailed, id, map[string]any{
			"error":    errText,
			"blockers": nonNil(blockers),
		})
		return row, err
	})
}

// CancelTask withdraws a queued or blocked task. The reason is kept in the event log only.
func (e *Engine) CancelTask(ctx context.Context, agent Role, id, reason string) (*Task, error) {
	return e.transitionTask(ctx, func(t *txn) (dbmodel.Task, error) {
		row, err := applyTransition(t, opCancel, id, StatusCancelled, nil, map[string]any{
			"completed_at": t.nowMillis(),
		})
		if err != nil {
			return row, err
		}
		_, err = t.appendEvent(agent, EventTaskCancelled, id, map[string]any{"reason": reason})
		return row, err
	})
}

// ResumeTask returns a blocked task to in_progress once none of its clarifications are pending.
func (e *Engine) ResumeTask(ctx context.Context, agent Role, id, note string) (*Task, error) {
	return e.transitionTask(ctx, func(t *txn) (dbmodel.Task, error) {
		row, err := applyTransition(t, opResume, id, StatusInProgress,
			func(dbmodel.Task) error {
				var pending int64
				if err := t.tx.Model(&dbmodel.Clarification{}).
					Where("task_id = ? AND response IS NULL", id).
					Count(&pending).Error; err != nil {
					return err
				}
				if pending > 0 {
					return invalid("task %s has %d pending clarification(s)", id, pending)
				}
				return nil
			},
			nil)
		if err != nil {
			return row, err
		}
		_, err = t.appendEvent(agent, EventTaskResumed, id, map[string]any{"note": note})
		return row, err
	})
}

func (e *Engine) transitionTask(ctx context.Context, fn func(*txn) (dbmodel.Task, error)) (*Task, error) {
	var out dbmodel.Task
	err := e.write(ctx, func(t *txn) error {
		row, err := fn(t)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taskFromRow(out)
}
