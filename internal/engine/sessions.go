package engine

import (
	"context"
	"errors"
	"strings"

	dbmodel "duet/internal/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaveSessionContext stores a new snapshot for agent in this project. The
// current task's title is copied at save time.
func (e *Engine) SaveSessionContext(ctx context.Context, agent Role, in SessionInput) (*SessionContext, error) {
	if agent == "" {
		return nil, invalid("agent is required")
	}
	var out *SessionContext
	err := e.write(ctx, func(t *txn) error {
		row := dbmodel.SessionContext{
			SessionID: uuid.NewString(),
			Agent:     string(agent),
			ProjectID: e.projectID,
			WorkingOn: in.WorkingOn,
			Progress:  in.Progress,
			NextSteps: in.NextSteps,
			Notes:     in.Notes,
			CreatedAt: t.nowMillis(),
		}
		if taskID := strings.TrimSpace(in.CurrentTaskID); taskID != "" {
			task, err := loadTaskRow(t.tx, taskID)
			if err != nil {
				return err
			}
			row.CurrentTaskID = task.TaskID
			row.CurrentTaskTitle = task.Title
		}
		var err error
		if row.OpenQuestionsJSON, err = encodeStrings(in.OpenQuestions); err != nil {
			return err
		}
		if row.FilesInFocusJSON, err = encodeStrings(in.FilesInFocus); err != nil {
			return err
		}
		if err := t.tx.Create(&row).Error; err != nil {
			return err
		}
		if _, err := t.appendEvent(agent, EventSessionSaved, row.CurrentTaskID, map[string]any{"session_id": row.SessionID}); err != nil {
			return err
		}
		out, err = sessionFromRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetLatestSessionContext returns the newest unresumed snapshot of agent in this project.
func (e *Engine) GetLatestSessionContext(ctx context.Context, agent Role) (*SessionContext, bool, error) {
	row, ok, err := latestActiveSession(e.read(ctx), e.projectID, agent)
	if err != nil || !ok {
		return nil, ok, readErr(err)
	}
	s, err := sessionFromRow(row)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func latestActiveSession(tx *gorm.DB, projectID string, agent Role) (dbmodel.SessionContext, bool, error) {
	var row dbmodel.SessionContext
	err := tx.Where("agent = ? AND project_id = ? AND resumed_at = 0", string(agent), projectID).
		Order("created_at DESC, rowid DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dbmodel.SessionContext{}, false, nil
	}
	if err != nil {
		return dbmodel.SessionContext{}, false, err
	}
	return row, true, nil
}

// MarkSessionResumed stamps resumed_at once. It returns false when the
// session was already resumed.
func (e *Engine) MarkSessionResumed(ctx context.Context, agent Role, id string) (bool, error) {
	var changed bool
	err := e.write(ctx, func(t *txn) error {
		row, err := loadSessionRow(t.tx, id)
		if err != nil {
			return err
		}
		changed, err = markResumed(t, agent, row)
		return err
	})
	return changed, err
}

func markResumed(t *txn, agent Role, row dbmodel.SessionContext) (bool, error) {
	res := t.tx.Model(&dbmodel.SessionContext{}).
		Where("session_id = ? AND resumed_at = 0", row.SessionID).
		Update("resumed_at", t.nowMillis())
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	_, err := t.appendEvent(agent, EventSessionResumed, row.CurrentTaskID, map[string]any{"session_id": row.SessionID})
	return err == nil, err
}

// LoadSessionContext returns the snapshot with the given id, or the latest
// active one of agent when id is empty, and marks it resumed. A snapshot owned
// by another agent is returned without being marked.
func (e *Engine) LoadSessionContext(ctx context.Context, agent Role, id string) (*SessionContext, error) {
	var out *SessionContext
	err := e.write(ctx, func(t *txn) error {
		var row dbmodel.SessionContext
		if strings.TrimSpace(id) == "" {
			latest, ok, err := latestActiveSession(t.tx, e.projectID, agent)
			if err != nil {
				return err
			}
			if !ok {
				return notFound("active session for", string(agent))
			}
			row = latest
		} else {
			found, err := loadSessionRow(t.tx, id)
			if err != nil {
				return err
			}
			row = found
		}
		if Role(row.Agent) == agent {
			if _, err := markResumed(t, agent, row); err != nil {
				return err
			}
			fresh, err := loadSessionRow(t.tx, row.SessionID)
			if err != nil {
				return err
			}
			row = fresh
		}
		s, err := sessionFromRow(row)
		out = s
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessionContexts lists this project's snapshots, newest first.
func (e *Engine) ListSessionContexts(ctx context.Context, f SessionFilter, page Page) ([]SessionContext, error) {
	page = page.normalize(e.pageSize)
	q := e.read(ctx).Model(&dbmodel.SessionContext{}).Where("project_id = ?", e.projectID)
	if f.Agent != "" {
		q = q.Where("agent = ?", string(f.Agent))
	}
	if !f.IncludeResumed {
		q = q.Where("resumed_at = 0")
	}
	var rows []dbmodel.SessionContext
	if err := q.Order("created_at DESC, rowid DESC").Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, readErr(err)
	}
	out := make([]SessionContext, 0, len(rows))
	for _, row := range rows {
		s, err := sessionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func loadSessionRow(tx *gorm.DB, id string) (dbmodel.SessionContext, error) {
	var row dbmodel.SessionContext
	err := tx.Where("session_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dbmodel.SessionContext{}, notFound("session", id)
	}
	return row, err
}
