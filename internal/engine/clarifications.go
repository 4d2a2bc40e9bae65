package engine

import (
	"context"
	"errors"
	"strings"

	dbmodel "duet/internal/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestClarification blocks a claimed or in-progress task on a question.
func (e *Engine) RequestClarification(ctx context.Context, agent Role, taskID, question string, options []string) (*Clarification, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, invalid("question is required")
	}
	optionsJSON, err := encodeStrings(options)
	if err != nil {
		return nil, err
	}
	var out *Clarification
	err = e.write(ctx, func(t *txn) error {
		if _, err := applyTransition(t, opClarify, taskID, StatusBlocked, nil, nil); err != nil {
			return err
		}
		row := dbmodel.Clarification{
			ClarificationID: uuid.NewString(),
			TaskID:          taskID,
			Question:        question,
			OptionsJSON:     optionsJSON,
			AskedBy:         string(agent),
			CreatedAt:       t.nowMillis(),
		}
		if err := t.tx.Create(&row).Error; err != nil {
			return err
		}
		if _, err := t.appendEvent(agent, EventClarificationRequested, taskID, map[string]any{
			"clarification_id": row.ClarificationID,
			"question":         question,
			"options":          nonNil(options),
		}); err != nil {
			return err
		}
		c, err := clarificationFromRow(row)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RespondToClarification answers a pending clarification exactly once. It does
// not change the task's status; the task stays blocked until ResumeTask.
func (e *Engine) RespondToClarification(ctx context.Context, agent Role, id, response string) (*Clarification, error) {
	var out *Clarification
	err := e.write(ctx, func(t *txn) error {
		row, err := loadClarificationRow(t.tx, id)
		if err != nil {
			return err
		}
		if row.Response != nil {
			return invalid("clarification %s already has a response", id)
		}
		now := t.nowMillis()
		res := t.tx.Model(&dbmodel.Clarification{}).
			Where("clarification_id = ? AND response IS NULL", id).
			Updates(map[string]any{
				"response":     response,
				"responded_by": string(agent),
				"responded_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return invalid("clarification %s already has a response", id)
		}
		if _, err := t.appendEvent(agent, EventClarificationAnswered, row.TaskID, map[string]any{
			"clarification_id": id,
			"response":         response,
		}); err != nil {
			return err
		}
		fresh, err := loadClarificationRow(t.tx, id)
		if err != nil {
			return err
		}
		out, err = clarificationFromRow(fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingClarifications lists unanswered clarifications, oldest first. An
// empty taskID means every task.
func (e *Engine) GetPendingClarifications(ctx context.Context, taskID string) ([]Clarification, error) {
	q := e.read(ctx).Model(&dbmodel.Clarification{}).Where("response IS NULL")
	if taskID != "" {
		q = q.Where("task_id = ?", taskID)
	}
	var rows []dbmodel.Clarification
	if err := q.Order("created_at ASC, rowid ASC").Find(&rows).Error; err != nil {
		return nil, readErr(err)
	}
	out := make([]Clarification, 0, len(rows))
	for _, row := range rows {
		c, err := clarificationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// GetClarification returns ErrNotFound for an unknown id.
func (e *Engine) GetClarification(ctx context.Context, id string) (*Clarification, error) {
	row, err := loadClarificationRow(e.read(ctx), id)
	if err != nil {
		return nil, readErr(err)
	}
	return clarificationFromRow(row)
}

func loadClarificationRow(tx *gorm.DB, id string) (dbmodel.Clarification, error) {
	var row dbmodel.Clarification
	err := tx.Where("clarification_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dbmodel.Clarification{}, notFound("clarification", id)
	}
	return row, err
}
