package engine

import (
	"context"
	"errors"
	"strings"

	dbmodel "duet/internal/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetProjectState returns the singleton for this engine's project.
func (e *Engine) GetProjectState(ctx context.Context) (*ProjectState, error) {
	var row dbmodel.ProjectState
	err := e.read(ctx).Where("project_id = ?", e.projectID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var out *ProjectState
		err = e.write(ctx, func(t *txn) error {
			if err := ensureProjectState(t.tx, e.projectID, t.nowMillis()); err != nil {
				return err
			}
			fresh, err := loadProjectStateRow(t.tx, e.projectID)
			if err != nil {
				return err
			}
			out, err = projectStateFromRow(fresh)
			return err
		})
		return out, err
	}
	if err != nil {
		return nil, readErr(err)
	}
	return projectStateFromRow(row)
}

func loadProjectStateRow(tx *gorm.DB, projectID string) (dbmodel.ProjectState, error) {
	if err := ensureProjectState(tx, projectID, 0); err != nil {
		return dbmodel.ProjectState{}, err
	}
	var row dbmodel.ProjectState
	err := tx.Where("project_id = ?", projectID).Take(&row).Error
	return row, err
}

// UpdateProjectState merges patch into the singleton.
func (e *Engine) UpdateProjectState(ctx context.Context, agent Role, patch ProjectStatePatch) (*ProjectState, error) {
	if patch.CurrentFocus == nil && patch.KnownIssues == nil {
		return nil, invalid("no fields to update")
	}
	var out *ProjectState
	err := e.write(ctx, func(t *txn) error {
		if _, err := loadProjectStateRow(t.tx, e.projectID); err != nil {
			return err
		}
		updates := map[string]any{"updated_at": t.nowMillis()}
		var fields []string
		if patch.CurrentFocus != nil {
			focus := strings.TrimSpace(*patch.CurrentFocus)
			if focus == "" {
				updates["current_focus"] = gorm.Expr("NULL")
			} else {
				updates["current_focus"] = focus
			}
			fields = append(fields, "current_focus")
		}
		if patch.KnownIssues != nil {
			raw, err := encodeStrings(*patch.KnownIssues)
			if err != nil {
				return err
			}
			updates["known_issues_json"] = raw
			fields = append(fields, "known_issues")
		}
		if err := t.tx.Model(&dbmodel.ProjectState{}).
			Where("project_id = ?", e.projectID).
			Updates(updates).Error; err != nil {
			return err
		}
		if _, err := t.appendEvent(agent, EventProjectStateUpdated, "", map[string]any{"fields": fields}); err != nil {
			return err
		}
		fresh, err := loadProjectStateRow(t.tx, e.projectID)
		if err != nil {
			return err
		}
		out, err = projectStateFromRow(fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddDecision appends to RecentDecisions, evicting the oldest beyond MaxDecisions.
func (e *Engine) AddDecision(ctx context.Context, agent Role, in DecisionInput) (*Decision, error) {
	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		return nil, invalid("decision summary is required")
	}
	author := in.Author
	if author == "" {
		author = agent
	}
	var out *Decision
	err := e.write(ctx, func(t *txn) error {
		row, err := loadProjectStateRow(t.tx, e.projectID)
		if err != nil {
			return err
		}
		decisions, err := decodeDecisions(row.DecisionsJSON)
		if err != nil {
			return err
		}
		d := Decision{
			ID:            uuid.NewString(),
			Summary:       summary,
			Rationale:     in.Rationale,
			Author:        author,
			CreatedAt:     fromMillis(t.nowMillis()),
			AffectedFiles: nonNil(in.AffectedFiles),
		}
		decisions = append(decisions, d)
		if over := len(decisions) - MaxDecisions; over > 0 {
			decisions = decisions[over:]
		}
		raw, err := encodeDecisions(decisions)
		if err != nil {
			return err
		}
		if err := t.tx.Model(&dbmodel.ProjectState{}).
			Where("project_id = ?", e.projectID).
			Updates(map[string]any{"decisions_json": raw, "updated_at": t.nowMillis()}).Error; err != nil {
			return err
		}
		if _, err := t.appendEvent(agent, EventDecisionAdded, "", map[string]any{
			"decision_id":    d.ID,
			"summary":        d.Summary,
			"author":         string(d.Author),
			"affected_files": d.AffectedFiles,
		}); err != nil {
			return err
		}
		out = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LogSyncPoint stamps last_sync_at and records the note as a sync_point event.
func (e *Engine) LogSyncPoint(ctx context.Context, agent Role, note string) (*Event, error) {
	var out *Event
	err := e.write(ctx, func(t *txn) error {
		if _, err := loadProjectStateRow(t.tx, e.projectID); err != nil {
			return err
		}
		if err := t.tx.Model(&dbmodel.ProjectState{}).
			Where("project_id = ?", e.projectID).
			Updates(map[string]any{"last_sync_at": t.nowMillis(), "updated_at": t.nowMillis()}).Error; err != nil {
			return err
		}
		ev, err := t.appendEvent(agent, EventSyncPoint, "", map[string]any{"note": note})
		out = ev
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
