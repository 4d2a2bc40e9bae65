package engine

import (
	"context"
	"strings"

	dbmodel "duet/internal/db"
)

// LogEvent appends a free-form entry to the audit log.
func (e *Engine) LogEvent(ctx context.Context, agent Role, eventType, taskID string, payload map[string]any) (*Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, invalid("event type is required")
	}
	var out *Event
	err := e.write(ctx, func(t *txn) error {
		ev, err := t.appendEvent(agent, eventType, taskID, payload)
		out = ev
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEvents lists events newest first.
func (e *Engine) GetEvents(ctx context.Context, f EventFilter, page Page) ([]Event, error) {
	page = page.normalize(e.pageSize)
	q := e.read(ctx).Model(&dbmodel.EventLog{})
	if f.Since != nil {
		q = q.Where("created_at >= ?", toMillis(*f.Since))
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	var rows []dbmodel.EventLog
	if err := q.Order("id DESC").Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, readErr(err)
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := eventFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, nil
}
