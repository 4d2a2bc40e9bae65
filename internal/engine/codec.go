package engine

import (
	"encoding/json"
	"fmt"
	"time"

	dbmodel "duet/internal/db"
)

// Structured columns are JSON text. This file is the only place they are encoded or decoded.

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeStrings(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	return encodeJSON(items)
}

func decodeStrings(raw, column string) ([]string, error) {
	out := []string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", column, err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func encodeResult(r *TaskResult) (string, error) {
	if r == nil {
		return "", nil
	}
	cp := *r
	cp.FilesModified = nonNil(cp.FilesModified)
	cp.FilesCreated = nonNil(cp.FilesCreated)
	cp.FilesDeleted = nonNil(cp.FilesDeleted)
	return encodeJSON(cp)
}

func decodeResult(raw string) (*TaskResult, error) {
	if raw == "" {
		return nil, nil
	}
	var r TaskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode result_json: %w", err)
	}
	r.FilesModified = nonNil(r.FilesModified)
	r.FilesCreated = nonNil(r.FilesCreated)
	r.FilesDeleted = nonNil(r.FilesDeleted)
	return &r, nil
}

func encodeDecisions(items []Decision) (string, error) {
	if items == nil {
		items = []Decision{}
	}
	return encodeJSON(items)
}

func decodeDecisions(raw string) ([]Decision, error) {
	out := []Decision{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode decisions_json: %w", err)
	}
	for i := range out {
		out[i].AffectedFiles = nonNil(out[i].AffectedFiles)
	}
	return out, nil
}

func encodePayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	return encodeJSON(payload)
}

func decodePayload(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode payload_json: %w", err)
	}
	return out, nil
}

func taskFromRow(row dbmodel.Task) (*Task, error) {
	t := &Task{
		ID:             row.TaskID,
		Sequence:       row.Sequence,
		Priority:       Priority(row.Priority),
		Category:       Category(row.Category),
		Status:         Status(row.Status),
		Title:          row.Title,
		Instructions:   row.Instructions,
		ContextSummary: row.ContextSummary,
		CreatedBy:      Role(row.CreatedBy),
		AssignedTo:     Role(row.AssignedTo),
		CreatedAt:      fromMillis(row.CreatedAt),
		ClaimedAt:      optMillis(row.ClaimedAt),
		StartedAt:      optMillis(row.StartedAt),
		CompletedAt:    optMillis(row.CompletedAt),
	}
	var err error
	if t.AcceptanceCriteria, err = decodeStrings(row.AcceptanceJSON, "acceptance_json"); err != nil {
		return nil, err
	}
	if t.ContextFiles, err = decodeStrings(row.ContextFilesJSON, "context_files_json"); err != nil {
		return nil, err
	}
	if t.RelatedTasks, err = decodeStrings(row.RelatedTasksJSON, "related_tasks_json"); err != nil {
		return nil, err
	}
	if t.DependsOn, err = decodeStrings(row.DependsOnJSON, "depends_on_json"); err != nil {
		return nil, err
	}
	if t.Result, err = decodeResult(row.ResultJSON); err != nil {
		return nil, err
	}
	return t, nil
}

func tasksFromRows(rows []dbmodel.Task) ([]Task, error) {
	out := make([]Task, 0, len(rows))
	for _, row := range rows {
		t, err := taskFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func clarificationFromRow(row dbmodel.Clarification) (*Clarification, error) {
	options, err := decodeStrings(row.OptionsJSON, "options_json")
	if err != nil {
		return nil, err
	}
	c := &Clarification{
		ID:          row.ClarificationID,
		TaskID:      row.TaskID,
		Question:    row.Question,
		Options:     options,
		AskedBy:     Role(row.AskedBy),
		RespondedBy: Role(row.RespondedBy),
		CreatedAt:   fromMillis(row.CreatedAt),
		RespondedAt: optMillis(row.RespondedAt),
	}
	if row.Response != nil {
		resp := *row.Response
		c.Response = &resp
	}
	return c, nil
}

func sessionFromRow(row dbmodel.SessionContext) (*SessionContext, error) {
	s := &SessionContext{
		ID:               row.SessionID,
		Agent:            Role(row.Agent),
		ProjectID:        row.ProjectID,
		CurrentTaskID:    row.CurrentTaskID,
		CurrentTaskTitle: row.CurrentTaskTitle,
		WorkingOn:        row.WorkingOn,
		Progress:         row.Progress,
		NextSteps:        row.NextSteps,
		Notes:            row.Notes,
		CreatedAt:        fromMillis(row.CreatedAt),
		ResumedAt:        optMillis(row.ResumedAt),
	}
	var err error
	if s.OpenQuestions, err = decodeStrings(row.OpenQuestionsJSON, "open_questions_json"); err != nil {
		return nil, err
	}
	if s.FilesInFocus, err = decodeStrings(row.FilesInFocusJSON, "files_in_focus_json"); err != nil {
		return nil, err
	}
	return s, nil
}

func projectStateFromRow(row dbmodel.ProjectState) (*ProjectState, error) {
	ps := &ProjectState{
		ProjectID:  row.ProjectID,
		LastSyncAt: optMillis(row.LastSyncAt),
	}
	if row.CurrentFocus != nil {
		focus := *row.CurrentFocus
		ps.CurrentFocus = &focus
	}
	var err error
	if ps.RecentDecisions, err = decodeDecisions(row.DecisionsJSON); err != nil {
		return nil, err
	}
	if ps.KnownIssues, err = decodeStrings(row.KnownIssuesJSON, "known_issues_json"); err != nil {
		return nil, err
	}
	return ps, nil
}

func eventFromRow(row dbmodel.EventLog) (*Event, error) {
	payload, err := decodePayload(row.PayloadJSON)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        row.ID,
		CreatedAt: fromMillis(row.CreatedAt),
		Agent:     Role(row.Agent),
		Type:      row.EventType,
		TaskID:    row.TaskID,
		Payload:   payload,
	}, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}
