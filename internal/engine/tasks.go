package engine

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	dbmodel "duet/internal/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateTask queues a new task. Every dependency must already exist.
func (e *Engine) CreateTask(ctx context.Context, agent Role, in NewTask) (*Task, error) {
	task, _, err := e.CreateTaskWithPosition(ctx, agent, in)
	return task, err
}

// CreateTaskWithPosition is CreateTask that also reports the task's queue
// position as of the creating transaction.
func (e *Engine) CreateTaskWithPosition(ctx context.Context, agent Role, in NewTask) (*Task, int, error) {
	var created *Task
	pos := 0
	err := e.write(ctx, func(t *txn) error {
		task, err := insertTask(t, agent, in, nil)
		if err != nil {
			return err
		}
		rank, _ := task.Priority.Rank()
		if pos, err = queuePosition(t.tx, rank, task.Sequence); err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return created, pos, nil
}

// CreateTasks queues a batch in one transaction. A dependency written as "#N"
// refers to the N-th (0-based) earlier task of the same batch.
func (e *Engine) CreateTasks(ctx context.Context, agent Role, batch []NewTask) ([]Task, error) {
	if len(batch) == 0 {
		return nil, invalid("batch is empty")
	}
	out := make([]Task, 0, len(batch))
	err := e.write(ctx, func(t *txn) error {
		ids := make([]string, 0, len(batch))
		for i, in := range batch {
			task, err := insertTask(t, agent, in, ids)
			if err != nil {
				return &batchError{index: i, err: err}
			}
			ids = append(ids, task.ID)
			out = append(out, *task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type batchError struct {
	index int
	err   error
}

func (b *batchError) Error() string { return "batch item " + strconv.Itoa(b.index) + ": " + b.err.Error() }
func (b *batchError) Unwrap() error { return b.err }

func insertTask(t *txn, agent Role, in NewTask, batchIDs []string) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	rank, ok := priority.Rank()
	if !ok {
		return nil, invalid("unknown priority %q", priority)
	}
	category := in.Category
	if category == "" {
		category = CategoryFeature
	}
	if !category.Valid() {
		return nil, invalid("unknown category %q", category)
	}

	deps, err := resolveDependencyRefs(in.DependsOn, batchIDs)
	if err != nil {
		return nil, err
	}
	if err := requireTasksExist(t.tx, deps); err != nil {
		return nil, err
	}

	seq, err := nextSequence(t.tx, t.nowMillis())
	if err != nil {
		return nil, err
	}

	row := dbmodel.Task{
		TaskID:         uuid.NewString(),
		Sequence:       seq,
		Priority:       string(priority),
		PriorityRank:   rank,
		Category:       string(category),
		Status:         string(StatusQueued),
		Title:          title,
		Instructions:   in.Instructions,
		ContextSummary: in.ContextSummary,
		CreatedBy:      string(agent),
		AssignedTo:     string(in.AssignTo),
		CreatedAt:      t.nowMillis(),
		LastModified:   t.nowMillis(),
	}
	if row.AcceptanceJSON, err = encodeStrings(in.AcceptanceCriteria); err != nil {
		return nil, err
	}
	if row.ContextFilesJSON, err = encodeStrings(in.ContextFiles); err != nil {
		return nil, err
	}
	if row.RelatedTasksJSON, err = encodeStrings(in.RelatedTasks); err != nil {
		return nil, err
	}
	if row.DependsOnJSON, err = encodeStrings(deps); err != nil {
		return nil, err
	}
	if err := t.tx.Create(&row).Error; err != nil {
		return nil, err
	}

	if _, err := t.appendEvent(agent, EventTaskCreated, row.TaskID, map[string]any{
		"title":      title,
		"priority":   string(priority),
		"category":   string(category),
		"sequence":   seq,
		"depends_on": deps,
	}); err != nil {
		return nil, err
	}
	return taskFromRow(row)
}

func resolveDependencyRefs(refs []string, batchIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if strings.HasPrefix(ref, "#") && batchIDs != nil {
			idx, err := strconv.Atoi(ref[1:])
			if err != nil || idx < 0 || idx >= len(batchIDs) {
				return nil, invalid("dependency %s does not name an earlier batch item", ref)
			}
			ref = batchIDs[idx]
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}

func requireTasksExist(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var found []string
	if err := tx.Model(&dbmodel.Task{}).Where("task_id IN ?", ids).Pluck("task_id", &found).Error; err != nil {
		return err
	}
	have := make(map[string]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			return &dependencyError{kind: ErrDependencyNotFound, ids: []string{id}}
		}
	}
	return nil
}

// dependencyError names the offending task ids.
type dependencyError struct {
	kind error
	ids  []string
}

func (d *dependencyError) Error() string {
	return d.kind.Error() + ": " + strings.Join(d.ids, ", ")
}

func (d *dependencyError) Is(target error) bool { return target == d.kind }

// GetTask returns ErrNotFound for an unknown id.
func (e *Engine) GetTask(ctx context.Context, id string) (*Task, error) {
	row, err := loadTaskRow(e.read(ctx), id)
	if err != nil {
		return nil, readErr(err)
	}
	return taskFromRow(row)
}

func loadTaskRow(tx *gorm.DB, id string) (dbmodel.Task, error) {
	var row dbmodel.Task
	err := tx.Where("task_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dbmodel.Task{}, notFound("task", id)
	}
	return row, err
}

// UpdateTask changes descriptive fields of a non-terminal task.
func (e *Engine) UpdateTask(ctx context.Context, agent Role, id string, patch TaskPatch) (*Task, error) {
	var updated *Task
	err := e.write(ctx, func(t *txn) error {
		row, err := loadTaskRow(t.tx, id)
		if err != nil {
			return err
		}
		if Status(row.Status).Terminal() {
			return &TransitionError{Op: "update", TaskID: id, Current: Status(row.Status)}
		}

		updates, fields, err := patchUpdates(patch)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return invalid("no fields to update")
		}
		updates["last_modified"] = t.nowMillis()

		res := t.tx.Model(&dbmodel.Task{}).
			Where("task_id = ? AND status = ?", id, row.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return lostRace(t.tx, "update", id)
		}
		if _, err := t.appendEvent(agent, EventTaskUpdated, id, map[string]any{"fields": fields}); err != nil {
			return err
		}
		fresh, err := loadTaskRow(t.tx, id)
		if err != nil {
			return err
		}
		updated, err = taskFromRow(fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func patchUpdates(p TaskPatch) (map[string]any, []string, error) {
	updates := map[string]any{}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, nil, invalid("title cannot be empty")
		}
		updates["title"] = title
	}
	if p.Instructions != nil {
		updates["instructions"] = *p.Instructions
	}
	if p.AcceptanceCriteria != nil {
		raw, err := encodeStrings(*p.AcceptanceCriteria)
		if err != nil {
			return nil, nil, err
		}
		updates["acceptance_json"] = raw
	}
	if p.Priority != nil {
		rank, ok := p.Priority.Rank()
		if !ok {
			return nil, nil, invalid("unknown priority %q", *p.Priority)
		}
		updates["priority"] = string(*p.Priority)
		updates["priority_rank"] = rank
	}
	if p.ContextFiles != nil {
		raw, err := encodeStrings(*p.ContextFiles)
		if err != nil {
			return nil, nil, err
		}
		updates["context_files_json"] = raw
	}
	if p.ContextSummary != nil {
		updates["context_summary"] = *p.ContextSummary
	}
	if p.AssignedTo != nil {
		updates["assigned_to"] = string(*p.AssignedTo)
	}
	fields := make([]string, 0, len(updates))
	for k := range updates {
		if k == "priority_rank" {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return updates, fields, nil
}

// ListTasks returns tasks in scheduling order: priority rank, then sequence.
func (e *Engine) ListTasks(ctx context.Context, f TaskFilter, page Page) ([]Task, error) {
	page = page.normalize(e.pageSize)
	q := e.read(ctx).Model(&dbmodel.Task{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.AssignedTo != "" {
		q = q.Where("assigned_to = ?", string(f.AssignedTo))
	}
	if f.Category != "" {
		q = q.Where("category = ?", string(f.Category))
	}
	var rows []dbmodel.Task
	if err := q.Order("priority_rank ASC, sequence ASC").Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, readErr(err)
	}
	return tasksFromRows(rows)
}

// GetTaskHistory lists terminal tasks, most recently finished first.
func (e *Engine) GetTaskHistory(ctx context.Context, f HistoryFilter, page Page) ([]Task, error) {
	page = page.normalize(e.pageSize)
	q := e.read(ctx).Model(&dbmodel.Task{}).Where("status IN ?", terminalStatuses)
	if f.Since != nil {
		q = q.Where("completed_at >= ?", toMillis(*f.Since))
	}
	if f.Category != "" {
		q = q.Where("category = ?", string(f.Category))
	}
	var rows []dbmodel.Task
	if err := q.Order("completed_at DESC, sequence DESC").Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, readErr(err)
	}
	return tasksFromRows(rows)
}
