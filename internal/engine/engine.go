// Package engine is the task coordination engine shared by the planning and
// execution agents: the task queue and its state machine, the dependency-aware
// scheduler, blocking clarifications, per-agent session snapshots, the project
// state singleton and the audit event log.
//
// Every mutating operation runs as one SQLite transaction that also appends
// its event-log entry, so a failed call leaves no partial writes. Status
// changes are compare-and-set updates on the status observed inside the
// transaction; a concurrent loser sees the winner's status and fails with
// ErrInvalidTransition. The engine never retries on ErrStorageContention.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	dbmodel "duet/internal/db"
	"duet/internal/logging"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Observer receives each event after its transaction commits.
type Observer func(Event)

type Options struct {
	ProjectID       string
	Logger          *slog.Logger
	Now             func() time.Time
	DefaultPageSize int
}

type Engine struct {
	db        *gorm.DB
	projectID string
	logger    *slog.Logger
	now       func() time.Time
	pageSize  int

	obsMu     sync.RWMutex
	observers []Observer
}

// New wraps an already migrated database and makes sure the project state row exists.
func New(gdb *gorm.DB, opts Options) (*Engine, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	projectID := strings.TrimSpace(opts.ProjectID)
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	lg := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		db:        gdb,
		projectID: projectID,
		logger:    lg.With("project_id", projectID),
		now:       now,
		pageSize:  opts.DefaultPageSize,
	}
	if err := e.write(context.Background(), func(t *txn) error {
		return ensureProjectState(t.tx, e.projectID, toMillis(t.now))
	}); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) ProjectID() string { return e.projectID }

// Subscribe registers fn for committed events.
func (e *Engine) Subscribe(fn Observer) {
	if fn == nil {
		return
	}
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

func (e *Engine) notify(events []Event) {
	e.obsMu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.obsMu.RUnlock()
	for _, ev := range events {
		for _, fn := range observers {
			fn(ev)
		}
	}
}

// txn is the unit of work handed to write callbacks. Events appended through
// it commit with the transaction and are published afterwards.
type txn struct {
	tx     *gorm.DB
	now    time.Time
	events []Event
}

func (t *txn) nowMillis() int64 { return toMillis(t.now) }

func (t *txn) appendEvent(agent Role, eventType, taskID string, payload map[string]any) (*Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	row := dbmodel.EventLog{
		Agent:       string(agent),
		EventType:   eventType,
		TaskID:      taskID,
		PayloadJSON: raw,
		CreatedAt:   t.nowMillis(),
	}
	if err := t.tx.Create(&row).Error; err != nil {
		return nil, err
	}
	ev, err := eventFromRow(row)
	if err != nil {
		return nil, err
	}
	t.events = append(t.events, *ev)
	return ev, nil
}

func (e *Engine) write(ctx context.Context, fn func(*txn) error) error {
	t := &txn{}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Read the clock once the write lock is held so timestamps follow commit order.
		t.tx = tx
		t.now = e.now().UTC()
		t.events = t.events[:0]
		return fn(t)
	})
	if err != nil {
		err = translateStorageError(err)
		if errors.Is(err, ErrStorageContention) {
			e.logger.Warn("write lock wait exceeded", "err", err)
		}
		return err
	}
	for _, ev := range t.events {
		e.logger.Debug("event appended", "event_type", ev.Type, "task_id", ev.TaskID, "agent", string(ev.Agent), "event_id", ev.ID)
	}
	e.notify(t.events)
	return nil
}

func (e *Engine) read(ctx context.Context) *gorm.DB {
	return e.db.WithContext(ctx)
}

// view runs fn in a read-only transaction. It begins deferred, so it never
// takes the write lock, and every statement in fn sees one snapshot.
func (e *Engine) view(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := e.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{ReadOnly: true})
	return translateStorageError(err)
}

func readErr(err error) error {
	return translateStorageError(err)
}

func ensureProjectState(tx *gorm.DB, projectID string, now int64) error {
	row := dbmodel.ProjectState{
		ProjectID:       projectID,
		DecisionsJSON:   "[]",
		KnownIssuesJSON: "[]",
		UpdatedAt:       now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoNothing: true,
	}).Create(&row).Error
}
