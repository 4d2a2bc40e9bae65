package engine

import (
	"context"
	"errors"
	"testing"
)

func TestRequestClarification_BlocksTaskAndCreatesPending(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task := mustCreate(t, e, NewTask{Title: "needs input"})
	mustClaim(t, e, task.ID)

	c, err := e.RequestClarification(ctx, RoleExecutor, task.ID, "  which port?  ", []string{"8080", "9090"})
	if err != nil {
		t.Fatalf("RequestClarification failed: %v", err)
	}
	if c.Question != "which port?" || !c.Pending() || c.RespondedAt != nil {
		t.Fatalf("unexpected clarification: %#v", c)
	}
	if len(c.Options) != 2 || c.Options[1] != "9090" {
		t.Fatalf("options did not round-trip: %#v", c.Options)
	}

	got, err := e.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != StatusBlocked {
		t.Fatalf("expected blocked, got %s", got.Status)
	}
	pending, err := e.GetPendingClarifications(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetPendingClarifications failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != c.ID {
		t.Fatalf("expected exactly one pending clarification, got %#v", pending)
	}

	if _, err := e.RequestClarification(ctx, RoleExecutor, task.ID, "again?", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition asking on a blocked task, got %v", err)
	}
}

func TestRequestClarification_RejectsQueuedTask(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task := mustCreate(t, e, NewTask{Title: "not claimed"})

	if _, err := e.RequestClarification(ctx, RoleExecutor, task.ID, "hello?", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	pending, err := e.GetPendingClarifications(ctx, "")
	if err != nil {
		t.Fatalf("GetPendingClarifications failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no clarification after failed request, got %#v", pending)
	}
}

func TestRespondToClarification_LeavesTaskBlocked(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task := mustCreate(t, e, NewTask{Title: "blocked"})
	mustClaim(t, e, task.ID)
	c, err := e.RequestClarification(ctx, RoleExecutor, task.ID, "yes or no?", nil)
	if err != nil {
		t.Fatalf("RequestClarification failed: %v", err)
	}

	answered, err := e.RespondToClarification(ctx, RolePlanner, c.ID, "yes")
	if err != nil {
		t.Fatalf("RespondToClarification failed: %v", err)
	}
	if answered.Response == nil || *answered.Response != "yes" || answered.RespondedAt == nil {
		t.Fatalf("unexpected answered clarification: %#v", answered)
	}
	if answered.RespondedBy != RolePlanner {
		t.Fatalf("expected responded_by planner, got %q", answered.RespondedBy)
	}

	got, err := e.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != StatusBlocked {
		t.Fatalf("expected task to stay blocked, got %s", got.Status)
	}

	if _, err := e.RespondToClarification(ctx, RolePlanner, c.ID, "no"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation on second response, got %v", err)
	}
	stored, err := e.GetClarification(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClarification failed: %v", err)
	}
	if *stored.Response != "yes" {
		t.Fatalf("expected first response to stand, got %q", *stored.Response)
	}
	if _, err := e.RespondToClarification(ctx, RolePlanner, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPendingClarifications_OldestFirstAcrossTasks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustCreate(t, e, NewTask{Title: "a"})
	b := mustCreate(t, e, NewTask{Title: "b"})
	mustClaim(t, e, a.ID)
	mustClaim(t, e, b.ID)

	ca, err := e.RequestClarification(ctx, RoleExecutor, a.ID, "first?", nil)
	if err != nil {
		t.Fatalf("RequestClarification a failed: %v", err)
	}
	cb, err := e.RequestClarification(ctx, RoleExecutor, b.ID, "second?", nil)
	if err != nil {
		t.Fatalf("RequestClarification b failed: %v", err)
	}

	pending, err := e.GetPendingClarifications(ctx, "")
	if err != nil {
		t.Fatalf("GetPendingClarifications failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ca.ID || pending[1].ID != cb.ID {
		t.Fatalf("unexpected pending order: %#v", pending)
	}
}
