package dispatch

import (
	"context"

	"duet/internal/engine"
)

type taskIDArgs struct {
	TaskID string `json:"task_id"`
}

type createTasksArgs struct {
	Tasks []engine.NewTask `json:"tasks"`
}

type updateTaskArgs struct {
	TaskID string `json:"task_id"`
	engine.TaskPatch
}

type cancelTaskArgs struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

type listTasksArgs struct {
	engine.TaskFilter
	engine.Page
}

type historyArgs struct {
	engine.HistoryFilter
	engine.Page
}

type progressArgs struct {
	TaskID string `json:"task_id"`
	engine.ProgressUpdate
}

type completeArgs struct {
	TaskID string `json:"task_id"`
	engine.TaskResult
}

type failArgs struct {
	TaskID   string   `json:"task_id"`
	Error    string   `json:"error"`
	Blockers []string `json:"blockers,omitempty"`
}

type resumeArgs struct {
	TaskID string `json:"task_id"`
	Note   string `json:"note,omitempty"`
}

type clarifyArgs struct {
	TaskID   string   `json:"task_id"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type respondArgs struct {
	ClarificationID string `json:"clarification_id"`
	Response        string `json:"response"`
}

type pendingArgs struct {
	TaskID string `json:"task_id,omitempty"`
}

type loadSessionArgs struct {
	SessionID string `json:"session_id,omitempty"`
}

type listSessionsArgs struct {
	engine.SessionFilter
	engine.Page
}

type syncPointArgs struct {
	Note string `json:"note,omitempty"`
}

type eventsArgs struct {
	engine.EventFilter
	engine.Page
}

func (d *Dispatcher) registerTaskOps() {
	d.register("create_task", SidePlanner, typed(func(ctx context.Context, c Capabilities, a engine.NewTask) (any, error) {
		task, pos, err := c.Planner.CreateTaskWithPosition(ctx, c.Agent, a)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": task, "queue_position": pos}, nil
	}))
	d.register("create_tasks", SidePlanner, typed(func(ctx context.Context, c Capabilities, a createTasksArgs) (any, error) {
		tasks, err := c.Planner.CreateTasks(ctx, c.Agent, a.Tasks)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": tasks}, nil
	}))
	d.register("update_task", SidePlanner, typed(func(ctx context.Context, c Capabilities, a updateTaskArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Planner.UpdateTask(ctx, c.Agent, a.TaskID, a.TaskPatch)
	}))
	d.register("cancel_task", SidePlanner, typed(func(ctx context.Context, c Capabilities, a cancelTaskArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Planner.CancelTask(ctx, c.Agent, a.TaskID, a.Reason)
	}))
	d.register("get_task", SideShared, typed(func(ctx context.Context, c Capabilities, a taskIDArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Shared.GetTask(ctx, a.TaskID)
	}))
	d.register("list_tasks", SideShared, typed(func(ctx context.Context, c Capabilities, a listTasksArgs) (any, error) {
		tasks, err := c.Shared.ListTasks(ctx, a.TaskFilter, a.Page)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": tasks}, nil
	}))
	d.register("get_task_history", SideShared, typed(func(ctx context.Context, c Capabilities, a historyArgs) (any, error) {
		tasks, err := c.Shared.GetTaskHistory(ctx, a.HistoryFilter, a.Page)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": tasks}, nil
	}))
	d.register("queue_position", SideShared, typed(func(ctx context.Context, c Capabilities, a taskIDArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		pos, err := c.Shared.QueuePosition(ctx, a.TaskID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": a.TaskID, "position": pos}, nil
	}))
}

func (d *Dispatcher) registerWorkOps() {
	d.register("pull_next_task", SideExecutor, typed(func(ctx context.Context, c Capabilities, a engine.PullFilter) (any, error) {
		task, ok, err := c.Executor.PullNextTask(ctx, a)
		if err != nil {
			return nil, err
		}
		return map[string]any{"available": ok, "task": task}, nil
	}))
	d.register("claim_task", SideExecutor, typed(func(ctx context.Context, c Capabilities, a taskIDArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Executor.ClaimTask(ctx, c.Agent, a.TaskID)
	}))
	d.register("report_progress", SideExecutor, typed(func(ctx context.Context, c Capabilities, a progressArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Executor.ReportProgress(ctx, c.Agent, a.TaskID, a.ProgressUpdate)
	}))
	d.register("complete_task", SideExecutor, typed(func(ctx context.Context, c Capabilities, a completeArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Executor.CompleteTask(ctx, c.Agent, a.TaskID, a.TaskResult)
	}))
	d.register("fail_task", SideExecutor, typed(func(ctx context.Context, c Capabilities, a failArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		if err := requireField("error", a.Error); err != nil {
			return nil, err
		}
		return c.Executor.FailTask(ctx, c.Agent, a.TaskID, a.Error, a.Blockers)
	}))
	d.register("resume_task", SideExecutor, typed(func(ctx context.Context, c Capabilities, a resumeArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Executor.ResumeTask(ctx, c.Agent, a.TaskID, a.Note)
	}))
}

func (d *Dispatcher) registerClarificationOps() {
	d.register("request_clarification", SideExecutor, typed(func(ctx context.Context, c Capabilities, a clarifyArgs) (any, error) {
		if err := requireField("task_id", a.TaskID); err != nil {
			return nil, err
		}
		return c.Executor.RequestClarification(ctx, c.Agent, a.TaskID, a.Question, a.Options)
	}))
	d.register("respond_to_clarification", SidePlanner, typed(func(ctx context.Context, c Capabilities, a respondArgs) (any, error) {
		if err := requireField("clarification_id", a.ClarificationID); err != nil {
			return nil, err
		}
		return c.Planner.RespondToClarification(ctx, c.Agent, a.ClarificationID, a.Response)
	}))
	d.register("get_pending_clarifications", SideShared, typed(func(ctx context.Context, c Capabilities, a pendingArgs) (any, error) {
		items, err := c.Shared.GetPendingClarifications(ctx, a.TaskID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"clarifications": items}, nil
	}))
}

func (d *Dispatcher) registerContinuityOps() {
	d.register("save_session_context", SideShared, typed(func(ctx context.Context, c Capabilities, a engine.SessionInput) (any, error) {
		return c.Shared.SaveSessionContext(ctx, c.Agent, a)
	}))
	d.register("load_session_context", SideShared, typed(func(ctx context.Context, c Capabilities, a loadSessionArgs) (any, error) {
		return c.Shared.LoadSessionContext(ctx, c.Agent, a.SessionID)
	}))
	d.register("list_session_contexts", SideShared, typed(func(ctx context.Context, c Capabilities, a listSessionsArgs) (any, error) {
		items, err := c.Shared.ListSessionContexts(ctx, a.SessionFilter, a.Page)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sessions": items}, nil
	}))
	d.register("get_project_state", SideShared, typed(func(ctx context.Context, c Capabilities, _ struct{}) (any, error) {
		return c.Shared.GetProjectState(ctx)
	}))
	d.register("update_project_state", SidePlanner, typed(func(ctx context.Context, c Capabilities, a engine.ProjectStatePatch) (any, error) {
		return c.Planner.UpdateProjectState(ctx, c.Agent, a)
	}))
	d.register("add_decision", SideShared, typed(func(ctx context.Context, c Capabilities, a engine.DecisionInput) (any, error) {
		return c.Shared.AddDecision(ctx, c.Agent, a)
	}))
	d.register("log_sync_point", SideShared, typed(func(ctx context.Context, c Capabilities, a syncPointArgs) (any, error) {
		return c.Shared.LogSyncPoint(ctx, c.Agent, a.Note)
	}))
	d.register("get_events", SideShared, typed(func(ctx context.Context, c Capabilities, a eventsArgs) (any, error) {
		events, err := c.Shared.GetEvents(ctx, a.EventFilter, a.Page)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events}, nil
	}))
}
