package dispatch

import (
	"context"
	"fmt"
	"strings"

	"duet/internal/engine"
)

// Shared is the read and continuity surface both agents may use.
type Shared interface {
	GetTask(ctx context.Context, id string) (*engine.Task, error)
	ListTasks(ctx context.Context, f engine.TaskFilter, page engine.Page) ([]engine.Task, error)
	GetTaskHistory(ctx context.Context, f engine.HistoryFilter, page engine.Page) ([]engine.Task, error)
	QueuePosition(ctx context.Context, id string) (int, error)
	GetPendingClarifications(ctx context.Context, taskID string) ([]engine.Clarification, error)
	SaveSessionContext(ctx context.Context, agent engine.Role, in engine.SessionInput) (*engine.SessionContext, error)
	LoadSessionContext(ctx context.Context, agent engine.Role, id string) (*engine.SessionContext, error)
	ListSessionContexts(ctx context.Context, f engine.SessionFilter, page engine.Page) ([]engine.SessionContext, error)
	GetProjectState(ctx context.Context) (*engine.ProjectState, error)
	AddDecision(ctx context.Context, agent engine.Role, in engine.DecisionInput) (*engine.Decision, error)
	LogSyncPoint(ctx context.Context, agent engine.Role, note string) (*engine.Event, error)
	GetEvents(ctx context.Context, f engine.EventFilter, page engine.Page) ([]engine.Event, error)
}

// PlannerOps creates and steers work. It shares no method with ExecutorOps.
type PlannerOps interface {
	CreateTask(ctx context.Context, agent engine.Role, in engine.NewTask) (*engine.Task, error)
	CreateTaskWithPosition(ctx context.Context, agent engine.Role, in engine.NewTask) (*engine.Task, int, error)
	CreateTasks(ctx context.Context, agent engine.Role, batch []engine.NewTask) ([]engine.Task, error)
	UpdateTask(ctx context.Context, agent engine.Role, id string, patch engine.TaskPatch) (*engine.Task, error)
	CancelTask(ctx context.Context, agent engine.Role, id, reason string) (*engine.Task, error)
	RespondToClarification(ctx context.Context, agent engine.Role, id, response string) (*engine.Clarification, error)
	UpdateProjectState(ctx context.Context, agent engine.Role, patch engine.ProjectStatePatch) (*engine.ProjectState, error)
}

// ExecutorOps picks up and performs work.
type ExecutorOps interface {
	PullNextTask(ctx context.Context, f engine.PullFilter) (*engine.Task, bool, error)
	ClaimTask(ctx context.Context, agent engine.Role, id string) (*engine.Task, error)
	ReportProgress(ctx context.Context, agent engine.Role, id string, in engine.ProgressUpdate) (*engine.Task, error)
	CompleteTask(ctx context.Context, agent engine.Role, id string, result engine.TaskResult) (*engine.Task, error)
	FailTask(ctx context.Context, agent engine.Role, id, errText string, blockers []string) (*engine.Task, error)
	ResumeTask(ctx context.Context, agent engine.Role, id, note string) (*engine.Task, error)
	RequestClarification(ctx context.Context, agent engine.Role, taskID, question string, options []string) (*engine.Clarification, error)
}

type Planner interface {
	Shared
	PlannerOps
}

type Executor interface {
	Shared
	ExecutorOps
}

// Engine is the full operation set; *engine.Engine implements it.
type Engine interface {
	Shared
	PlannerOps
	ExecutorOps
}

// Capabilities is what one caller may reach. Exactly one of Planner and
// Executor is set.
type Capabilities struct {
	Agent    engine.Role
	Shared   Shared
	Planner  Planner
	Executor Executor
}

// Select narrows eng to the capability set of role. The human operator acts
// with the planner's set.
func Select(eng Engine, role engine.Role) (Capabilities, error) {
	caps := Capabilities{Agent: role, Shared: eng}
	switch role {
	case engine.RolePlanner, engine.RoleHuman:
		caps.Planner = eng
	case engine.RoleExecutor:
		caps.Executor = eng
	default:
		return Capabilities{}, &Error{Code: CodeForbidden, Message: fmt.Sprintf("unknown agent role %q", role)}
	}
	return caps, nil
}

// ParseRole accepts the role names case-insensitively.
func ParseRole(raw string) (engine.Role, error) {
	role := engine.Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case engine.RolePlanner, engine.RoleExecutor, engine.RoleHuman:
		return role, nil
	}
	return "", &Error{Code: CodeBadArgs, Message: fmt.Sprintf("unknown agent role %q", raw)}
}
