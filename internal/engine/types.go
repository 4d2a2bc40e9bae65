package engine

import "time"

// Role identifies the caller of an operation.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleExecutor Role = "executor"
	RoleHuman    Role = "human"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityRanks = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// Rank orders priorities for scheduling; lower runs first.
func (p Priority) Rank() (int, bool) {
	r, ok := priorityRanks[p]
	return r, ok
}

type Category string

const (
	CategoryFeature  Category = "feature"
	CategoryBugfix   Category = "bugfix"
	CategoryRefactor Category = "refactor"
	CategoryResearch Category = "research"
	CategoryTest     Category = "test"
	CategoryDocs     Category = "docs"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryFeature, CategoryBugfix, CategoryRefactor, CategoryResearch, CategoryTest, CategoryDocs:
		return true
	}
	return false
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further operation may change a task in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var terminalStatuses = []string{string(StatusCompleted), string(StatusFailed), string(StatusCancelled)}

type Task struct {
	ID                 string      `json:"id"`
	Sequence           int64       `json:"sequence"`
	Priority           Priority    `json:"priority"`
	Category           Category    `json:"category"`
	Status             Status      `json:"status"`
	Title              string      `json:"title"`
	Instructions       string      `json:"instructions"`
	AcceptanceCriteria []string    `json:"acceptance_criteria"`
	ContextFiles       []string    `json:"context_files"`
	ContextSummary     string      `json:"context_summary,omitempty"`
	RelatedTasks       []string    `json:"related_tasks"`
	DependsOn          []string    `json:"depends_on"`
	CreatedBy          Role        `json:"created_by"`
	AssignedTo         Role        `json:"assigned_to,omitempty"`
	Result             *TaskResult `json:"result,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	ClaimedAt          *time.Time  `json:"claimed_at,omitempty"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
}

// TaskResult is written once, when a task completes or fails.
type TaskResult struct {
	Success       bool           `json:"success"`
	Summary       string         `json:"summary"`
	FilesModified []string       `json:"files_modified"`
	FilesCreated  []string       `json:"files_created"`
	FilesDeleted  []string       `json:"files_deleted"`
	Commits       []string       `json:"commits,omitempty"`
	Blockers      []string       `json:"blockers,omitempty"`
	FollowUps     []FollowUpTask `json:"follow_ups,omitempty"`
}

// FollowUpTask is a suggestion recorded on a result; it is never created automatically.
type FollowUpTask struct {
	Title        string   `json:"title"`
	Instructions string   `json:"instructions,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	Category     Category `json:"category,omitempty"`
}

// NewTask carries the caller-supplied fields of a task to create.
type NewTask struct {
	Title              string   `json:"title" yaml:"title"`
	Instructions       string   `json:"instructions" yaml:"instructions"`
	Priority           Priority `json:"priority,omitempty" yaml:"priority"`
	Category           Category `json:"category,omitempty" yaml:"category"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria"`
	ContextFiles       []string `json:"context_files,omitempty" yaml:"context_files"`
	ContextSummary     string   `json:"context_summary,omitempty" yaml:"context_summary"`
	RelatedTasks       []string `json:"related_tasks,omitempty" yaml:"related_tasks"`
	DependsOn          []string `json:"depends_on,omitempty" yaml:"depends_on"`
	AssignTo           Role     `json:"assign_to,omitempty" yaml:"assign_to"`
}

// TaskPatch lists the fields updateTask may change. Nil means unchanged.
type TaskPatch struct {
	Title              *string   `json:"title,omitempty"`
	Instructions       *string   `json:"instructions,omitempty"`
	AcceptanceCriteria *[]string `json:"acceptance_criteria,omitempty"`
	Priority           *Priority `json:"priority,omitempty"`
	ContextFiles       *[]string `json:"context_files,omitempty"`
	ContextSummary     *string   `json:"context_summary,omitempty"`
	AssignedTo         *Role     `json:"assigned_to,omitempty"`
}

type TaskFilter struct {
	Status     Status   `json:"status,omitempty"`
	AssignedTo Role     `json:"assigned_to,omitempty"`
	Category   Category `json:"category,omitempty"`
}

type HistoryFilter struct {
	Since    *time.Time `json:"since,omitempty"`
	Category Category   `json:"category,omitempty"`
}

// PullFilter narrows the queue pullNextTask scans. An assignee also matches unassigned tasks.
type PullFilter struct {
	Categories []Category `json:"categories,omitempty"`
	Assignee   Role       `json:"assignee,omitempty"`
}

type ProgressUpdate struct {
	Status        Status   `json:"status"`
	Message       string   `json:"message"`
	FilesModified []string `json:"files_modified,omitempty"`
}

type Clarification struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Question    string     `json:"question"`
	Options     []string   `json:"options,omitempty"`
	Response    *string    `json:"response"`
	AskedBy     Role       `json:"asked_by,omitempty"`
	RespondedBy Role       `json:"responded_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func (c Clarification) Pending() bool { return c.Response == nil }

type SessionContext struct {
	ID               string     `json:"id"`
	Agent            Role       `json:"agent"`
	ProjectID        string     `json:"project_id"`
	CurrentTaskID    string     `json:"current_task_id,omitempty"`
	CurrentTaskTitle string     `json:"current_task_title,omitempty"`
	WorkingOn        string     `json:"working_on,omitempty"`
	Progress         string     `json:"progress,omitempty"`
	NextSteps        string     `json:"next_steps,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	OpenQuestions    []string   `json:"open_questions"`
	FilesInFocus     []string   `json:"files_in_focus"`
	CreatedAt        time.Time  `json:"created_at"`
	ResumedAt        *time.Time `json:"resumed_at,omitempty"`
}

type SessionInput struct {
	CurrentTaskID string   `json:"current_task_id,omitempty"`
	WorkingOn     string   `json:"working_on,omitempty"`
	Progress      string   `json:"progress,omitempty"`
	NextSteps     string   `json:"next_steps,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`
	FilesInFocus  []string `json:"files_in_focus,omitempty"`
}

type SessionFilter struct {
	Agent          Role `json:"agent,omitempty"`
	IncludeResumed bool `json:"include_resumed,omitempty"`
}

// MaxDecisions bounds ProjectState.RecentDecisions; older entries are evicted first.
const MaxDecisions = 50

type ProjectState struct {
	ProjectID       string     `json:"project_id"`
	CurrentFocus    *string    `json:"current_focus"`
	RecentDecisions []Decision `json:"recent_decisions"`
	KnownIssues     []string   `json:"known_issues"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
}

type Decision struct {
	ID            string    `json:"id"`
	Summary       string    `json:"summary"`
	Rationale     string    `json:"rationale"`
	Author        Role      `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
	AffectedFiles []string  `json:"affected_files"`
}

type DecisionInput struct {
	Summary       string   `json:"summary"`
	Rationale     string   `json:"rationale"`
	Author        Role     `json:"author,omitempty"`
	AffectedFiles []string `json:"affected_files,omitempty"`
}

// ProjectStatePatch merges into the singleton. KnownIssues replaces the list wholesale;
// an empty CurrentFocus clears it.
type ProjectStatePatch struct {
	CurrentFocus *string   `json:"current_focus,omitempty"`
	KnownIssues  *[]string `json:"known_issues,omitempty"`
}

type Event struct {
	ID        int64          `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Agent     Role           `json:"agent"`
	Type      string         `json:"event_type"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type EventFilter struct {
	Since  *time.Time `json:"since,omitempty"`
	TaskID string     `json:"task_id,omitempty"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (p Page) normalize(defaultSize int) Page {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if p.Limit <= 0 {
		p.Limit = defaultSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
