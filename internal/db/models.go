package db

type Task struct {
	TaskID           string `gorm:"column:task_id;primaryKey"`
	Sequence         int64  `gorm:"column:sequence;not null;uniqueIndex"`
	Priority         string `gorm:"column:priority;not null;default:'normal'"`
	PriorityRank     int    `gorm:"column:priority_rank;not null;default:0"`
	Category         string `gorm:"column:category;not null;default:'feature'"`
	Status           string `gorm:"column:status;not null;default:'queued'"`
	Title            string `gorm:"column:title;not null;default:''"`
	Instructions     string `gorm:"column:instructions;not null;default:''"`
	AcceptanceJSON   string `gorm:"column:acceptance_json;not null;default:'[]'"`
	ContextFilesJSON string `gorm:"column:context_files_json;not null;default:'[]'"`
	ContextSummary   string `gorm:"column:context_summary;not null;default:''"`
	RelatedTasksJSON string `gorm:"column:related_tasks_json;not null;default:'[]'"`
	DependsOnJSON    string `gorm:"column:depends_on_json;not null;default:'[]'"`
	CreatedBy        string `gorm:"column:created_by;not null;default:''"`
	AssignedTo       string `gorm:"column:assigned_to;not null;default:''"`
	ResultJSON       string `gorm:"column:result_json;not null;default:''"`
	CreatedAt        int64  `gorm:"column:created_at;not null;default:0"`
	ClaimedAt        int64  `gorm:"column:claimed_at;not null;default:0"`
	StartedAt        int64  `gorm:"column:started_at;not null;default:0"`
	CompletedAt      int64  `gorm:"column:completed_at;not null;default:0"`
	LastModified     int64  `gorm:"column:last_modified;not null;default:0"`
}

func (Task) TableName() string { return "tasks" }

type Clarification struct {
	ClarificationID string  `gorm:"column:clarification_id;primaryKey"`
	TaskID          string  `gorm:"column:task_id;not null;index"`
	Question        string  `gorm:"column:question;not null;default:''"`
	OptionsJSON     string  `gorm:"column:options_json;not null;default:'[]'"`
	Response        *string `gorm:"column:response"`
	AskedBy         string  `gorm:"column:asked_by;not null;default:''"`
	RespondedBy     string  `gorm:"column:responded_by;not null;default:''"`
	CreatedAt       int64   `gorm:"column:created_at;not null;default:0"`
	RespondedAt     int64   `gorm:"column:responded_at;not null;default:0"`
}

func (Clarification) TableName() string { return "clarifications" }

type SessionContext struct {
	SessionID         string `gorm:"column:session_id;primaryKey"`
	Agent             string `gorm:"column:agent;not null"`
	ProjectID         string `gorm:"column:project_id;not null;default:''"`
	CurrentTaskID     string `gorm:"column:current_task_id;not null;default:''"`
	CurrentTaskTitle  string `gorm:"column:current_task_title;not null;default:''"`
	WorkingOn         string `gorm:"column:working_on;not null;default:''"`
	Progress          string `gorm:"column:progress;not null;default:''"`
	NextSteps         string `gorm:"column:next_steps;not null;default:''"`
	Notes             string `gorm:"column:notes;not null;default:''"`
	OpenQuestionsJSON string `gorm:"column:open_questions_json;not null;default:'[]'"`
	FilesInFocusJSON  string `gorm:"column:files_in_focus_json;not null;default:'[]'"`
	CreatedAt         int64  `gorm:"column:created_at;not null;default:0"`
	ResumedAt         int64  `gorm:"column:resumed_at;not null;default:0"`
}

func (SessionContext) TableName() string { return "session_contexts" }

type ProjectState struct {
	ProjectID       string  `gorm:"column:project_id;primaryKey"`
	CurrentFocus    *string `gorm:"column:current_focus"`
	DecisionsJSON   string  `gorm:"column:decisions_json;not null;default:'[]'"`
	KnownIssuesJSON string  `gorm:"column:known_issues_json;not null;default:'[]'"`
	LastSyncAt      int64   `gorm:"column:last_sync_at;not null;default:0"`
	UpdatedAt       int64   `gorm:"column:updated_at;not null;default:0"`
}

func (ProjectState) TableName() string { return "project_states" }

type EventLog struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Agent       string `gorm:"column:agent;not null;default:''"`
	EventType   string `gorm:"column:event_type;not null"`
	TaskID      string `gorm:"column:task_id;not null;default:''"`
	PayloadJSON string `gorm:"column:payload_json;not null;default:'{}'"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
}

func (EventLog) TableName() string { return "event_log" }

type Counter struct {
	Name      string `gorm:"column:name;primaryKey"`
	Value     int64  `gorm:"column:value;not null;default:0"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Counter) TableName() string { return "counters" }
