// Package domain defines core entities, ports, and domain-specific errors
// for the contest grading backend.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). Adapters wrap these with fmt.Errorf("op=...: %w", Err...)
// so callers can errors.Is against a stable, small vocabulary.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBusy            = errors.New("worker busy")
	ErrTransport       = errors.New("transport failure")
	ErrProtocol        = errors.New("protocol error")
	ErrTriesExceeded   = errors.New("tries exceeded")
	ErrInternal        = errors.New("internal error")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// ServiceCoord is the process-wide identity of an RPC endpoint: a named,
// sharded service. Immutable once constructed.
type ServiceCoord struct {
	Name  string
	Shard int
}

// Address is a resolved host/port pair for a ServiceCoord.
type Address struct {
	Host string
	Port int
}

// Priority is a fixed 5-level job priority. Lower value is more urgent.
type Priority int

// Priority levels, matching the source's JOB_PRIORITY_* constants exactly.
const (
	PriorityExtraHigh Priority = 0
	PriorityHigh       Priority = 1
	PriorityMedium     Priority = 2
	PriorityLow        Priority = 3
	PriorityExtraLow   Priority = 4
)

// JobKind enumerates the four unit-of-work shapes a Worker can execute.
type JobKind string

// Job kinds.
const (
	JobCompile       JobKind = "compile"
	JobEvaluate      JobKind = "evaluate"
	JobTestCompile   JobKind = "test_compile"
	JobTestEvaluate  JobKind = "test_evaluate"
)

// Job is the in-memory identity of a unit of worker work. Two Jobs are
// equal when all fields match; TestcaseCodename is present only for
// JobEvaluate/JobTestEvaluate.
type Job struct {
	Kind             JobKind
	EntityID         string
	DatasetID        string
	TestcaseCodename string
}

// SideData carries the metadata the worker pool needs to remember about
// an assigned job without consulting the DB again: its queue priority and
// the submission's original timestamp (used to keep retries from jumping
// the FIFO queue, per spec invariant).
type SideData struct {
	Priority  Priority
	Timestamp time.Time
}

// Contest groups tasks and participants inside a time window. Read-only
// to the core except for the per-contest ranking view SS maintains.
type Contest struct {
	ID               string
	Name             string
	Start            time.Time
	Stop             time.Time
	PerUserTime      time.Duration
	TokenInitial     int
	TokenMax         int
	TokenTotal       int
	TokenMinInterval time.Duration
	TokenGenInterval time.Duration
}

// Participation associates a contestant with a Contest.
type Participation struct {
	ID            string
	ContestID     string
	UserID        string
	Username      string
	TimeDeltas    []time.Duration
	Unrestricted  bool
}

// Task owns a set of Datasets with exactly one ActiveDatasetID.
type Task struct {
	ID               string
	ContestID        string
	Name             string
	Title            string
	SubmissionFormat []string // filename patterns, may contain "%l" language placeholder
	TaskType         string   // names a TaskType implementation, e.g. "Batch", "Communication"
	TaskTypeParams   string   // opaque JSON blob interpreted by the named TaskType
	ScoreType        string   // names a Scorer implementation, e.g. "Sum", "GroupMin"
	ScoreParameters  string   // opaque JSON blob interpreted by the named Scorer
	ActiveDatasetID  string
}

// Testcase is an (input, output, public) triple within a Dataset.
type Testcase struct {
	Codename    string
	InputDigest string
	OutputDigest string
	Public      bool
}

// Manager is an auxiliary binary shipped with a Dataset (checker, grader, stub).
type Manager struct {
	Filename string
	Digest   string
}

// Dataset is the immutable configuration of how to grade a Task.
type Dataset struct {
	ID               string
	TaskID           string
	Description      string
	TimeLimit        time.Duration
	MemoryLimitBytes int64
	Managers         []Manager
	Testcases        []Testcase
	Autojudge        bool
}

// Submission is immutable after creation.
type Submission struct {
	ID            string
	TaskID        string
	ParticipationID string
	Timestamp     time.Time
	Language      string
	Files         map[string]string // filename -> digest
	Official      bool
	Comment       string
}

// CompilationOutcome is the three-valued result of a compile attempt.
type CompilationOutcome string

// Compilation outcomes. CompilationUnknown means "not yet attempted / pending".
const (
	CompilationUnknown CompilationOutcome = ""
	CompilationOK      CompilationOutcome = "ok"
	CompilationFail    CompilationOutcome = "fail"
)

// EvaluationOutcome is the two-valued result of a full evaluation pass.
type EvaluationOutcome string

// Evaluation outcomes.
const (
	EvaluationUnknown EvaluationOutcome = ""
	EvaluationOK      EvaluationOutcome = "ok"
)

// SubmissionResult is one per (Submission, Dataset).
type SubmissionResult struct {
	SubmissionID string
	DatasetID    string

	CompilationOutcome   CompilationOutcome
	CompilationTries     int
	CompilationText      string
	CompilationExecutables map[string]string // filename -> digest
	CompilationSandboxTrace string

	EvaluationOutcome EvaluationOutcome
	EvaluationTries   int

	Scored       bool
	Score        float64
	PublicScore  float64
	ScoreDetails string
	PublicScoreDetails string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Evaluation is one per (SubmissionResult, Testcase).
type Evaluation struct {
	SubmissionID     string
	DatasetID        string
	TestcaseCodename string
	Outcome          string // decimal outcome, e.g. "1.0" or "0.0"; empty means pending
	Text             string
	ExecutionTime    time.Duration
	MemoryUsedBytes  int64
	WallTime         time.Duration
	SandboxTrace     string
}

// UserTest is a contestant-submitted program+input pair, analogous to
// Submission but single-run and never scored against rankings.
type UserTest struct {
	ID              string
	TaskID          string
	ParticipationID string
	Timestamp       time.Time
	Language        string
	Files           map[string]string
	InputDigest     string
	Managers        map[string]string // optional user-supplied managers
}

// UserTestResult is one per (UserTest, Dataset).
type UserTestResult struct {
	UserTestID string
	DatasetID  string

	CompilationOutcome     CompilationOutcome
	CompilationTries       int
	CompilationText        string
	CompilationExecutables map[string]string

	EvaluationOutcome EvaluationOutcome
	EvaluationTries   int
	Text              string
	ExecutionTime     time.Duration
	MemoryUsedBytes   int64
	OutputDigest      string // stdout captured as an output artifact

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Token associates a Submission with a timestamp meaning "promote
// visibility/score"; it affects job priority and ranking payloads.
type Token struct {
	SubmissionID string
	Timestamp    time.Time
}

// InvalidationLevel selects how much of a SubmissionResult to wipe.
type InvalidationLevel string

// Invalidation levels.
const (
	InvalidateCompilation InvalidationLevel = "compilation"
	InvalidateEvaluation  InvalidationLevel = "evaluation"
)

// InvalidationSelectors picks the affected set for invalidate_submission.
// At most one of SubmissionID/ParticipationID/TaskID/DatasetID should be
// set; none means "all in ContestID".
type InvalidationSelectors struct {
	ContestID       string
	SubmissionID    string
	ParticipationID string
	TaskID          string
	DatasetID       string
	Level           InvalidationLevel
}
