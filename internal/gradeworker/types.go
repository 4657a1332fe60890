// Package gradeworker implements the Worker (spec.md §4.F): the process
// that actually compiles and evaluates submissions and user tests inside
// a Sandbox, one job at a time.
package gradeworker

import "github.com/cms-dev/cms/internal/domain"

// CompilationResult is the wire shape of a finished Compile/TestCompile
// job, matching internal/evalservice's executeJobResp.compilation field.
type CompilationResult struct {
	Success      bool                   `json:"success"`
	Outcome      domain.CompilationOutcome `json:"outcome"`
	Text         string                 `json:"text,omitempty"`
	SandboxTrace string                 `json:"sandbox_trace,omitempty"`
	Executables  map[string]string      `json:"executables,omitempty"`
	Stdout       string                 `json:"stdout,omitempty"`
}

// EvaluationResult is the wire shape of a finished Evaluate/TestEvaluate
// job, matching internal/evalservice's executeJobResp.evaluation field.
type EvaluationResult struct {
	Success          bool    `json:"success"`
	TestcaseOutcome  string  `json:"testcase_outcome,omitempty"`
	Text             string  `json:"text,omitempty"`
	ExecutionTime    float64 `json:"execution_time,omitempty"`
	WallTime         float64 `json:"wall_time,omitempty"`
	MemoryUsedBytes  int64   `json:"memory_used_bytes,omitempty"`
	SandboxTrace     string  `json:"sandbox_trace,omitempty"`
	OutputDigest     string  `json:"output_digest,omitempty"`
}

// ActionResult is what execute_job replies with, win or lose: either an
// infrastructure failure (the dispatcher requeues), or exactly one of
// Compilation/Evaluation populated.
type ActionResult struct {
	InfrastructureFailure bool               `json:"infrastructure_failure,omitempty"`
	FailureReason         string             `json:"failure_reason,omitempty"`
	Compilation           *CompilationResult `json:"compilation,omitempty"`
	Evaluation            *EvaluationResult  `json:"evaluation,omitempty"`
}

// TaskContext is everything a TaskType needs to compile or evaluate one
// job, assembled by Worker from the repositories before dispatch so
// TaskType implementations never touch the DB themselves.
type TaskContext struct {
	Job         domain.Job
	Task        domain.Task
	Dataset     domain.Dataset
	Files       map[string]string // filename -> digest, submission/user-test files
	Language    string
	Testcase    domain.Testcase   // zero value for Compile jobs
	Executables map[string]string // filename -> digest, populated from the prior compilation for Evaluate jobs
}

// TaskType is the closed tagged variant of grading strategies (spec.md
// §9, Open Question (a)): each task names one by Task.TaskType and its
// behavior is opaquely parameterized by Task.TaskTypeParams.
type TaskType interface {
	Compile(ctx domain.Context, tc TaskContext, cacher domain.Cacher, sandbox domain.Sandbox) (CompilationResult, error)
	Evaluate(ctx domain.Context, tc TaskContext, cacher domain.Cacher, sandbox domain.Sandbox) (EvaluationResult, error)
	GetUserManagers() []string
	Testable() bool
	AllowPartialSubmission() bool
	ReusePreviousSubmission() bool
}
