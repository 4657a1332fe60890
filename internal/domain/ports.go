package domain

import "time"

//go:generate mockery --name=SubmissionResultRepository --with-expecter --filename=submission_result_repository_mock.go
//go:generate mockery --name=UserTestResultRepository --with-expecter --filename=user_test_result_repository_mock.go
//go:generate mockery --name=TaskRepository --with-expecter --filename=task_repository_mock.go
//go:generate mockery --name=ContestRepository --with-expecter --filename=contest_repository_mock.go
//go:generate mockery --name=FileStore --with-expecter --filename=file_store_mock.go
//go:generate mockery --name=Cacher --with-expecter --filename=cacher_mock.go
//go:generate mockery --name=Sandbox --with-expecter --filename=sandbox_mock.go
//go:generate mockery --name=Scorer --with-expecter --filename=scorer_mock.go

// SubmissionReader is read-only: CWS (external, out of scope) is the sole
// writer of Submission rows. The core only ever reads them.
type SubmissionReader interface {
	Get(ctx Context, id string) (Submission, error)
	// ListPendingSince returns contestID's submissions whose
	// SubmissionResult for the task's active dataset is missing
	// compilation or evaluation. Tries are not filtered here; the
	// Evaluation Service's sweep timer, which uses it, checks the budget.
	ListPendingSince(ctx Context, contestID string) ([]Submission, error)
}

// UserTestReader is read-only for the same reason as SubmissionReader.
type UserTestReader interface {
	Get(ctx Context, id string) (UserTest, error)
	ListPendingSince(ctx Context, contestID string) ([]UserTest, error)
}

// TokenReader is read-only; CWS writes Token rows.
type TokenReader interface {
	Get(ctx Context, submissionID string) (Token, error)
}

// ContestRepository is read-only to the core (CWS owns Contest/
// Participation rows): the Scoring Service needs it to resolve a
// submission's username/team for ranking posts and to bootstrap a
// ranking endpoint's contest/users/tasks view at startup.
type ContestRepository interface {
	GetContest(ctx Context, id string) (Contest, error)
	GetParticipation(ctx Context, id string) (Participation, error)
	ListParticipations(ctx Context, contestID string) ([]Participation, error)
}

// TaskRepository is read-only to the core: admin tooling (out of scope)
// owns Task/Dataset rows.
type TaskRepository interface {
	GetTask(ctx Context, id string) (Task, error)
	GetDataset(ctx Context, id string) (Dataset, error)
	ActiveDataset(ctx Context, taskID string) (Dataset, error)
	ContestTasks(ctx Context, contestID string) ([]Task, error)
}

// SubmissionResultRepository is the Evaluation Service's exclusive write
// surface for compilation/evaluation state (spec invariant: ES is the
// sole writer of compilation/evaluation rows).
type SubmissionResultRepository interface {
	Get(ctx Context, submissionID, datasetID string) (SubmissionResult, error)
	// GetOrCreate returns the existing row or creates a zero-value one.
	GetOrCreate(ctx Context, submissionID, datasetID string) (SubmissionResult, error)
	UpdateCompilation(ctx Context, r SubmissionResult) error
	UpdateEvaluation(ctx Context, submissionID, datasetID string, evals []Evaluation) error
	IncrementCompilationTries(ctx Context, submissionID, datasetID string) (int, error)
	IncrementEvaluationTries(ctx Context, submissionID, datasetID string) (int, error)
	GetEvaluations(ctx Context, submissionID, datasetID string) ([]Evaluation, error)
	// UpdateScore is the Scoring Service's exclusive write surface for
	// score/public_score/details (spec invariant: SS is the sole writer
	// of score rows).
	UpdateScore(ctx Context, submissionID, datasetID string, score, publicScore float64, details, publicDetails string) error
	ClearCompilation(ctx Context, submissionID, datasetID string) error
	ClearEvaluation(ctx Context, submissionID, datasetID string) error
	ListByContest(ctx Context, contestID string) ([]SubmissionResult, error)
}

// UserTestResultRepository mirrors SubmissionResultRepository for user tests.
type UserTestResultRepository interface {
	Get(ctx Context, userTestID, datasetID string) (UserTestResult, error)
	GetOrCreate(ctx Context, userTestID, datasetID string) (UserTestResult, error)
	UpdateCompilation(ctx Context, r UserTestResult) error
	UpdateEvaluation(ctx Context, r UserTestResult) error
	IncrementCompilationTries(ctx Context, userTestID, datasetID string) (int, error)
	IncrementEvaluationTries(ctx Context, userTestID, datasetID string) (int, error)
}

// FileStore is the content-addressed blob store port (component B, server side).
type FileStore interface {
	// PutFile streams a whole file in and returns its SHA-1 hex digest.
	PutFile(ctx Context, content []byte, description string) (string, error)
	// GetFile returns a byte range; chunkSize<=0 means to end-of-file.
	GetFile(ctx Context, digest string, start int64, chunkSize int64) ([]byte, error)
	Delete(ctx Context, digest string) (bool, error)
	IsFilePresent(ctx Context, digest string) (bool, error)
	Describe(ctx Context, digest string) (string, error)
}

// Cacher is the File Cacher port (component B, client side): a per-process
// cache in front of a FileStore.
type Cacher interface {
	GetFile(ctx Context, digest string) ([]byte, error)
	GetFileToPath(ctx Context, digest, destPath string) error
	PutFile(ctx Context, content []byte, description string) (string, error)
	Delete(ctx Context, digest string) error
	Describe(ctx Context, digest string) (string, error)
}

// Queue is the Job Queue port (component C). timestamp is the
// submission's original timestamp, kept distinct from enqueue time so
// retries and priority bumps don't starve older work.
type Queue interface {
	Push(job Job, priority Priority, timestamp time.Time) error
	Top() (QueueEntry, bool)
	Pop() (QueueEntry, bool)
	Remove(job Job) bool
	SetPriority(job Job, priority Priority) bool
	Contains(job Job) bool
	Status() []QueueEntry
	Len() int
}

// QueueEntry is a (priority, seq, job) triple; seq breaks ties FIFO.
type QueueEntry struct {
	Priority  Priority
	Seq       uint64
	Job       Job
	Timestamp time.Time // the submission's original timestamp
}

// Scorer computes a score from per-testcase outcomes. A closed tagged
// variant (Sum, GroupMin, GroupMul, Relative) implements this interface;
// the exact formulas are out of this spec's scope (spec.md §1).
type Scorer interface {
	AddSubmission(ctx Context, submissionID string, timestamp int64, username string, outcomes []float64, tokened bool) (ScoreResult, error)
}

// ScoreResult is the output of a Scorer invocation.
type ScoreResult struct {
	Score         float64
	PublicScore   float64
	Details       string
	PublicDetails string
}

// Sandbox is the external collaborator (out of scope per spec.md §1) that
// runs a program under resource limits. Only its boundary contract is
// specified here.
type Sandbox interface {
	Run(ctx Context, cmd []string, limits Limits, stdinPath, stdoutPath string) (SandboxStats, error)
}

// Limits bounds a Sandbox.Run invocation.
type Limits struct {
	Time   time.Duration
	Memory int64
}

// SandboxStats is what a Sandbox.Run invocation reports back.
type SandboxStats struct {
	ExitCode      int
	Signal        int
	TimedOut      bool
	MemoryExceeded bool
	ExecutionTime time.Duration
	WallTime      time.Duration
	MemoryUsedBytes int64
	Trace         string
}
