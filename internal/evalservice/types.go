package evalservice

import "github.com/cms-dev/cms/internal/domain"

// JobPlus is the "plus" tuple a Worker's execute_job reply callback carries
// back to action_finished: (kind, entity_id, side_data, shard) plus enough
// of the Job to recompute its queue/pool identity.
type JobPlus struct {
	Job   domain.Job
	Side  domain.SideData
	Shard domain.ServiceCoord
}

// CompilationResult is the Worker's reply to a compile job.
type CompilationResult struct {
	Success      bool
	Outcome      domain.CompilationOutcome
	Text         string
	SandboxTrace string
	Executables  map[string]string // filename -> digest, already stored via Cacher
	Stdout       string            // captured stdout, for user tests
}

// EvaluationResult is the Worker's reply to an evaluate job.
type EvaluationResult struct {
	Success         bool
	TestcaseOutcome string // decimal outcome ("1.0"/"0.0"); empty on user tests
	Text            string
	ExecutionTime   float64 // seconds
	MemoryUsedBytes int64
	WallTime        float64
	SandboxTrace    string
	OutputDigest    string // captured stdout artifact, for user tests
}

// ActionResult is the polymorphic payload a Worker's execute_job reply
// carries, tagged by the originating Job's Kind.
type ActionResult struct {
	InfrastructureFailure bool // true on sandbox crash / missing file / etc.
	FailureReason         string
	Compilation           *CompilationResult
	Evaluation            *EvaluationResult
}

// WorkerClient dispatches jobs to Worker shards and is notified of their
// connection liveness. Implemented by internal/evalservice/worker.go against
// internal/rpc, and fakeable in tests.
type WorkerClient interface {
	// ExecuteJob dispatches job to coord and invokes done with the
	// Worker's reply once it arrives (or with an error on transport
	// failure / timeout). done is invoked on its own goroutine, not on
	// the Service's own dispatch loop.
	ExecuteJob(coord domain.ServiceCoord, job domain.Job, side domain.SideData, done func(ActionResult, error))
	// SendQuit asks coord's Worker to abandon its current job; used by
	// the Timeouts remedy (spec.md §5, "Cancellation and timeout").
	SendQuit(coord domain.ServiceCoord, reason string)
}
