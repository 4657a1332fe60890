package gradeworker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cms-dev/cms/internal/domain"
)

// Worker is the Worker (spec.md §4.F): it runs at most one job at a
// time, cooperatively cancellable via IgnoreJob, and precaches a
// contest's files on request.
type Worker struct {
	coord domain.ServiceCoord

	cacher  domain.Cacher
	sandbox domain.Sandbox

	submissions  domain.SubmissionReader
	userTests    domain.UserTestReader
	tasks        domain.TaskRepository
	subResults   domain.SubmissionResultRepository
	testResults  domain.UserTestResultRepository

	onQuit func(reason string)
	log    *slog.Logger

	mu     sync.Mutex
	busy   bool
	cancel context.CancelFunc
}

// Config bundles Worker's dependencies.
type Config struct {
	Coord       domain.ServiceCoord
	Cacher      domain.Cacher
	Sandbox     domain.Sandbox
	Submissions domain.SubmissionReader
	UserTests   domain.UserTestReader
	Tasks       domain.TaskRepository
	SubResults  domain.SubmissionResultRepository
	TestResults domain.UserTestResultRepository
	OnQuit      func(reason string)
	Log         *slog.Logger
}

// New builds a Worker from cfg.
func New(cfg Config) *Worker {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("service", cfg.Coord.Name, "shard", cfg.Coord.Shard)
	return &Worker{
		coord:       cfg.Coord,
		cacher:      cfg.Cacher,
		sandbox:     cfg.Sandbox,
		submissions: cfg.Submissions,
		userTests:   cfg.UserTests,
		tasks:       cfg.Tasks,
		subResults:  cfg.SubResults,
		testResults: cfg.TestResults,
		onQuit:      cfg.OnQuit,
		log:         log,
	}
}

// ExecuteJob runs one job (spec.md §4.F: "at most one heavy operation
// at a time; additional requests are rejected with a busy indication").
// A busy/ignored/lookup failure is reported as an InfrastructureFailure
// in the reply, not a Go error, so the dispatcher's retry path applies
// uniformly; a Go error return means the RPC itself failed.
func (w *Worker) ExecuteJob(ctx context.Context, job domain.Job) (ActionResult, error) {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return ActionResult{InfrastructureFailure: true, FailureReason: "worker busy"}, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.busy = true
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.busy = false
		w.cancel = nil
		w.mu.Unlock()
		cancel()
	}()

	tc, err := w.loadContext(runCtx, job)
	if err != nil {
		return ActionResult{InfrastructureFailure: true, FailureReason: err.Error()}, nil
	}

	taskType, err := NewTaskType(tc.Task.TaskType, tc.Task.TaskTypeParams)
	if err != nil {
		return ActionResult{InfrastructureFailure: true, FailureReason: err.Error()}, nil
	}

	switch job.Kind {
	case domain.JobCompile, domain.JobTestCompile:
		res, err := taskType.Compile(runCtx, tc, w.cacher, w.sandbox)
		if err != nil {
			return ActionResult{InfrastructureFailure: true, FailureReason: err.Error()}, nil
		}
		return ActionResult{Compilation: &res}, nil
	case domain.JobEvaluate, domain.JobTestEvaluate:
		res, err := taskType.Evaluate(runCtx, tc, w.cacher, w.sandbox)
		if err != nil {
			return ActionResult{InfrastructureFailure: true, FailureReason: err.Error()}, nil
		}
		return ActionResult{Evaluation: &res}, nil
	default:
		return ActionResult{InfrastructureFailure: true, FailureReason: fmt.Sprintf("unknown job kind %q", job.Kind)}, nil
	}
}

// loadContext assembles TaskContext by reading the relevant Submission
// or UserTest, its Task/Dataset, and (for Evaluate jobs) the executables
// from its prior compilation.
func (w *Worker) loadContext(ctx context.Context, job domain.Job) (TaskContext, error) {
	dataset, err := w.tasks.GetDataset(ctx, job.DatasetID)
	if err != nil {
		return TaskContext{}, fmt.Errorf("gradeworker: load dataset %s: %w", job.DatasetID, err)
	}

	switch job.Kind {
	case domain.JobCompile, domain.JobEvaluate:
		sub, err := w.submissions.Get(ctx, job.EntityID)
		if err != nil {
			return TaskContext{}, fmt.Errorf("gradeworker: load submission %s: %w", job.EntityID, err)
		}
		task, err := w.tasks.GetTask(ctx, sub.TaskID)
		if err != nil {
			return TaskContext{}, fmt.Errorf("gradeworker: load task %s: %w", sub.TaskID, err)
		}
		tc := TaskContext{Job: job, Task: task, Dataset: dataset, Files: sub.Files, Language: sub.Language}
		if job.Kind == domain.JobEvaluate {
			tc.Testcase = findTestcase(dataset.Testcases, job.TestcaseCodename)
			result, err := w.subResults.Get(ctx, job.EntityID, job.DatasetID)
			if err != nil {
				return TaskContext{}, fmt.Errorf("gradeworker: load compilation result %s/%s: %w", job.EntityID, job.DatasetID, err)
			}
			tc.Executables = result.CompilationExecutables
		}
		return tc, nil

	case domain.JobTestCompile, domain.JobTestEvaluate:
		ut, err := w.userTests.Get(ctx, job.EntityID)
		if err != nil {
			return TaskContext{}, fmt.Errorf("gradeworker: load user test %s: %w", job.EntityID, err)
		}
		task, err := w.tasks.GetTask(ctx, ut.TaskID)
		if err != nil {
			return TaskContext{}, fmt.Errorf("gradeworker: load task %s: %w", ut.TaskID, err)
		}
		tc := TaskContext{Job: job, Task: task, Dataset: dataset, Files: ut.Files, Language: ut.Language}
		if job.Kind == domain.JobTestEvaluate {
			// User tests carry their own input and have no expected
			// output to grade against; OutputDigest stays empty.
			tc.Testcase = domain.Testcase{InputDigest: ut.InputDigest}
			result, err := w.testResults.Get(ctx, job.EntityID, job.DatasetID)
			if err != nil {
				return TaskContext{}, fmt.Errorf("gradeworker: load user test compilation result %s/%s: %w", job.EntityID, job.DatasetID, err)
			}
			tc.Executables = result.CompilationExecutables
		}
		return tc, nil

	default:
		return TaskContext{}, fmt.Errorf("gradeworker: unknown job kind %q", job.Kind)
	}
}

func findTestcase(testcases []domain.Testcase, codename string) domain.Testcase {
	for _, tc := range testcases {
		if tc.Codename == codename {
			return tc
		}
	}
	return domain.Testcase{}
}

// IgnoreJob cooperatively cancels the job currently in flight, if any
// (spec.md §4.F/§5: the dispatcher tells a Worker to give up a job it no
// longer needs an answer for, e.g. after invalidate_submission).
func (w *Worker) IgnoreJob() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Quit runs the OnQuit hook, if set, letting cmd/gradeworker decide how
// to shut down (spec.md §6: Worker exposes quit(reason)).
func (w *Worker) Quit(reason string) {
	w.log.Info("quit requested", "reason", reason)
	if w.onQuit != nil {
		w.onQuit(reason)
	}
}
