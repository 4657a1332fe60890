package evalservice

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/gradepool"
	"github.com/cms-dev/cms/internal/gradequeue"
)

// Config bounds the try budgets the Transitions policy enforces; it is
// loaded from internal/config at startup (MAX_COMPILATION_TRIES /
// MAX_EVALUATION_TRIES in the source).
type Config struct {
	MaxCompilationTries int
	MaxEvaluationTries  int
}

// DefaultConfig matches the source's defaults.
func DefaultConfig() Config {
	return Config{MaxCompilationTries: 3, MaxEvaluationTries: 3}
}

// Service is the Evaluation Service's core: owns the Job Queue and Worker
// Pool, and implements every transition in spec.md §4.E against the
// read-only repositories and its exclusive SubmissionResult/UserTestResult
// write surface. It has no network code of its own; internal/evalservice's
// rpc.go wires its methods onto an *rpc.Registry and worker.go supplies its
// WorkerClient.
type Service struct {
	Queue *gradequeue.Queue
	Pool  *gradepool.Pool

	Submissions     domain.SubmissionReader
	UserTests       domain.UserTestReader
	Tokens          domain.TokenReader
	Tasks           domain.TaskRepository
	SubmissionRes   domain.SubmissionResultRepository
	UserTestRes     domain.UserTestResultRepository
	Worker          WorkerClient
	ScoringNotifier ScoringNotifier

	Config Config
	Log    *slog.Logger
}

// ScoringNotifier tells the Scoring Service a submission has new
// evaluations, or has become tokened; implemented over internal/rpc by
// RemoteScoringNotifier (scoring_notifier.go), fakeable in tests.
type ScoringNotifier interface {
	NewEvaluation(submissionID string)
	SubmissionTokened(submissionID string, timestamp time.Time)
}

// New returns a Service wired to the given queue, pool, repositories and
// collaborators. cfg.MaxCompilationTries/MaxEvaluationTries<=0 fall back to
// DefaultConfig's values.
func New(queue *gradequeue.Queue, pool *gradepool.Pool, cfg Config, log *slog.Logger) *Service {
	if cfg.MaxCompilationTries <= 0 {
		cfg.MaxCompilationTries = DefaultConfig().MaxCompilationTries
	}
	if cfg.MaxEvaluationTries <= 0 {
		cfg.MaxEvaluationTries = DefaultConfig().MaxEvaluationTries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{Queue: queue, Pool: pool, Config: cfg, Log: log}
}

// NewSubmission enqueues the Compile job for a freshly created submission
// (spec.md §4.E: "New submission -> (Compile, sid, active_dataset) at High").
func (s *Service) NewSubmission(ctx domain.Context, submissionID string) error {
	sub, err := s.Submissions.Get(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("op=evalservice.new_submission: %w", err)
	}
	dataset, err := s.Tasks.ActiveDataset(ctx, sub.TaskID)
	if err != nil {
		return fmt.Errorf("op=evalservice.new_submission: %w", err)
	}
	job := domain.Job{Kind: domain.JobCompile, EntityID: submissionID, DatasetID: dataset.ID}
	priority := compilePriority(true)
	if err := s.Queue.Push(job, priority, sub.Timestamp); err != nil {
		return fmt.Errorf("op=evalservice.new_submission: %w", err)
	}
	return nil
}

// NewUserTest mirrors NewSubmission for user tests (JobTestCompile).
func (s *Service) NewUserTest(ctx domain.Context, userTestID string) error {
	ut, err := s.UserTests.Get(ctx, userTestID)
	if err != nil {
		return fmt.Errorf("op=evalservice.new_user_test: %w", err)
	}
	dataset, err := s.Tasks.ActiveDataset(ctx, ut.TaskID)
	if err != nil {
		return fmt.Errorf("op=evalservice.new_user_test: %w", err)
	}
	job := domain.Job{Kind: domain.JobTestCompile, EntityID: userTestID, DatasetID: dataset.ID}
	if err := s.Queue.Push(job, compilePriority(true), ut.Timestamp); err != nil {
		return fmt.Errorf("op=evalservice.new_user_test: %w", err)
	}
	return nil
}

// SubmissionTokened promotes any already-enqueued (Evaluate, sid, ...) jobs
// to Medium priority (spec.md §4.E) and notifies the Scoring Service with
// the token row's timestamp (the current time when the row cannot be read).
func (s *Service) SubmissionTokened(ctx domain.Context, submissionID string) error {
	for _, e := range s.Queue.Status() {
		if e.Job.Kind == domain.JobEvaluate && e.Job.EntityID == submissionID {
			s.Queue.SetPriority(e.Job, domain.PriorityMedium)
		}
	}
	if s.ScoringNotifier != nil {
		ts := time.Now()
		if s.Tokens != nil {
			if tok, err := s.Tokens.Get(ctx, submissionID); err == nil {
				ts = tok.Timestamp
			}
		}
		s.ScoringNotifier.SubmissionTokened(submissionID, ts)
	}
	return nil
}

// InvalidateSubmission implements the invalidate_submission RPC
// (spec.md §4.E): for each affected SubmissionResult it removes matching
// queued jobs, flags matching in-flight worker assignments as Ignore,
// clears the relevant fields, and re-enqueues as if new.
func (s *Service) InvalidateSubmission(ctx domain.Context, sel domain.InvalidationSelectors) error {
	results, err := s.affectedResults(ctx, sel)
	if err != nil {
		return fmt.Errorf("op=evalservice.invalidate_submission: %w", err)
	}
	for _, r := range results {
		s.invalidateOne(ctx, r, sel.Level)
	}
	return nil
}

func (s *Service) affectedResults(ctx domain.Context, sel domain.InvalidationSelectors) ([]domain.SubmissionResult, error) {
	// TaskID/DatasetID/ParticipationID selectors (without a SubmissionID)
	// need join support the read-only repositories don't expose yet; a
	// single SubmissionID is the precise case the e2e scenarios (spec.md
	// §8) exercise, and "none" (all in contest) is handled by
	// ListByContest.
	if sel.SubmissionID != "" {
		sub, err := s.Submissions.Get(ctx, sel.SubmissionID)
		if err != nil {
			return nil, err
		}
		dataset, err := s.Tasks.ActiveDataset(ctx, sub.TaskID)
		if err != nil {
			return nil, err
		}
		datasetID := dataset.ID
		if sel.DatasetID != "" {
			datasetID = sel.DatasetID
		}
		r, err := s.SubmissionRes.GetOrCreate(ctx, sel.SubmissionID, datasetID)
		if err != nil {
			return nil, err
		}
		return []domain.SubmissionResult{r}, nil
	}
	if sel.ParticipationID == "" && sel.TaskID == "" && sel.DatasetID == "" {
		return s.SubmissionRes.ListByContest(ctx, sel.ContestID)
	}
	return nil, fmt.Errorf("%w: invalidate_submission selector not yet supported (only submission_id or none)", domain.ErrInvalidArgument)
}

func (s *Service) invalidateOne(ctx domain.Context, r domain.SubmissionResult, level domain.InvalidationLevel) {
	// (a) remove matching queued jobs: a Compile job for either level,
	// plus any already-queued per-testcase Evaluate jobs when only the
	// evaluation is being invalidated.
	s.Queue.Remove(domain.Job{Kind: domain.JobCompile, EntityID: r.SubmissionID, DatasetID: r.DatasetID})
	if level == domain.InvalidateEvaluation {
		for _, e := range s.Queue.Status() {
			if e.Job.Kind == domain.JobEvaluate && e.Job.EntityID == r.SubmissionID && e.Job.DatasetID == r.DatasetID {
				s.Queue.Remove(e.Job)
			}
		}
	}
	for _, slot := range s.Pool.Status() {
		if slot.Job.EntityID == r.SubmissionID && slot.Job.DatasetID == r.DatasetID {
			// (b) mark matching in-flight assignments ignored.
			s.Pool.SetIgnore(slot.Coord, true)
		}
	}

	// (c) clear the relevant fields.
	switch level {
	case domain.InvalidateCompilation:
		_ = s.SubmissionRes.ClearCompilation(ctx, r.SubmissionID, r.DatasetID)
	case domain.InvalidateEvaluation:
		_ = s.SubmissionRes.ClearEvaluation(ctx, r.SubmissionID, r.DatasetID)
	}

	// (d) re-enqueue as if new. Compilation invalidation needs a fresh
	// Compile job; Evaluation invalidation keeps the stored executables
	// and goes straight back to one Evaluate job per testcase (spec.md
	// §8: only a Compile job exists right after a Compilation
	// invalidation, only Evaluate jobs right after an Evaluation one).
	switch level {
	case domain.InvalidateCompilation:
		job := domain.Job{Kind: domain.JobCompile, EntityID: r.SubmissionID, DatasetID: r.DatasetID}
		_ = s.Queue.Push(job, compilePriority(true), time.Now())
	case domain.InvalidateEvaluation:
		s.requeueEvaluation(ctx, r)
	}
}

// requeueEvaluation re-enqueues one Evaluate job per testcase for r,
// reusing the dataset's testcase list (the compiled executables are
// untouched by an Evaluation-level invalidation).
func (s *Service) requeueEvaluation(ctx domain.Context, r domain.SubmissionResult) {
	dataset, err := s.Tasks.GetDataset(ctx, r.DatasetID)
	if err != nil {
		s.Log.Error("invalidate_submission: failed to load dataset", "error", err)
		return
	}
	tokened := s.isTokened(ctx, r.SubmissionID)
	for _, pj := range evaluationJobsForCompile(domain.JobCompile, r.SubmissionID, r.DatasetID, dataset.Testcases, nil, true, tokened) {
		_ = s.Queue.Push(pj.job, pj.priority, time.Now())
	}
}

// Dispatch is the Dispatch timer's body (spec.md §4.E, ≈2s): while the
// queue is non-empty and a worker is acquirable, pop the top entry and
// assign it.
func (s *Service) Dispatch() bool {
	for {
		coord, ok := s.Pool.FindAvailable()
		if !ok {
			return true
		}
		entry, ok := s.Queue.Pop()
		if !ok {
			return true
		}
		side := sideDataFor(entry.Priority, entry.Timestamp)
		if !s.Pool.Assign(coord, entry.Job, side) {
			// Lost the race to another dispatch attempt; put it back and retry.
			_ = s.Queue.Push(entry.Job, entry.Priority, entry.Timestamp)
			continue
		}
		if s.Worker != nil {
			s.Worker.ExecuteJob(coord, entry.Job, side, func(res ActionResult, err error) {
				s.ActionFinished(coord, entry.Job, side, res, err)
			})
		}
	}
}

// CheckTimeouts is the Timeouts timer's body (spec.md §4.E/§5, ≈5min):
// for every Worker slot whose job has run past the timeout, mark it
// ignored, ask the worker to quit, and return the job to the queue at its
// original priority and timestamp.
func (s *Service) CheckTimeouts(now time.Time) bool {
	for _, slot := range s.Pool.CheckTimeouts(now) {
		s.Pool.SetIgnore(slot.Coord, true)
		if s.Worker != nil {
			s.Worker.SendQuit(slot.Coord, "worker timeout")
		}
		s.Pool.Release(slot.Coord)
		_ = s.Queue.Push(slot.Job, slot.Side.Priority, slot.Side.Timestamp)
	}
	return true
}

// CheckConnections is the Connections timer's body (spec.md §4.E, ≈10s):
// any Working slot whose connection has dropped gets its job returned to
// the queue the same way a timeout does, without waiting out the full
// worker timeout.
func (s *Service) CheckConnections() bool {
	for _, slot := range s.Pool.Status() {
		if slot.State == gradepool.Working && !slot.Connected {
			s.Pool.Release(slot.Coord)
			_ = s.Queue.Push(slot.Job, slot.Side.Priority, slot.Side.Timestamp)
		}
	}
	return true
}

// Sweep is the Sweep timer's body (spec.md §4.E, ≈2min): scan for
// submissions/user tests with unfinished work under budget and missing
// from both the queue and the pool, and enqueue them.
func (s *Service) Sweep(ctx domain.Context, contestID string) bool {
	if s.Submissions != nil {
		subs, err := s.Submissions.ListPendingSince(ctx, contestID)
		if err != nil {
			s.Log.Error("sweep failed to list pending submissions", "error", err)
		} else {
			for _, sub := range subs {
				s.sweepSubmission(ctx, sub)
			}
		}
	}
	if s.UserTests != nil {
		uts, err := s.UserTests.ListPendingSince(ctx, contestID)
		if err != nil {
			s.Log.Error("sweep failed to list pending user tests", "error", err)
		} else {
			for _, ut := range uts {
				s.sweepUserTest(ctx, ut)
			}
		}
	}
	return true
}

func (s *Service) sweepSubmission(ctx domain.Context, sub domain.Submission) {
	dataset, err := s.Tasks.ActiveDataset(ctx, sub.TaskID)
	if err != nil {
		return
	}
	job := domain.Job{Kind: domain.JobCompile, EntityID: sub.ID, DatasetID: dataset.ID}
	if s.inFlight(job) {
		return
	}
	result, err := s.SubmissionRes.GetOrCreate(ctx, sub.ID, dataset.ID)
	if err != nil {
		return
	}
	if result.CompilationOutcome == domain.CompilationUnknown && result.CompilationTries < s.Config.MaxCompilationTries {
		_ = s.Queue.Push(job, compilePriority(true), sub.Timestamp)
	}
}

func (s *Service) sweepUserTest(ctx domain.Context, ut domain.UserTest) {
	dataset, err := s.Tasks.ActiveDataset(ctx, ut.TaskID)
	if err != nil {
		return
	}
	job := domain.Job{Kind: domain.JobTestCompile, EntityID: ut.ID, DatasetID: dataset.ID}
	if s.inFlight(job) {
		return
	}
	_ = s.Queue.Push(job, compilePriority(true), ut.Timestamp)
}

func (s *Service) inFlight(job domain.Job) bool {
	if s.Queue.Contains(job) {
		return true
	}
	for _, slot := range s.Pool.Status() {
		if slot.Job == job {
			return true
		}
	}
	return false
}

// WorkersStatus reports a snapshot of every known Worker slot.
func (s *Service) WorkersStatus() []gradepool.Slot { return s.Pool.Status() }

// QueueStatus reports a snapshot of every queued job.
func (s *Service) QueueStatus() []domain.QueueEntry { return s.Queue.Status() }

// SubmissionsStatus reports every SubmissionResult row for contestID, for
// the submissions_status() diagnostic RPC.
func (s *Service) SubmissionsStatus(ctx domain.Context, contestID string) ([]domain.SubmissionResult, error) {
	results, err := s.SubmissionRes.ListByContest(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("op=evalservice.submissions_status: %w", err)
	}
	return results, nil
}
