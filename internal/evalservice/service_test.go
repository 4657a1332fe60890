package evalservice

import (
	"context"
	"testing"
	"time"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/gradepool"
	"github.com/cms-dev/cms/internal/gradequeue"
)

var (
	_ domain.SubmissionReader           = (*fakeSubmissions)(nil)
	_ domain.TaskRepository             = (*fakeTasks)(nil)
	_ domain.SubmissionResultRepository = (*fakeSubmissionResults)(nil)
	_ WorkerClient                      = (*fakeWorkerClient)(nil)
)

type fakeSubmissions struct {
	byID map[string]domain.Submission
}

func (f *fakeSubmissions) Get(ctx domain.Context, id string) (domain.Submission, error) {
	sub, ok := f.byID[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return sub, nil
}
func (f *fakeSubmissions) ListPendingSince(ctx domain.Context, contestID string) ([]domain.Submission, error) {
	return nil, nil
}

type fakeTasks struct {
	datasets map[string]domain.Dataset
	active   map[string]string // taskID -> datasetID
}

func (f *fakeTasks) GetTask(ctx domain.Context, id string) (domain.Task, error) { return domain.Task{}, nil }
func (f *fakeTasks) GetDataset(ctx domain.Context, id string) (domain.Dataset, error) {
	d, ok := f.datasets[id]
	if !ok {
		return domain.Dataset{}, domain.ErrNotFound
	}
	return d, nil
}
func (f *fakeTasks) ActiveDataset(ctx domain.Context, taskID string) (domain.Dataset, error) {
	dsID, ok := f.active[taskID]
	if !ok {
		return domain.Dataset{}, domain.ErrNotFound
	}
	return f.GetDataset(ctx, dsID)
}
func (f *fakeTasks) ContestTasks(ctx domain.Context, contestID string) ([]domain.Task, error) { return nil, nil }

type fakeSubmissionResults struct {
	rows map[string]domain.SubmissionResult // key: submissionID+"/"+datasetID
	evals map[string][]domain.Evaluation
}

func key(a, b string) string { return a + "/" + b }

func newFakeSubmissionResults() *fakeSubmissionResults {
	return &fakeSubmissionResults{rows: map[string]domain.SubmissionResult{}, evals: map[string][]domain.Evaluation{}}
}

func (f *fakeSubmissionResults) Get(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	r, ok := f.rows[key(submissionID, datasetID)]
	if !ok {
		return domain.SubmissionResult{}, domain.ErrNotFound
	}
	return r, nil
}
func (f *fakeSubmissionResults) GetOrCreate(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	k := key(submissionID, datasetID)
	if r, ok := f.rows[k]; ok {
		return r, nil
	}
	r := domain.SubmissionResult{SubmissionID: submissionID, DatasetID: datasetID}
	f.rows[k] = r
	return r, nil
}
func (f *fakeSubmissionResults) UpdateCompilation(ctx domain.Context, r domain.SubmissionResult) error {
	f.rows[key(r.SubmissionID, r.DatasetID)] = r
	return nil
}
func (f *fakeSubmissionResults) UpdateEvaluation(ctx domain.Context, submissionID, datasetID string, evals []domain.Evaluation) error {
	k := key(submissionID, datasetID)
	f.evals[k] = append(f.evals[k], evals...)
	return nil
}
func (f *fakeSubmissionResults) IncrementCompilationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	k := key(submissionID, datasetID)
	r := f.rows[k]
	r.SubmissionID, r.DatasetID = submissionID, datasetID
	r.CompilationTries++
	f.rows[k] = r
	return r.CompilationTries, nil
}
func (f *fakeSubmissionResults) IncrementEvaluationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	k := key(submissionID, datasetID)
	r := f.rows[k]
	r.SubmissionID, r.DatasetID = submissionID, datasetID
	r.EvaluationTries++
	f.rows[k] = r
	return r.EvaluationTries, nil
}
func (f *fakeSubmissionResults) GetEvaluations(ctx domain.Context, submissionID, datasetID string) ([]domain.Evaluation, error) {
	return f.evals[key(submissionID, datasetID)], nil
}
func (f *fakeSubmissionResults) UpdateScore(ctx domain.Context, submissionID, datasetID string, score, publicScore float64, details, publicDetails string) error {
	return nil
}
func (f *fakeSubmissionResults) ClearCompilation(ctx domain.Context, submissionID, datasetID string) error {
	k := key(submissionID, datasetID)
	r := f.rows[k]
	r.CompilationOutcome = domain.CompilationUnknown
	r.CompilationTries = 0
	f.rows[k] = r
	return nil
}
func (f *fakeSubmissionResults) ClearEvaluation(ctx domain.Context, submissionID, datasetID string) error {
	delete(f.evals, key(submissionID, datasetID))
	return nil
}
func (f *fakeSubmissionResults) ListByContest(ctx domain.Context, contestID string) ([]domain.SubmissionResult, error) {
	var out []domain.SubmissionResult
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

// fakeWorkerClient records every dispatched job without invoking its done
// callback inline, so a test can call Dispatch() once, inspect what was
// sent, and then finish each job explicitly — mirroring how a real Worker's
// reply arrives later, on its own goroutine, rather than synchronously
// inside Dispatch's own call stack.
type fakeWorkerClient struct {
	calls []fakeWorkerCall
}

type fakeWorkerCall struct {
	coord domain.ServiceCoord
	job   domain.Job
	side  domain.SideData
	done  func(ActionResult, error)
}

func (f *fakeWorkerClient) ExecuteJob(coord domain.ServiceCoord, job domain.Job, side domain.SideData, done func(ActionResult, error)) {
	f.calls = append(f.calls, fakeWorkerCall{coord: coord, job: job, side: side, done: done})
}
func (f *fakeWorkerClient) SendQuit(coord domain.ServiceCoord, reason string) {}

func newTestService() (*Service, *fakeSubmissions, *fakeTasks, *fakeSubmissionResults) {
	subs := &fakeSubmissions{byID: map[string]domain.Submission{}}
	tasks := &fakeTasks{datasets: map[string]domain.Dataset{}, active: map[string]string{}}
	results := newFakeSubmissionResults()

	s := New(gradequeue.New(), gradepool.New(time.Minute), DefaultConfig(), nil)
	s.Submissions = subs
	s.Tasks = tasks
	s.SubmissionRes = results
	return s, subs, tasks, results
}

func TestNewSubmissionEnqueuesCompileJob(t *testing.T) {
	s, subs, tasks, _ := newTestService()
	subs.byID["s1"] = domain.Submission{ID: "s1", TaskID: "t1", Timestamp: time.Unix(100, 0)}
	tasks.datasets["ds1"] = domain.Dataset{ID: "ds1", TaskID: "t1"}
	tasks.active["t1"] = "ds1"

	if err := s.NewSubmission(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	entry, ok := s.Queue.Top()
	if !ok {
		t.Fatal("expected a queued entry")
	}
	if entry.Job.Kind != domain.JobCompile || entry.Job.EntityID != "s1" || entry.Job.DatasetID != "ds1" {
		t.Errorf("queued job = %+v, want Compile/s1/ds1", entry.Job)
	}
	if entry.Priority != domain.PriorityHigh {
		t.Errorf("priority = %v, want High", entry.Priority)
	}
}

func TestDispatchExecutesAndActionFinishedEnqueuesEvaluations(t *testing.T) {
	s, subs, tasks, results := newTestService()
	subs.byID["s1"] = domain.Submission{ID: "s1", TaskID: "t1", Timestamp: time.Unix(100, 0)}
	tasks.datasets["ds1"] = domain.Dataset{
		ID: "ds1", TaskID: "t1",
		Testcases: []domain.Testcase{{Codename: "t1"}, {Codename: "t2"}},
	}
	tasks.active["t1"] = "ds1"
	_ = results

	coord := domain.ServiceCoord{Name: "Worker", Shard: 0}
	s.Pool.AddWorker(coord)

	worker := &fakeWorkerClient{}
	s.Worker = worker

	if err := s.NewSubmission(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	s.Dispatch()

	if len(worker.calls) != 1 || worker.calls[0].job.Kind != domain.JobCompile {
		t.Fatalf("calls = %+v, want one Compile job", worker.calls)
	}

	// Worker's reply now arrives, on what would be its own goroutine.
	call := worker.calls[0]
	call.done(ActionResult{Compilation: &CompilationResult{Outcome: domain.CompilationOK}}, nil)

	// Compile succeeded, so two Evaluate jobs should now be queued for t1/t2.
	if s.Queue.Len() != 2 {
		t.Fatalf("Queue.Len() = %d, want 2 evaluate jobs", s.Queue.Len())
	}
	for _, e := range s.Queue.Status() {
		if e.Job.Kind != domain.JobEvaluate || e.Job.EntityID != "s1" {
			t.Errorf("queued entry = %+v, want Evaluate/s1", e.Job)
		}
	}
}

func TestActionFinishedInfrastructureFailureRequeuesUnderBudget(t *testing.T) {
	s, _, _, _ := newTestService()
	s.Config.MaxCompilationTries = 3

	coord := domain.ServiceCoord{Name: "Worker", Shard: 0}
	job := domain.Job{Kind: domain.JobCompile, EntityID: "s1", DatasetID: "ds1"}
	side := domain.SideData{Priority: domain.PriorityHigh, Timestamp: time.Unix(50, 0)}
	s.Pool.AddWorker(coord)
	s.Pool.Assign(coord, job, side)

	s.ActionFinished(coord, job, side, ActionResult{InfrastructureFailure: true}, nil)

	if s.Queue.Len() != 1 {
		t.Fatalf("Queue.Len() = %d, want 1 (requeued)", s.Queue.Len())
	}
	entry, _ := s.Queue.Top()
	if entry.Priority != domain.PriorityMedium {
		t.Errorf("requeue priority = %v, want Medium", entry.Priority)
	}
	if entry.Timestamp != side.Timestamp {
		t.Errorf("requeue timestamp = %v, want original %v", entry.Timestamp, side.Timestamp)
	}
}

func TestActionFinishedDiscardsIgnoredSlot(t *testing.T) {
	s, _, _, _ := newTestService()
	coord := domain.ServiceCoord{Name: "Worker", Shard: 0}
	job := domain.Job{Kind: domain.JobCompile, EntityID: "s1", DatasetID: "ds1"}
	side := domain.SideData{Priority: domain.PriorityHigh, Timestamp: time.Unix(50, 0)}
	s.Pool.AddWorker(coord)
	s.Pool.Assign(coord, job, side)
	s.Pool.SetIgnore(coord, true)

	s.ActionFinished(coord, job, side, ActionResult{Compilation: &CompilationResult{Outcome: domain.CompilationOK}}, nil)

	if s.Queue.Len() != 0 {
		t.Errorf("Queue.Len() = %d, want 0: ignored result must be discarded, not acted on", s.Queue.Len())
	}
}

func TestSubmissionTokenedPromotesQueuedEvaluateJobs(t *testing.T) {
	s, _, _, _ := newTestService()
	now := time.Now()
	_ = s.Queue.Push(domain.Job{Kind: domain.JobEvaluate, EntityID: "s1", TestcaseCodename: "t1"}, domain.PriorityLow, now)
	_ = s.Queue.Push(domain.Job{Kind: domain.JobEvaluate, EntityID: "s2", TestcaseCodename: "t1"}, domain.PriorityLow, now)

	if err := s.SubmissionTokened(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	for _, e := range s.Queue.Status() {
		if e.Job.EntityID == "s1" && e.Priority != domain.PriorityMedium {
			t.Errorf("s1 priority = %v, want Medium", e.Priority)
		}
		if e.Job.EntityID == "s2" && e.Priority != domain.PriorityLow {
			t.Errorf("s2 priority = %v, want unchanged Low", e.Priority)
		}
	}
}

func TestCheckTimeoutsRequeuesAndMarksIgnore(t *testing.T) {
	s, _, _, _ := newTestService()
	s.Pool = gradepool.New(10 * time.Millisecond)
	coord := domain.ServiceCoord{Name: "Worker", Shard: 0}
	job := domain.Job{Kind: domain.JobCompile, EntityID: "s1", DatasetID: "ds1"}
	side := domain.SideData{Priority: domain.PriorityHigh, Timestamp: time.Unix(1, 0)}
	s.Pool.AddWorker(coord)
	s.Pool.Assign(coord, job, side)

	time.Sleep(20 * time.Millisecond)
	s.CheckTimeouts(time.Now())

	if s.Queue.Len() != 1 {
		t.Fatalf("Queue.Len() = %d, want 1", s.Queue.Len())
	}
	if _, ok := s.Pool.FindAvailable(); !ok {
		t.Error("slot should be Available again after timeout release")
	}
}

func TestInvalidateSubmissionClearsAndRequeues(t *testing.T) {
	s, subs, tasks, results := newTestService()
	subs.byID["s1"] = domain.Submission{ID: "s1", TaskID: "t1"}
	tasks.datasets["ds1"] = domain.Dataset{ID: "ds1", TaskID: "t1"}
	tasks.active["t1"] = "ds1"
	results.rows[key("s1", "ds1")] = domain.SubmissionResult{
		SubmissionID: "s1", DatasetID: "ds1", CompilationOutcome: domain.CompilationOK,
	}

	sel := domain.InvalidationSelectors{SubmissionID: "s1", Level: domain.InvalidateCompilation}
	if err := s.InvalidateSubmission(context.Background(), sel); err != nil {
		t.Fatal(err)
	}

	r, _ := results.Get(context.Background(), "s1", "ds1")
	if r.CompilationOutcome != domain.CompilationUnknown {
		t.Errorf("CompilationOutcome = %v, want cleared", r.CompilationOutcome)
	}
	if s.Queue.Len() != 1 {
		t.Errorf("Queue.Len() = %d, want 1 (re-enqueued as new)", s.Queue.Len())
	}
	for _, e := range s.Queue.Status() {
		if e.Job.Kind != domain.JobCompile {
			t.Errorf("requeued job kind = %v, want JobCompile", e.Job.Kind)
		}
	}
}

func TestInvalidateSubmissionEvaluationRequeuesEvaluateJobsNotCompile(t *testing.T) {
	s, subs, tasks, results := newTestService()
	subs.byID["s1"] = domain.Submission{ID: "s1", TaskID: "t1"}
	tasks.datasets["ds1"] = domain.Dataset{
		ID: "ds1", TaskID: "t1",
		Testcases: []domain.Testcase{{Codename: "tc1"}, {Codename: "tc2"}},
	}
	tasks.active["t1"] = "ds1"
	results.rows[key("s1", "ds1")] = domain.SubmissionResult{
		SubmissionID: "s1", DatasetID: "ds1",
		CompilationOutcome: domain.CompilationOK,
		EvaluationOutcome:  domain.EvaluationOK,
	}

	sel := domain.InvalidationSelectors{SubmissionID: "s1", Level: domain.InvalidateEvaluation}
	if err := s.InvalidateSubmission(context.Background(), sel); err != nil {
		t.Fatal(err)
	}

	r, _ := results.Get(context.Background(), "s1", "ds1")
	if r.CompilationOutcome != domain.CompilationOK {
		t.Errorf("CompilationOutcome = %v, want preserved (reuse compiled executables)", r.CompilationOutcome)
	}

	entries := s.Queue.Status()
	if len(entries) != 2 {
		t.Fatalf("Queue.Len() = %d, want 2 (one Evaluate job per testcase)", len(entries))
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.Job.Kind != domain.JobEvaluate {
			t.Errorf("requeued job kind = %v, want JobEvaluate", e.Job.Kind)
		}
		if e.Job.EntityID != "s1" || e.Job.DatasetID != "ds1" {
			t.Errorf("requeued job = %+v, want s1/ds1", e.Job)
		}
		seen[e.Job.TestcaseCodename] = true
	}
	if !seen["tc1"] || !seen["tc2"] {
		t.Errorf("requeued testcases = %v, want tc1 and tc2", seen)
	}
}

func TestInvalidateSubmissionNoneSelectorInvalidatesWholeContest(t *testing.T) {
	s, subs, tasks, results := newTestService()
	subs.byID["s1"] = domain.Submission{ID: "s1", TaskID: "t1"}
	subs.byID["s2"] = domain.Submission{ID: "s2", TaskID: "t1"}
	tasks.datasets["ds1"] = domain.Dataset{ID: "ds1", TaskID: "t1"}
	tasks.active["t1"] = "ds1"
	results.rows[key("s1", "ds1")] = domain.SubmissionResult{SubmissionID: "s1", DatasetID: "ds1", CompilationOutcome: domain.CompilationOK}
	results.rows[key("s2", "ds1")] = domain.SubmissionResult{SubmissionID: "s2", DatasetID: "ds1", CompilationOutcome: domain.CompilationOK}

	sel := domain.InvalidationSelectors{ContestID: "c1", Level: domain.InvalidateCompilation}
	if err := s.InvalidateSubmission(context.Background(), sel); err != nil {
		t.Fatal(err)
	}

	if s.Queue.Len() != 2 {
		t.Errorf("Queue.Len() = %d, want 2 (both submissions requeued)", s.Queue.Len())
	}
	for _, id := range []string{"s1", "s2"} {
		r, _ := results.Get(context.Background(), id, "ds1")
		if r.CompilationOutcome != domain.CompilationUnknown {
			t.Errorf("%s CompilationOutcome = %v, want cleared", id, r.CompilationOutcome)
		}
	}
}

func TestInvalidateSubmissionUnsupportedSelectorErrors(t *testing.T) {
	s, _, _, _ := newTestService()
	sel := domain.InvalidationSelectors{TaskID: "t1", Level: domain.InvalidateCompilation}
	if err := s.InvalidateSubmission(context.Background(), sel); err == nil {
		t.Fatal("expected error for unsupported task-only selector")
	}
}
