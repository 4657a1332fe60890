package gradeworker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"sync"

	"github.com/cms-dev/cms/internal/domain"
)

// fakeCacher is an in-memory domain.Cacher, content-addressed the same
// way internal/filestore's real backend is (sha1 hex digest).
type fakeCacher struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCacher() *fakeCacher { return &fakeCacher{data: make(map[string][]byte)} }

func (c *fakeCacher) put(content []byte) string {
	h := sha1.New()
	h.Write(content)
	digest := hex.EncodeToString(h.Sum(nil))
	c.mu.Lock()
	c.data[digest] = content
	c.mu.Unlock()
	return digest
}

func (c *fakeCacher) GetFile(ctx domain.Context, digest string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[digest]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (c *fakeCacher) GetFileToPath(ctx domain.Context, digest, destPath string) error {
	data, err := c.GetFile(ctx, digest)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (c *fakeCacher) PutFile(ctx domain.Context, content []byte, description string) (string, error) {
	return c.put(content), nil
}

func (c *fakeCacher) Delete(ctx domain.Context, digest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, digest)
	return nil
}

func (c *fakeCacher) Describe(ctx domain.Context, digest string) (string, error) {
	return "", nil
}

var _ domain.Cacher = (*fakeCacher)(nil)

// fakeSandbox hands every Run call to a user-supplied function, letting
// tests simulate a compiler/executable/manager without actually
// shelling out.
type fakeSandbox struct {
	run func(ctx context.Context, cmd []string, limits domain.Limits, stdinPath, stdoutPath string) (domain.SandboxStats, error)
}

func (s *fakeSandbox) Run(ctx domain.Context, cmd []string, limits domain.Limits, stdinPath, stdoutPath string) (domain.SandboxStats, error) {
	return s.run(ctx, cmd, limits, stdinPath, stdoutPath)
}

var _ domain.Sandbox = (*fakeSandbox)(nil)

// writeStdout is a helper fakeSandbox.run bodies use to simulate a
// program producing output.
func writeStdout(stdoutPath, content string) error {
	if stdoutPath == "" {
		return nil
	}
	return os.WriteFile(stdoutPath, []byte(content), 0o644)
}

// writeAt writes content to an arbitrary path, for fakeSandbox.run
// bodies that simulate a compiler producing an executable at cmd's
// output path rather than at stdoutPath.
func writeAt(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

type fakeSubmissionResults struct {
	results map[string]domain.SubmissionResult
}

func newFakeSubmissionResults() *fakeSubmissionResults {
	return &fakeSubmissionResults{results: make(map[string]domain.SubmissionResult)}
}

func (f *fakeSubmissionResults) key(a, b string) string { return a + "/" + b }

func (f *fakeSubmissionResults) Get(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	r, ok := f.results[f.key(submissionID, datasetID)]
	if !ok {
		return domain.SubmissionResult{}, domain.ErrNotFound
	}
	return r, nil
}
func (f *fakeSubmissionResults) GetOrCreate(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	return f.Get(ctx, submissionID, datasetID)
}
func (f *fakeSubmissionResults) UpdateCompilation(ctx domain.Context, r domain.SubmissionResult) error {
	f.results[f.key(r.SubmissionID, r.DatasetID)] = r
	return nil
}
func (f *fakeSubmissionResults) UpdateEvaluation(ctx domain.Context, submissionID, datasetID string, evals []domain.Evaluation) error {
	return nil
}
func (f *fakeSubmissionResults) IncrementCompilationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	return 0, nil
}
func (f *fakeSubmissionResults) IncrementEvaluationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	return 0, nil
}
func (f *fakeSubmissionResults) GetEvaluations(ctx domain.Context, submissionID, datasetID string) ([]domain.Evaluation, error) {
	return nil, nil
}
func (f *fakeSubmissionResults) UpdateScore(ctx domain.Context, submissionID, datasetID string, score, publicScore float64, details, publicDetails string) error {
	return nil
}
func (f *fakeSubmissionResults) ClearCompilation(ctx domain.Context, submissionID, datasetID string) error {
	return nil
}
func (f *fakeSubmissionResults) ClearEvaluation(ctx domain.Context, submissionID, datasetID string) error {
	return nil
}
func (f *fakeSubmissionResults) ListByContest(ctx domain.Context, contestID string) ([]domain.SubmissionResult, error) {
	return nil, nil
}

var _ domain.SubmissionResultRepository = (*fakeSubmissionResults)(nil)

type fakeSubmissions struct {
	subs map[string]domain.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{subs: make(map[string]domain.Submission)}
}

func (f *fakeSubmissions) Get(ctx domain.Context, id string) (domain.Submission, error) {
	s, ok := f.subs[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeSubmissions) ListPendingSince(ctx domain.Context, contestID string) ([]domain.Submission, error) {
	return nil, nil
}

var _ domain.SubmissionReader = (*fakeSubmissions)(nil)

type fakeTasks struct {
	tasks    map[string]domain.Task
	datasets map[string]domain.Dataset
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[string]domain.Task), datasets: make(map[string]domain.Dataset)}
}

func (f *fakeTasks) GetTask(ctx domain.Context, id string) (domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}
func (f *fakeTasks) GetDataset(ctx domain.Context, id string) (domain.Dataset, error) {
	d, ok := f.datasets[id]
	if !ok {
		return domain.Dataset{}, domain.ErrNotFound
	}
	return d, nil
}
func (f *fakeTasks) ActiveDataset(ctx domain.Context, taskID string) (domain.Dataset, error) {
	t, err := f.GetTask(ctx, taskID)
	if err != nil {
		return domain.Dataset{}, err
	}
	return f.GetDataset(ctx, t.ActiveDatasetID)
}
func (f *fakeTasks) ContestTasks(ctx domain.Context, contestID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range f.tasks {
		if t.ContestID == contestID {
			out = append(out, t)
		}
	}
	return out, nil
}

var _ domain.TaskRepository = (*fakeTasks)(nil)

type fakeUserTests struct {
	tests map[string]domain.UserTest
}

func newFakeUserTests() *fakeUserTests {
	return &fakeUserTests{tests: make(map[string]domain.UserTest)}
}

func (f *fakeUserTests) Get(ctx domain.Context, id string) (domain.UserTest, error) {
	ut, ok := f.tests[id]
	if !ok {
		return domain.UserTest{}, domain.ErrNotFound
	}
	return ut, nil
}
func (f *fakeUserTests) ListPendingSince(ctx domain.Context, contestID string) ([]domain.UserTest, error) {
	return nil, nil
}

var _ domain.UserTestReader = (*fakeUserTests)(nil)

type fakeUserTestResults struct {
	results map[string]domain.UserTestResult
}

func newFakeUserTestResults() *fakeUserTestResults {
	return &fakeUserTestResults{results: make(map[string]domain.UserTestResult)}
}

func (f *fakeUserTestResults) key(a, b string) string { return a + "/" + b }

func (f *fakeUserTestResults) Get(ctx domain.Context, userTestID, datasetID string) (domain.UserTestResult, error) {
	r, ok := f.results[f.key(userTestID, datasetID)]
	if !ok {
		return domain.UserTestResult{}, domain.ErrNotFound
	}
	return r, nil
}
func (f *fakeUserTestResults) GetOrCreate(ctx domain.Context, userTestID, datasetID string) (domain.UserTestResult, error) {
	return f.Get(ctx, userTestID, datasetID)
}
func (f *fakeUserTestResults) UpdateCompilation(ctx domain.Context, r domain.UserTestResult) error {
	f.results[f.key(r.UserTestID, r.DatasetID)] = r
	return nil
}
func (f *fakeUserTestResults) UpdateEvaluation(ctx domain.Context, r domain.UserTestResult) error {
	return nil
}
func (f *fakeUserTestResults) IncrementCompilationTries(ctx domain.Context, userTestID, datasetID string) (int, error) {
	return 0, nil
}
func (f *fakeUserTestResults) IncrementEvaluationTries(ctx domain.Context, userTestID, datasetID string) (int, error) {
	return 0, nil
}

var _ domain.UserTestResultRepository = (*fakeUserTestResults)(nil)

func mustDigest(c *fakeCacher, content string) string {
	return c.put([]byte(content))
}
