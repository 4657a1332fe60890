package scoring

import "github.com/cms-dev/cms/internal/domain"

type fakeSubmissions struct {
	subs map[string]domain.Submission
}

func newFakeSubmissions() *fakeSubmissions { return &fakeSubmissions{subs: make(map[string]domain.Submission)} }

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

type fakeResults struct {
	evaluations map[string][]domain.Evaluation // key "submissionID/datasetID"
	results     map[string]domain.SubmissionResult
	byContest   map[string][]domain.SubmissionResult
}

func newFakeResults() *fakeResults {
	return &fakeResults{
		evaluations: make(map[string][]domain.Evaluation),
		results:     make(map[string]domain.SubmissionResult),
		byContest:   make(map[string][]domain.SubmissionResult),
	}
}

func (f *fakeResults) key(a, b string) string { return a + "/" + b }

func (f *fakeResults) Get(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	r, ok := f.results[f.key(submissionID, datasetID)]
	if !ok {
		return domain.SubmissionResult{}, domain.ErrNotFound
	}
	return r, nil
}
func (f *fakeResults) GetOrCreate(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	return f.Get(ctx, submissionID, datasetID)
}
func (f *fakeResults) UpdateCompilation(ctx domain.Context, r domain.SubmissionResult) error { return nil }
func (f *fakeResults) UpdateEvaluation(ctx domain.Context, submissionID, datasetID string, evals []domain.Evaluation) error {
	return nil
}
func (f *fakeResults) IncrementCompilationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	return 0, nil
}
func (f *fakeResults) IncrementEvaluationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	return 0, nil
}
func (f *fakeResults) GetEvaluations(ctx domain.Context, submissionID, datasetID string) ([]domain.Evaluation, error) {
	return f.evaluations[f.key(submissionID, datasetID)], nil
}
func (f *fakeResults) UpdateScore(ctx domain.Context, submissionID, datasetID string, score, publicScore float64, details, publicDetails string) error {
	key := f.key(submissionID, datasetID)
	r := f.results[key]
	r.SubmissionID, r.DatasetID = submissionID, datasetID
	r.Scored = true
	r.Score, r.PublicScore = score, publicScore
	r.ScoreDetails, r.PublicScoreDetails = details, publicDetails
	f.results[key] = r
	return nil
}
func (f *fakeResults) ClearCompilation(ctx domain.Context, submissionID, datasetID string) error { return nil }
func (f *fakeResults) ClearEvaluation(ctx domain.Context, submissionID, datasetID string) error  { return nil }
func (f *fakeResults) ListByContest(ctx domain.Context, contestID string) ([]domain.SubmissionResult, error) {
	return f.byContest[contestID], nil
}

var _ domain.SubmissionResultRepository = (*fakeResults)(nil)

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

type fakeContests struct {
	contests       map[string]domain.Contest
	participations map[string]domain.Participation
}

func newFakeContests() *fakeContests {
	return &fakeContests{contests: make(map[string]domain.Contest), participations: make(map[string]domain.Participation)}
}

func (f *fakeContests) GetContest(ctx domain.Context, id string) (domain.Contest, error) {
	c, ok := f.contests[id]
	if !ok {
		return domain.Contest{}, domain.ErrNotFound
	}
	return c, nil
}
func (f *fakeContests) GetParticipation(ctx domain.Context, id string) (domain.Participation, error) {
	p, ok := f.participations[id]
	if !ok {
		return domain.Participation{}, domain.ErrNotFound
	}
	return p, nil
}
func (f *fakeContests) ListParticipations(ctx domain.Context, contestID string) ([]domain.Participation, error) {
	var out []domain.Participation
	for _, p := range f.participations {
		if p.ContestID == contestID {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ domain.ContestRepository = (*fakeContests)(nil)

type fakeTokens struct {
	tokens map[string]domain.Token
}

func newFakeTokens() *fakeTokens { return &fakeTokens{tokens: make(map[string]domain.Token)} }

func (f *fakeTokens) Get(ctx domain.Context, submissionID string) (domain.Token, error) {
	t, ok := f.tokens[submissionID]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

var _ domain.TokenReader = (*fakeTokens)(nil)
