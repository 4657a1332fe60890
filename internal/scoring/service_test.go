package scoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cms-dev/cms/internal/adapter/observability"
	"github.com/cms-dev/cms/internal/domain"
)

func newTestService(t *testing.T, ranking *RankingClient) (*Service, *fakeSubmissions, *fakeResults, *fakeTasks, *fakeContests, *fakeTokens) {
	t.Helper()
	subs := newFakeSubmissions()
	results := newFakeResults()
	tasks := newFakeTasks()
	contests := newFakeContests()
	tokens := newFakeTokens()

	svc := New(Config{
		Submissions: subs,
		Results:     results,
		Tasks:       tasks,
		Contests:    contests,
		Tokens:      tokens,
		Ranking:     ranking,
	})
	return svc, subs, results, tasks, contests, tokens
}

func seedTaskAndSubmission(subs *fakeSubmissions, tasks *fakeTasks, contests *fakeContests) {
	tasks.tasks["task1"] = domain.Task{
		ID: "task1", ContestID: "c1", Name: "taskA",
		ScoreType: "Sum", ScoreParameters: `100`,
		ActiveDatasetID: "ds1",
	}
	tasks.datasets["ds1"] = domain.Dataset{ID: "ds1", TaskID: "task1"}
	contests.participations["p1"] = domain.Participation{ID: "p1", ContestID: "c1", UserID: "u1", Username: "alice"}
	subs.subs["sub1"] = domain.Submission{
		ID: "sub1", TaskID: "task1", ParticipationID: "p1",
		Timestamp: time.Unix(1000, 0), Language: "c",
	}
}

func TestServiceNewEvaluationHappyPathSum(t *testing.T) {
	svc, subs, results, tasks, contests, _ := newTestService(t, nil)
	seedTaskAndSubmission(subs, tasks, contests)
	results.evaluations["sub1/ds1"] = []domain.Evaluation{
		{Outcome: "1.0"}, {Outcome: "1.0"}, {Outcome: "0.0"}, {Outcome: "1.0"},
	}

	if err := svc.NewEvaluation(context.Background(), "sub1"); err != nil {
		t.Fatalf("NewEvaluation() error = %v", err)
	}
	r, err := results.Get(context.Background(), "sub1", "ds1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !r.Scored {
		t.Fatal("result not marked scored")
	}
	if got, want := r.Score, 75.0; got != want {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestServiceNewEvaluationFeedsDatasetScoreDriftMonitor(t *testing.T) {
	svc, subs, results, tasks, contests, _ := newTestService(t, nil)
	seedTaskAndSubmission(subs, tasks, contests)
	results.evaluations["sub1/ds1"] = []domain.Evaluation{
		{Outcome: "1.0"}, {Outcome: "1.0"}, {Outcome: "1.0"}, {Outcome: "1.0"},
	}

	monitor := observability.GetDatasetScoreDriftMonitor("task1")
	monitor.Reset()
	t.Cleanup(monitor.Reset)

	if err := svc.NewEvaluation(context.Background(), "sub1"); err != nil {
		t.Fatalf("NewEvaluation() error = %v", err)
	}
	recent := monitor.GetRecentScores("ds1")
	if len(recent) != 1 || recent[0] != 100.0 {
		t.Errorf("GetRecentScores(ds1) = %v, want [100]", recent)
	}
}

func TestServiceNewEvaluationUnknownSubmission(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t, nil)
	err := svc.NewEvaluation(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for unknown submission")
	}
}

func TestServiceNewEvaluationEnqueuesRankingUpdates(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ranking := NewRankingClient([]RankingEndpoint{{BaseURL: srv.URL}}, nil)
	svc, subs, results, tasks, contests, _ := newTestService(t, ranking)
	seedTaskAndSubmission(subs, tasks, contests)
	results.evaluations["sub1/ds1"] = []domain.Evaluation{{Outcome: "1.0"}}

	if err := svc.NewEvaluation(context.Background(), "sub1"); err != nil {
		t.Fatalf("NewEvaluation() error = %v", err)
	}
	if got := ranking.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2 (submission + score change)", got)
	}
	ranking.DrainOnce(context.Background())
	if got := ranking.PendingCount(); got != 0 {
		t.Errorf("PendingCount() after drain = %d, want 0", got)
	}
	if len(gotPaths) != 2 {
		t.Errorf("server received %d requests, want 2", len(gotPaths))
	}
}

func TestServiceNewEvaluationTokenedSubmission(t *testing.T) {
	svc, subs, results, tasks, contests, tokens := newTestService(t, nil)
	seedTaskAndSubmission(subs, tasks, contests)
	results.evaluations["sub1/ds1"] = []domain.Evaluation{{Outcome: "1.0"}}
	tokens.tokens["sub1"] = domain.Token{SubmissionID: "sub1", Timestamp: time.Unix(500, 0)}

	if err := svc.NewEvaluation(context.Background(), "sub1"); err != nil {
		t.Fatalf("NewEvaluation() error = %v", err)
	}
	r, _ := results.Get(context.Background(), "sub1", "ds1")
	if r.PublicScore != r.Score {
		t.Errorf("tokened submission: PublicScore = %v, Score = %v, want equal", r.PublicScore, r.Score)
	}
}

func TestServiceSubmissionTokenedEnqueuesTokenChange(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ranking := NewRankingClient([]RankingEndpoint{{BaseURL: srv.URL}}, nil)
	svc, subs, _, tasks, contests, _ := newTestService(t, ranking)
	seedTaskAndSubmission(subs, tasks, contests)

	if err := svc.SubmissionTokened(context.Background(), "sub1", 2000); err != nil {
		t.Fatalf("SubmissionTokened() error = %v", err)
	}
	if got := ranking.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2 (submission + token change)", got)
	}
}

func TestServiceSweepScoresPendingAndSkipsScored(t *testing.T) {
	svc, subs, results, tasks, contests, _ := newTestService(t, nil)
	seedTaskAndSubmission(subs, tasks, contests)
	subs.subs["sub2"] = domain.Submission{
		ID: "sub2", TaskID: "task1", ParticipationID: "p1", Timestamp: time.Unix(1001, 0),
	}
	results.evaluations["sub1/ds1"] = []domain.Evaluation{{Outcome: "1.0"}}
	results.evaluations["sub2/ds1"] = []domain.Evaluation{{Outcome: "0.0"}}

	results.byContest["c1"] = []domain.SubmissionResult{
		{SubmissionID: "sub1", DatasetID: "ds1", EvaluationOutcome: domain.EvaluationOK, Scored: false},
		{SubmissionID: "sub2", DatasetID: "ds1", EvaluationOutcome: domain.EvaluationOK, Scored: true},
	}

	n, err := svc.Sweep(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() scored = %d, want 1", n)
	}
	r2, _ := results.Get(context.Background(), "sub2", "ds1")
	if r2.Score != 0 {
		t.Errorf("sub2 should have been left alone (already scored), got Score = %v", r2.Score)
	}
}
