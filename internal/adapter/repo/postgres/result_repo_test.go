package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

func TestResultRepoGet(t *testing.T) {
	now := time.Unix(1000, 0)
	pool := &fakePool{queryRowResult: &fakeRow{values: []any{
		"sub1", "ds1", "ok", 1, "compiled fine", []byte(`{"exe":"d1"}`), "",
		"ok", 1, true, 75.0, 75.0, `{"testcases":[]}`, `{"testcases":[]}`, now, now,
	}}}
	repo := NewResultRepo(pool)

	res, err := repo.Get(context.Background(), "sub1", "ds1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if res.Score != 75.0 || res.CompilationExecutables["exe"] != "d1" {
		t.Errorf("Get() = %+v", res)
	}
}

func TestResultRepoGetOrCreateExisting(t *testing.T) {
	now := time.Unix(1000, 0)
	pool := &fakePool{queryRowResult: &fakeRow{values: []any{
		"sub1", "ds1", "", 0, "", []byte(`{}`), "", "", 0, false, 0.0, 0.0, "", "", now, now,
	}}}
	repo := NewResultRepo(pool)

	res, err := repo.GetOrCreate(context.Background(), "sub1", "ds1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if res.SubmissionID != "sub1" {
		t.Errorf("GetOrCreate() = %+v", res)
	}
	for _, c := range pool.calls {
		if c.method == "Exec" {
			t.Errorf("GetOrCreate() should not Exec when row exists, got call %+v", c)
		}
	}
}

func TestResultRepoGetOrCreateMissing(t *testing.T) {
	// fakePool always replays the same queryRowResult, so both the initial
	// Get and the post-insert re-Get see a not-found row here; this exercises
	// the insert-then-propagate-not-found path, not a full round trip.
	pool := &fakePool{queryRowResult: &fakeRow{notFound: true}}
	repo := NewResultRepo(pool)

	_, err := repo.GetOrCreate(context.Background(), "sub1", "ds1")
	if err == nil {
		t.Fatalf("GetOrCreate() with permanently-missing row should error, got nil")
	}
	if !isNotFound(err) {
		t.Errorf("GetOrCreate() error = %v, want ErrNotFound", err)
	}

	var insertSeen bool
	for _, c := range pool.calls {
		if c.method == "Exec" {
			insertSeen = true
		}
	}
	if !insertSeen {
		t.Errorf("GetOrCreate() should Exec an insert when row is missing")
	}
}

func TestResultRepoUpdateCompilation(t *testing.T) {
	pool := &fakePool{}
	repo := NewResultRepo(pool)

	err := repo.UpdateCompilation(context.Background(), domain.SubmissionResult{
		SubmissionID:          "sub1",
		DatasetID:             "ds1",
		CompilationOutcome:    domain.CompilationOK,
		CompilationText:       "ok",
		CompilationExecutables: map[string]string{"exe": "d1"},
	})
	if err != nil {
		t.Fatalf("UpdateCompilation() error = %v", err)
	}
	if len(pool.calls) != 1 || pool.calls[0].method != "Exec" {
		t.Errorf("UpdateCompilation() calls = %+v", pool.calls)
	}
}

func TestResultRepoUpdateEvaluation(t *testing.T) {
	pool := &fakePool{}
	repo := NewResultRepo(pool)

	evals := []domain.Evaluation{
		{SubmissionID: "sub1", DatasetID: "ds1", TestcaseCodename: "0", Outcome: "1.0"},
		{SubmissionID: "sub1", DatasetID: "ds1", TestcaseCodename: "1", Outcome: "0.0"},
	}
	err := repo.UpdateEvaluation(context.Background(), "sub1", "ds1", evals)
	if err != nil {
		t.Fatalf("UpdateEvaluation() error = %v", err)
	}
	// one upsert per testcase plus the final outcome flip
	if len(pool.calls) != 3 {
		t.Errorf("UpdateEvaluation() calls = %d, want 3", len(pool.calls))
	}
}

func TestResultRepoIncrementCompilationTries(t *testing.T) {
	pool := &fakePool{queryRowResult: &fakeRow{values: []any{2}}}
	repo := NewResultRepo(pool)

	n, err := repo.IncrementCompilationTries(context.Background(), "sub1", "ds1")
	if err != nil {
		t.Fatalf("IncrementCompilationTries() error = %v", err)
	}
	if n != 2 {
		t.Errorf("IncrementCompilationTries() = %d, want 2", n)
	}
}

func TestResultRepoGetEvaluations(t *testing.T) {
	pool := &fakePool{queryRowsResult: &fakeRows{rows: [][]any{
		{"sub1", "ds1", "0", "1.0", "ok", int64(150), int64(1024), int64(200), ""},
	}}}
	repo := NewResultRepo(pool)

	evals, err := repo.GetEvaluations(context.Background(), "sub1", "ds1")
	if err != nil {
		t.Fatalf("GetEvaluations() error = %v", err)
	}
	if len(evals) != 1 || evals[0].ExecutionTime != 150*time.Millisecond {
		t.Errorf("GetEvaluations() = %+v", evals)
	}
}

func TestResultRepoUpdateScore(t *testing.T) {
	pool := &fakePool{}
	repo := NewResultRepo(pool)

	err := repo.UpdateScore(context.Background(), "sub1", "ds1", 100.0, 50.0, `{}`, `{}`)
	if err != nil {
		t.Fatalf("UpdateScore() error = %v", err)
	}
	if len(pool.calls) != 1 {
		t.Errorf("UpdateScore() calls = %+v", pool.calls)
	}
}

func TestResultRepoClearCompilation(t *testing.T) {
	pool := &fakePool{}
	repo := NewResultRepo(pool)

	if err := repo.ClearCompilation(context.Background(), "sub1", "ds1"); err != nil {
		t.Fatalf("ClearCompilation() error = %v", err)
	}
	if len(pool.calls) != 2 {
		t.Errorf("ClearCompilation() calls = %d, want 2 (update + delete evaluations)", len(pool.calls))
	}
}

func TestResultRepoClearEvaluation(t *testing.T) {
	pool := &fakePool{}
	repo := NewResultRepo(pool)

	if err := repo.ClearEvaluation(context.Background(), "sub1", "ds1"); err != nil {
		t.Fatalf("ClearEvaluation() error = %v", err)
	}
	if len(pool.calls) != 2 {
		t.Errorf("ClearEvaluation() calls = %d, want 2 (update + delete evaluations)", len(pool.calls))
	}
}

func TestResultRepoListByContest(t *testing.T) {
	now := time.Unix(1000, 0)
	pool := &fakePool{queryRowsResult: &fakeRows{rows: [][]any{
		{"sub1", "ds1", "ok", 1, "", []byte(`{}`), "", "ok", 1, true, 100.0, 100.0, "", "", now, now},
		{"sub2", "ds1", "ok", 1, "", []byte(`{}`), "", "", 0, false, 0.0, 0.0, "", "", now, now},
	}}}
	repo := NewResultRepo(pool)

	out, err := repo.ListByContest(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListByContest() error = %v", err)
	}
	if len(out) != 2 || out[0].Scored != true || out[1].Scored != false {
		t.Errorf("ListByContest() = %+v", out)
	}
}
