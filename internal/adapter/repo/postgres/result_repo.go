package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// ResultRepo is the Evaluation Service's (compilation/evaluation) and
// Scoring Service's (score) exclusive write surface over
// submission_results/evaluations, per the spec invariant that each field
// group has exactly one writer.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

const resultColumns = `submission_id, dataset_id, compilation_outcome, compilation_tries, compilation_text,
	compilation_executables, compilation_sandbox_trace, evaluation_outcome, evaluation_tries,
	scored, score, public_score, score_details, public_score_details, created_at, updated_at`

func scanResult(row pgx.Row) (domain.SubmissionResult, error) {
	var r domain.SubmissionResult
	var execJSON []byte
	if err := row.Scan(&r.SubmissionID, &r.DatasetID, &r.CompilationOutcome, &r.CompilationTries, &r.CompilationText,
		&execJSON, &r.CompilationSandboxTrace, &r.EvaluationOutcome, &r.EvaluationTries,
		&r.Scored, &r.Score, &r.PublicScore, &r.ScoreDetails, &r.PublicScoreDetails, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.SubmissionResult{}, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return domain.SubmissionResult{}, err
	}
	if len(execJSON) > 0 {
		if err := json.Unmarshal(execJSON, &r.CompilationExecutables); err != nil {
			return domain.SubmissionResult{}, fmt.Errorf("decode compilation_executables: %w", err)
		}
	}
	return r, nil
}

// Get loads a result row.
func (r *ResultRepo) Get(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "submission_results"))
	q := `SELECT ` + resultColumns + ` FROM submission_results WHERE submission_id=$1 AND dataset_id=$2`
	row := r.Pool.QueryRow(ctx, q, submissionID, datasetID)
	res, err := scanResult(row)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("op=result.get: %w", err)
	}
	return res, nil
}

// GetOrCreate loads a result row, inserting a zero-value one first if it
// doesn't exist yet (the dispatch loop's first touch of a submission).
func (r *ResultRepo) GetOrCreate(ctx domain.Context, submissionID, datasetID string) (domain.SubmissionResult, error) {
	res, err := r.Get(ctx, submissionID, datasetID)
	if err == nil {
		return res, nil
	}
	if !isNotFound(err) {
		return domain.SubmissionResult{}, err
	}

	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.GetOrCreate.insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"))
	q := `INSERT INTO submission_results (submission_id, dataset_id, compilation_outcome, evaluation_outcome,
	             compilation_executables, created_at, updated_at)
	      VALUES ($1,$2,'','',$3,now(),now())
	      ON CONFLICT (submission_id, dataset_id) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, submissionID, datasetID, []byte(`{}`)); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("op=result.get_or_create: %w", err)
	}
	return r.Get(ctx, submissionID, datasetID)
}

// UpdateCompilation writes r's compilation fields (ES's exclusive
// write surface for this field group).
func (r *ResultRepo) UpdateCompilation(ctx domain.Context, res domain.SubmissionResult) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.UpdateCompilation")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	execJSON, err := json.Marshal(res.CompilationExecutables)
	if err != nil {
		return fmt.Errorf("op=result.update_compilation: encode executables: %w", err)
	}
	q := `UPDATE submission_results
	      SET compilation_outcome=$3, compilation_text=$4, compilation_executables=$5,
	          compilation_sandbox_trace=$6, updated_at=now()
	      WHERE submission_id=$1 AND dataset_id=$2`
	_, err = r.Pool.Exec(ctx, q, res.SubmissionID, res.DatasetID, res.CompilationOutcome, res.CompilationText,
		execJSON, res.CompilationSandboxTrace)
	if err != nil {
		return fmt.Errorf("op=result.update_compilation: %w", err)
	}
	return nil
}

// UpdateEvaluation writes evals for (submissionID, datasetID) and flips
// the result row's evaluation_outcome to ok.
func (r *ResultRepo) UpdateEvaluation(ctx domain.Context, submissionID, datasetID string, evals []domain.Evaluation) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.UpdateEvaluation")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPSERT"))

	for _, ev := range evals {
		q := `INSERT INTO evaluations (submission_id, dataset_id, testcase_codename, outcome, text,
		             execution_time_ms, memory_used_bytes, wall_time_ms, sandbox_trace)
		      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		      ON CONFLICT (submission_id, dataset_id, testcase_codename)
		      DO UPDATE SET outcome=EXCLUDED.outcome, text=EXCLUDED.text,
		                    execution_time_ms=EXCLUDED.execution_time_ms,
		                    memory_used_bytes=EXCLUDED.memory_used_bytes,
		                    wall_time_ms=EXCLUDED.wall_time_ms, sandbox_trace=EXCLUDED.sandbox_trace`
		_, err := r.Pool.Exec(ctx, q, submissionID, datasetID, ev.TestcaseCodename, ev.Outcome, ev.Text,
			ev.ExecutionTime.Milliseconds(), ev.MemoryUsedBytes, ev.WallTime.Milliseconds(), ev.SandboxTrace)
		if err != nil {
			return fmt.Errorf("op=result.update_evaluation: %w", err)
		}
	}

	q := `UPDATE submission_results SET evaluation_outcome=$3, updated_at=now() WHERE submission_id=$1 AND dataset_id=$2`
	if _, err := r.Pool.Exec(ctx, q, submissionID, datasetID, domain.EvaluationOK); err != nil {
		return fmt.Errorf("op=result.update_evaluation: %w", err)
	}
	return nil
}

// IncrementCompilationTries bumps and returns the new try count.
func (r *ResultRepo) IncrementCompilationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	return r.incrementTries(ctx, "compilation_tries", submissionID, datasetID)
}

// IncrementEvaluationTries bumps and returns the new try count.
func (r *ResultRepo) IncrementEvaluationTries(ctx domain.Context, submissionID, datasetID string) (int, error) {
	return r.incrementTries(ctx, "evaluation_tries", submissionID, datasetID)
}

func (r *ResultRepo) incrementTries(ctx domain.Context, column, submissionID, datasetID string) (int, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.IncrementTries")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE submission_results SET ` + column + `=` + column + `+1, updated_at=now()
	      WHERE submission_id=$1 AND dataset_id=$2
	      RETURNING ` + column
	row := r.Pool.QueryRow(ctx, q, submissionID, datasetID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("op=result.increment_tries: %w", err)
	}
	return n, nil
}

// GetEvaluations returns every per-testcase evaluation row.
func (r *ResultRepo) GetEvaluations(ctx domain.Context, submissionID, datasetID string) ([]domain.Evaluation, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.GetEvaluations")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "evaluations"))
	q := `SELECT submission_id, dataset_id, testcase_codename, outcome, text,
	             execution_time_ms, memory_used_bytes, wall_time_ms, sandbox_trace
	      FROM evaluations WHERE submission_id=$1 AND dataset_id=$2 ORDER BY testcase_codename ASC`
	rows, err := r.Pool.Query(ctx, q, submissionID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("op=result.get_evaluations: %w", err)
	}
	defer rows.Close()

	var out []domain.Evaluation
	for rows.Next() {
		var ev domain.Evaluation
		var execMS, wallMS int64
		if err := rows.Scan(&ev.SubmissionID, &ev.DatasetID, &ev.TestcaseCodename, &ev.Outcome, &ev.Text,
			&execMS, &ev.MemoryUsedBytes, &wallMS, &ev.SandboxTrace); err != nil {
			return nil, fmt.Errorf("op=result.get_evaluations_scan: %w", err)
		}
		ev.ExecutionTime = millisecondsToDuration(execMS)
		ev.WallTime = millisecondsToDuration(wallMS)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=result.get_evaluations_rows: %w", err)
	}
	return out, nil
}

// UpdateScore writes the Scoring Service's exclusive field group.
func (r *ResultRepo) UpdateScore(ctx domain.Context, submissionID, datasetID string, score, publicScore float64, details, publicDetails string) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.UpdateScore")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE submission_results SET scored=true, score=$3, public_score=$4, score_details=$5,
	             public_score_details=$6, updated_at=now()
	      WHERE submission_id=$1 AND dataset_id=$2`
	_, err := r.Pool.Exec(ctx, q, submissionID, datasetID, score, publicScore, details, publicDetails)
	if err != nil {
		return fmt.Errorf("op=result.update_score: %w", err)
	}
	return nil
}

// ClearCompilation wipes a result's compilation fields (invalidate_submission).
func (r *ResultRepo) ClearCompilation(ctx domain.Context, submissionID, datasetID string) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.ClearCompilation")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE submission_results
	      SET compilation_outcome='', compilation_tries=0, compilation_text='', compilation_executables='{}',
	          compilation_sandbox_trace='', evaluation_outcome='', evaluation_tries=0, scored=false,
	          score=0, public_score=0, score_details='', public_score_details='', updated_at=now()
	      WHERE submission_id=$1 AND dataset_id=$2`
	if _, err := r.Pool.Exec(ctx, q, submissionID, datasetID); err != nil {
		return fmt.Errorf("op=result.clear_compilation: %w", err)
	}
	if _, err := r.Pool.Exec(ctx, `DELETE FROM evaluations WHERE submission_id=$1 AND dataset_id=$2`, submissionID, datasetID); err != nil {
		return fmt.Errorf("op=result.clear_compilation: delete evaluations: %w", err)
	}
	return nil
}

// ClearEvaluation wipes a result's evaluation fields, leaving compilation
// intact (invalidate_submission with InvalidateEvaluation).
func (r *ResultRepo) ClearEvaluation(ctx domain.Context, submissionID, datasetID string) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.ClearEvaluation")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE submission_results
	      SET evaluation_outcome='', evaluation_tries=0, scored=false, score=0, public_score=0,
	          score_details='', public_score_details='', updated_at=now()
	      WHERE submission_id=$1 AND dataset_id=$2`
	if _, err := r.Pool.Exec(ctx, q, submissionID, datasetID); err != nil {
		return fmt.Errorf("op=result.clear_evaluation: %w", err)
	}
	if _, err := r.Pool.Exec(ctx, `DELETE FROM evaluations WHERE submission_id=$1 AND dataset_id=$2`, submissionID, datasetID); err != nil {
		return fmt.Errorf("op=result.clear_evaluation: delete evaluations: %w", err)
	}
	return nil
}

// ListByContest returns every result row for contestID's tasks, for the
// Scoring Service's periodic sweep.
func (r *ResultRepo) ListByContest(ctx domain.Context, contestID string) ([]domain.SubmissionResult, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.ListByContest")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "submission_results"))
	q := `SELECT r.submission_id, r.dataset_id, r.compilation_outcome, r.compilation_tries, r.compilation_text,
	             r.compilation_executables, r.compilation_sandbox_trace, r.evaluation_outcome, r.evaluation_tries,
	             r.scored, r.score, r.public_score, r.score_details, r.public_score_details, r.created_at, r.updated_at
	      FROM submission_results r
	      JOIN submissions s ON s.id = r.submission_id
	      JOIN tasks t ON t.id = s.task_id
	      WHERE t.contest_id = $1`
	rows, err := r.Pool.Query(ctx, q, contestID)
	if err != nil {
		return nil, fmt.Errorf("op=result.list_by_contest: %w", err)
	}
	defer rows.Close()

	var out []domain.SubmissionResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("op=result.list_by_contest_scan: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=result.list_by_contest_rows: %w", err)
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

var _ domain.SubmissionResultRepository = (*ResultRepo)(nil)
