package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// UserTestResultRepo is the Worker's exclusive write surface for user
// test compilation/evaluation state, mirroring ResultRepo but without the
// score/public_score fields: user tests are never ranked or scored.
type UserTestResultRepo struct{ Pool PgxPool }

// NewUserTestResultRepo constructs a UserTestResultRepo with the given pool.
func NewUserTestResultRepo(p PgxPool) *UserTestResultRepo { return &UserTestResultRepo{Pool: p} }

const userTestResultColumns = `user_test_id, dataset_id, compilation_outcome, compilation_tries, compilation_text,
	compilation_executables, evaluation_outcome, evaluation_tries, text, execution_time_ms,
	memory_used_bytes, output_digest, created_at, updated_at`

func scanUserTestResult(row pgx.Row) (domain.UserTestResult, error) {
	var r domain.UserTestResult
	var execJSON []byte
	var execMS int64
	if err := row.Scan(&r.UserTestID, &r.DatasetID, &r.CompilationOutcome, &r.CompilationTries, &r.CompilationText,
		&execJSON, &r.EvaluationOutcome, &r.EvaluationTries, &r.Text, &execMS,
		&r.MemoryUsedBytes, &r.OutputDigest, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.UserTestResult{}, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return domain.UserTestResult{}, err
	}
	r.ExecutionTime = millisecondsToDuration(execMS)
	if len(execJSON) > 0 {
		if err := json.Unmarshal(execJSON, &r.CompilationExecutables); err != nil {
			return domain.UserTestResult{}, fmt.Errorf("decode compilation_executables: %w", err)
		}
	}
	return r, nil
}

// Get loads a user test result row.
func (r *UserTestResultRepo) Get(ctx domain.Context, userTestID, datasetID string) (domain.UserTestResult, error) {
	tracer := otel.Tracer("repo.user_test_results")
	ctx, span := tracer.Start(ctx, "user_test_results.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "user_test_results"))
	q := `SELECT ` + userTestResultColumns + ` FROM user_test_results WHERE user_test_id=$1 AND dataset_id=$2`
	res, err := scanUserTestResult(r.Pool.QueryRow(ctx, q, userTestID, datasetID))
	if err != nil {
		return domain.UserTestResult{}, fmt.Errorf("op=user_test_result.get: %w", err)
	}
	return res, nil
}

// GetOrCreate loads a row, inserting a zero-value one first if missing.
func (r *UserTestResultRepo) GetOrCreate(ctx domain.Context, userTestID, datasetID string) (domain.UserTestResult, error) {
	res, err := r.Get(ctx, userTestID, datasetID)
	if err == nil {
		return res, nil
	}
	if !isNotFound(err) {
		return domain.UserTestResult{}, err
	}

	tracer := otel.Tracer("repo.user_test_results")
	ctx, span := tracer.Start(ctx, "user_test_results.GetOrCreate.insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"))
	q := `INSERT INTO user_test_results (user_test_id, dataset_id, compilation_outcome, evaluation_outcome,
	             compilation_executables, created_at, updated_at)
	      VALUES ($1,$2,'','',$3,now(),now())
	      ON CONFLICT (user_test_id, dataset_id) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, userTestID, datasetID, []byte(`{}`)); err != nil {
		return domain.UserTestResult{}, fmt.Errorf("op=user_test_result.get_or_create: %w", err)
	}
	return r.Get(ctx, userTestID, datasetID)
}

// UpdateCompilation writes r's compilation fields.
func (r *UserTestResultRepo) UpdateCompilation(ctx domain.Context, res domain.UserTestResult) error {
	tracer := otel.Tracer("repo.user_test_results")
	ctx, span := tracer.Start(ctx, "user_test_results.UpdateCompilation")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	execJSON, err := json.Marshal(res.CompilationExecutables)
	if err != nil {
		return fmt.Errorf("op=user_test_result.update_compilation: encode executables: %w", err)
	}
	q := `UPDATE user_test_results
	      SET compilation_outcome=$3, compilation_text=$4, compilation_executables=$5, updated_at=now()
	      WHERE user_test_id=$1 AND dataset_id=$2`
	if _, err := r.Pool.Exec(ctx, q, res.UserTestID, res.DatasetID, res.CompilationOutcome, res.CompilationText, execJSON); err != nil {
		return fmt.Errorf("op=user_test_result.update_compilation: %w", err)
	}
	return nil
}

// UpdateEvaluation writes r's evaluation fields (no testcase fan-out: a
// user test is a single run, unlike a scored submission's per-testcase
// evaluations).
func (r *UserTestResultRepo) UpdateEvaluation(ctx domain.Context, res domain.UserTestResult) error {
	tracer := otel.Tracer("repo.user_test_results")
	ctx, span := tracer.Start(ctx, "user_test_results.UpdateEvaluation")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE user_test_results
	      SET evaluation_outcome=$3, text=$4, execution_time_ms=$5, memory_used_bytes=$6, output_digest=$7, updated_at=now()
	      WHERE user_test_id=$1 AND dataset_id=$2`
	_, err := r.Pool.Exec(ctx, q, res.UserTestID, res.DatasetID, res.EvaluationOutcome, res.Text,
		res.ExecutionTime.Milliseconds(), res.MemoryUsedBytes, res.OutputDigest)
	if err != nil {
		return fmt.Errorf("op=user_test_result.update_evaluation: %w", err)
	}
	return nil
}

// IncrementCompilationTries bumps and returns the new try count.
func (r *UserTestResultRepo) IncrementCompilationTries(ctx domain.Context, userTestID, datasetID string) (int, error) {
	return r.incrementTries(ctx, "compilation_tries", userTestID, datasetID)
}

// IncrementEvaluationTries bumps and returns the new try count.
func (r *UserTestResultRepo) IncrementEvaluationTries(ctx domain.Context, userTestID, datasetID string) (int, error) {
	return r.incrementTries(ctx, "evaluation_tries", userTestID, datasetID)
}

func (r *UserTestResultRepo) incrementTries(ctx domain.Context, column, userTestID, datasetID string) (int, error) {
	tracer := otel.Tracer("repo.user_test_results")
	ctx, span := tracer.Start(ctx, "user_test_results.IncrementTries")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE user_test_results SET ` + column + `=` + column + `+1, updated_at=now()
	      WHERE user_test_id=$1 AND dataset_id=$2
	      RETURNING ` + column
	var n int
	if err := r.Pool.QueryRow(ctx, q, userTestID, datasetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=user_test_result.increment_tries: %w", err)
	}
	return n, nil
}

var _ domain.UserTestResultRepository = (*UserTestResultRepo)(nil)
