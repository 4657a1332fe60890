package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// TaskRepo is a read-only view onto the tasks/datasets tables, owned and
// written by admin tooling (out of scope): domain.TaskRepository's only
// implementation.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

// GetTask loads a task by id.
func (r *TaskRepo) GetTask(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.GetTask")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "tasks"),
	)
	q := `SELECT id, contest_id, name, title, submission_format, task_type, task_type_params,
	             score_type, score_parameters, active_dataset_id
	      FROM tasks WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var t domain.Task
	var formatJSON []byte
	if err := row.Scan(&t.ID, &t.ContestID, &t.Name, &t.Title, &formatJSON, &t.TaskType, &t.TaskTypeParams,
		&t.ScoreType, &t.ScoreParameters, &t.ActiveDatasetID); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	if err := json.Unmarshal(formatJSON, &t.SubmissionFormat); err != nil {
		return domain.Task{}, fmt.Errorf("op=task.get: decode submission_format: %w", err)
	}
	return t, nil
}

// GetDataset loads a dataset by id, including its managers and testcases.
func (r *TaskRepo) GetDataset(ctx domain.Context, id string) (domain.Dataset, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.GetDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "datasets"),
	)
	q := `SELECT id, task_id, description, time_limit_seconds, memory_limit_bytes, managers, testcases, autojudge
	      FROM datasets WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	return scanDataset(row)
}

func scanDataset(row pgx.Row) (domain.Dataset, error) {
	var d domain.Dataset
	var timeLimitSecs int64
	var managersJSON, testcasesJSON []byte
	if err := row.Scan(&d.ID, &d.TaskID, &d.Description, &timeLimitSecs, &d.MemoryLimitBytes,
		&managersJSON, &testcasesJSON, &d.Autojudge); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Dataset{}, fmt.Errorf("op=task.get_dataset: %w", domain.ErrNotFound)
		}
		return domain.Dataset{}, fmt.Errorf("op=task.get_dataset: %w", err)
	}
	d.TimeLimit = secondsToDuration(timeLimitSecs)
	if err := json.Unmarshal(managersJSON, &d.Managers); err != nil {
		return domain.Dataset{}, fmt.Errorf("op=task.get_dataset: decode managers: %w", err)
	}
	if err := json.Unmarshal(testcasesJSON, &d.Testcases); err != nil {
		return domain.Dataset{}, fmt.Errorf("op=task.get_dataset: decode testcases: %w", err)
	}
	return d, nil
}

// ActiveDataset resolves taskID's active dataset in one round trip.
func (r *TaskRepo) ActiveDataset(ctx domain.Context, taskID string) (domain.Dataset, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ActiveDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "datasets"),
	)
	q := `SELECT d.id, d.task_id, d.description, d.time_limit_seconds, d.memory_limit_bytes,
	             d.managers, d.testcases, d.autojudge
	      FROM datasets d JOIN tasks t ON t.active_dataset_id = d.id
	      WHERE t.id = $1`
	row := r.Pool.QueryRow(ctx, q, taskID)
	return scanDataset(row)
}

// ContestTasks returns every task belonging to contestID.
func (r *TaskRepo) ContestTasks(ctx domain.Context, contestID string) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ContestTasks")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "tasks"),
	)
	q := `SELECT id, contest_id, name, title, submission_format, task_type, task_type_params,
	             score_type, score_parameters, active_dataset_id
	      FROM tasks WHERE contest_id=$1 ORDER BY name ASC`
	rows, err := r.Pool.Query(ctx, q, contestID)
	if err != nil {
		return nil, fmt.Errorf("op=task.contest_tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		var formatJSON []byte
		if err := rows.Scan(&t.ID, &t.ContestID, &t.Name, &t.Title, &formatJSON, &t.TaskType, &t.TaskTypeParams,
			&t.ScoreType, &t.ScoreParameters, &t.ActiveDatasetID); err != nil {
			return nil, fmt.Errorf("op=task.contest_tasks_scan: %w", err)
		}
		if err := json.Unmarshal(formatJSON, &t.SubmissionFormat); err != nil {
			return nil, fmt.Errorf("op=task.contest_tasks: decode submission_format: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.contest_tasks_rows: %w", err)
	}
	return out, nil
}

var _ domain.TaskRepository = (*TaskRepo)(nil)
