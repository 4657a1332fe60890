package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// SubmissionRepo is a read-only view onto the submissions table, owned
// and written by CWS (out of scope): domain.SubmissionReader's only
// implementation.
type SubmissionRepo struct{ Pool PgxPool }

// NewSubmissionRepo constructs a SubmissionRepo with the given pool.
func NewSubmissionRepo(p PgxPool) *SubmissionRepo { return &SubmissionRepo{Pool: p} }

// Get loads a submission by id.
func (r *SubmissionRepo) Get(ctx domain.Context, id string) (domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "submissions"),
	)
	q := `SELECT id, task_id, participation_id, timestamp, language, files, official, comment
	      FROM submissions WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var s domain.Submission
	var filesJSON []byte
	if err := row.Scan(&s.ID, &s.TaskID, &s.ParticipationID, &s.Timestamp, &s.Language, &filesJSON, &s.Official, &s.Comment); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Submission{}, fmt.Errorf("op=submission.get: %w", domain.ErrNotFound)
		}
		return domain.Submission{}, fmt.Errorf("op=submission.get: %w", err)
	}
	if err := json.Unmarshal(filesJSON, &s.Files); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.get: decode files: %w", err)
	}
	return s, nil
}

// ListPendingSince returns submissions in contestID whose result rows are
// still missing compilation or evaluation for the task's active dataset
// (evalservice's sweep timer query, spec.md §4.E).
func (r *SubmissionRepo) ListPendingSince(ctx domain.Context, contestID string) ([]domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.ListPendingSince")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "submissions"),
	)
	q := `SELECT s.id, s.task_id, s.participation_id, s.timestamp, s.language, s.files, s.official, s.comment
	      FROM submissions s
	      JOIN tasks t ON t.id = s.task_id
	      LEFT JOIN submission_results r ON r.submission_id = s.id AND r.dataset_id = t.active_dataset_id
	      WHERE t.contest_id = $1
	        AND (r.submission_id IS NULL
	             OR r.compilation_outcome = ''
	             OR (r.compilation_outcome = 'ok' AND r.evaluation_outcome = ''))
	      ORDER BY s.timestamp ASC`
	rows, err := r.Pool.Query(ctx, q, contestID)
	if err != nil {
		return nil, fmt.Errorf("op=submission.list_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var filesJSON []byte
		if err := rows.Scan(&s.ID, &s.TaskID, &s.ParticipationID, &s.Timestamp, &s.Language, &filesJSON, &s.Official, &s.Comment); err != nil {
			return nil, fmt.Errorf("op=submission.list_pending_scan: %w", err)
		}
		if err := json.Unmarshal(filesJSON, &s.Files); err != nil {
			return nil, fmt.Errorf("op=submission.list_pending: decode files: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=submission.list_pending_rows: %w", err)
	}
	return out, nil
}

var _ domain.SubmissionReader = (*SubmissionRepo)(nil)
