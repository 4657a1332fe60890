package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// UserTestRepo is read-only: CWS is the sole writer of UserTest rows.
type UserTestRepo struct{ Pool PgxPool }

// NewUserTestRepo constructs a UserTestRepo with the given pool.
func NewUserTestRepo(p PgxPool) *UserTestRepo { return &UserTestRepo{Pool: p} }

func scanUserTest(row pgx.Row) (domain.UserTest, error) {
	var ut domain.UserTest
	var filesJSON, managersJSON []byte
	if err := row.Scan(&ut.ID, &ut.TaskID, &ut.ParticipationID, &ut.Timestamp, &ut.Language,
		&filesJSON, &ut.InputDigest, &managersJSON); err != nil {
		if err == pgx.ErrNoRows {
			return domain.UserTest{}, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return domain.UserTest{}, err
	}
	if err := json.Unmarshal(filesJSON, &ut.Files); err != nil {
		return domain.UserTest{}, fmt.Errorf("decode files: %w", err)
	}
	if len(managersJSON) > 0 {
		if err := json.Unmarshal(managersJSON, &ut.Managers); err != nil {
			return domain.UserTest{}, fmt.Errorf("decode managers: %w", err)
		}
	}
	return ut, nil
}

// Get loads a user test by id.
func (r *UserTestRepo) Get(ctx domain.Context, id string) (domain.UserTest, error) {
	tracer := otel.Tracer("repo.user_tests")
	ctx, span := tracer.Start(ctx, "user_tests.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "user_tests"))
	q := `SELECT id, task_id, participation_id, timestamp, language, files, input_digest, managers
	      FROM user_tests WHERE id=$1`
	ut, err := scanUserTest(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return domain.UserTest{}, fmt.Errorf("op=user_test.get: %w", err)
	}
	return ut, nil
}

// ListPendingSince returns user tests for contestID missing compilation or
// evaluation.
func (r *UserTestRepo) ListPendingSince(ctx domain.Context, contestID string) ([]domain.UserTest, error) {
	tracer := otel.Tracer("repo.user_tests")
	ctx, span := tracer.Start(ctx, "user_tests.ListPendingSince")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "user_tests"))
	q := `SELECT ut.id, ut.task_id, ut.participation_id, ut.timestamp, ut.language, ut.files, ut.input_digest, ut.managers
	      FROM user_tests ut
	      JOIN tasks t ON t.id = ut.task_id
	      LEFT JOIN user_test_results r ON r.user_test_id = ut.id
	      WHERE t.contest_id = $1
	        AND (r.user_test_id IS NULL OR r.compilation_outcome = '' OR (r.compilation_outcome = 'ok' AND r.evaluation_outcome = ''))`
	rows, err := r.Pool.Query(ctx, q, contestID)
	if err != nil {
		return nil, fmt.Errorf("op=user_test.list_pending_since: %w", err)
	}
	defer rows.Close()

	var out []domain.UserTest
	for rows.Next() {
		ut, err := scanUserTest(rows)
		if err != nil {
			return nil, fmt.Errorf("op=user_test.list_pending_since_scan: %w", err)
		}
		out = append(out, ut)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=user_test.list_pending_since_rows: %w", err)
	}
	return out, nil
}

var _ domain.UserTestReader = (*UserTestRepo)(nil)
