package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// TokenRepo is a read-only view onto the tokens table, owned and written
// by CWS (out of scope): domain.TokenReader's only implementation.
type TokenRepo struct{ Pool PgxPool }

// NewTokenRepo constructs a TokenRepo with the given pool.
func NewTokenRepo(p PgxPool) *TokenRepo { return &TokenRepo{Pool: p} }

// Get loads the token played against submissionID, if any.
func (r *TokenRepo) Get(ctx domain.Context, submissionID string) (domain.Token, error) {
	tracer := otel.Tracer("repo.tokens")
	ctx, span := tracer.Start(ctx, "tokens.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "tokens"),
	)
	q := `SELECT submission_id, timestamp FROM tokens WHERE submission_id=$1`
	row := r.Pool.QueryRow(ctx, q, submissionID)
	var t domain.Token
	if err := row.Scan(&t.SubmissionID, &t.Timestamp); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Token{}, fmt.Errorf("op=token.get: %w", domain.ErrNotFound)
		}
		return domain.Token{}, fmt.Errorf("op=token.get: %w", err)
	}
	return t, nil
}

var _ domain.TokenReader = (*TokenRepo)(nil)
