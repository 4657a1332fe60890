package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cms-dev/cms/internal/domain"
)

// ContestRepo is a read-only view onto the contests/participations
// tables, owned and written by CWS (out of scope): domain.
// ContestRepository's only implementation.
type ContestRepo struct{ Pool PgxPool }

// NewContestRepo constructs a ContestRepo with the given pool.
func NewContestRepo(p PgxPool) *ContestRepo { return &ContestRepo{Pool: p} }

// GetContest loads a contest by id.
func (r *ContestRepo) GetContest(ctx domain.Context, id string) (domain.Contest, error) {
	tracer := otel.Tracer("repo.contests")
	ctx, span := tracer.Start(ctx, "contests.GetContest")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "contests"),
	)
	q := `SELECT id, name, start, stop, per_user_time_seconds, token_initial, token_max, token_total,
	             token_min_interval_seconds, token_gen_interval_seconds
	      FROM contests WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var c domain.Contest
	var perUserSecs, minIntervalSecs, genIntervalSecs int64
	if err := row.Scan(&c.ID, &c.Name, &c.Start, &c.Stop, &perUserSecs, &c.TokenInitial, &c.TokenMax,
		&c.TokenTotal, &minIntervalSecs, &genIntervalSecs); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Contest{}, fmt.Errorf("op=contest.get: %w", domain.ErrNotFound)
		}
		return domain.Contest{}, fmt.Errorf("op=contest.get: %w", err)
	}
	c.PerUserTime = secondsToDuration(perUserSecs)
	c.TokenMinInterval = secondsToDuration(minIntervalSecs)
	c.TokenGenInterval = secondsToDuration(genIntervalSecs)
	return c, nil
}

// GetParticipation loads a participation by id.
func (r *ContestRepo) GetParticipation(ctx domain.Context, id string) (domain.Participation, error) {
	tracer := otel.Tracer("repo.contests")
	ctx, span := tracer.Start(ctx, "contests.GetParticipation")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "participations"),
	)
	q := `SELECT id, contest_id, user_id, username, time_deltas_seconds, unrestricted
	      FROM participations WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var p domain.Participation
	var deltasJSON []byte
	if err := row.Scan(&p.ID, &p.ContestID, &p.UserID, &p.Username, &deltasJSON, &p.Unrestricted); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Participation{}, fmt.Errorf("op=contest.get_participation: %w", domain.ErrNotFound)
		}
		return domain.Participation{}, fmt.Errorf("op=contest.get_participation: %w", err)
	}
	var deltaSecs []int64
	if err := json.Unmarshal(deltasJSON, &deltaSecs); err != nil {
		return domain.Participation{}, fmt.Errorf("op=contest.get_participation: decode time_deltas: %w", err)
	}
	for _, s := range deltaSecs {
		p.TimeDeltas = append(p.TimeDeltas, secondsToDuration(s))
	}
	return p, nil
}

// ListParticipations returns every participation in contestID (used by
// RankingClient.Init's startup bootstrap).
func (r *ContestRepo) ListParticipations(ctx domain.Context, contestID string) ([]domain.Participation, error) {
	tracer := otel.Tracer("repo.contests")
	ctx, span := tracer.Start(ctx, "contests.ListParticipations")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "participations"),
	)
	q := `SELECT id, contest_id, user_id, username, time_deltas_seconds, unrestricted
	      FROM participations WHERE contest_id=$1`
	rows, err := r.Pool.Query(ctx, q, contestID)
	if err != nil {
		return nil, fmt.Errorf("op=contest.list_participations: %w", err)
	}
	defer rows.Close()

	var out []domain.Participation
	for rows.Next() {
		var p domain.Participation
		var deltasJSON []byte
		if err := rows.Scan(&p.ID, &p.ContestID, &p.UserID, &p.Username, &deltasJSON, &p.Unrestricted); err != nil {
			return nil, fmt.Errorf("op=contest.list_participations_scan: %w", err)
		}
		var deltaSecs []int64
		if err := json.Unmarshal(deltasJSON, &deltaSecs); err != nil {
			return nil, fmt.Errorf("op=contest.list_participations: decode time_deltas: %w", err)
		}
		for _, s := range deltaSecs {
			p.TimeDeltas = append(p.TimeDeltas, secondsToDuration(s))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=contest.list_participations_rows: %w", err)
	}
	return out, nil
}

var _ domain.ContestRepository = (*ContestRepo)(nil)
