package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cms-dev/cms/internal/adapter/observability"
	"github.com/cms-dev/cms/internal/domain"
)

// Service is the Scoring Service (spec.md §4.G): one Scorer per task,
// fed by NewEvaluation/SubmissionTokened and relaying every change
// through a RankingClient.
type Service struct {
	submissions domain.SubmissionReader
	results     domain.SubmissionResultRepository
	tasks       domain.TaskRepository
	contests    domain.ContestRepository
	tokens      domain.TokenReader
	ranking     *RankingClient
	log         *slog.Logger

	mu      sync.Mutex
	scorers map[string]domain.Scorer // taskID -> Scorer
}

// Config bundles Service's dependencies.
type Config struct {
	Submissions domain.SubmissionReader
	Results     domain.SubmissionResultRepository
	Tasks       domain.TaskRepository
	Contests    domain.ContestRepository
	Tokens      domain.TokenReader
	Ranking     *RankingClient
	Log         *slog.Logger
}

// New builds a Service from cfg.
func New(cfg Config) *Service {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		submissions: cfg.Submissions,
		results:     cfg.Results,
		tasks:       cfg.Tasks,
		contests:    cfg.Contests,
		tokens:      cfg.Tokens,
		ranking:     cfg.Ranking,
		log:         log,
		scorers:     make(map[string]domain.Scorer),
	}
}

// isTokened reports whether submissionID has a played Token row
// (spec.md §4.G's add_submission "tokened" argument, matching the
// source's Submission.tokened()).
func (s *Service) isTokened(ctx domain.Context, submissionID string) (bool, error) {
	_, err := s.tokens.Get(ctx, submissionID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("scoring: load token %s: %w", submissionID, err)
}

func (s *Service) scorerFor(ctx domain.Context, taskID string) (domain.Scorer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scorers[taskID]; ok {
		return sc, nil
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("scoring: load task %s: %w", taskID, err)
	}
	sc, err := NewScorer(task.ScoreType, []byte(task.ScoreParameters))
	if err != nil {
		return nil, err
	}
	s.scorers[taskID] = sc
	return sc, nil
}

// NewEvaluation implements the new_evaluation RPC (spec.md §4.G: "loads
// the submission and its evaluations for the active dataset"): the
// dataset isn't a caller-supplied argument, it's resolved from the
// submission's task the same way ES resolves it for Compile/Evaluate
// jobs.
func (s *Service) NewEvaluation(ctx domain.Context, submissionID string) error {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("scoring: load submission %s: %w", submissionID, err)
	}
	dataset, err := s.tasks.ActiveDataset(ctx, sub.TaskID)
	if err != nil {
		return fmt.Errorf("scoring: load active dataset for task %s: %w", sub.TaskID, err)
	}
	datasetID := dataset.ID
	evals, err := s.results.GetEvaluations(ctx, submissionID, datasetID)
	if err != nil {
		return fmt.Errorf("scoring: load evaluations %s/%s: %w", submissionID, datasetID, err)
	}
	outcomes := make([]float64, len(evals))
	for i, ev := range evals {
		var o float64
		if _, err := fmt.Sscanf(ev.Outcome, "%f", &o); err != nil {
			return fmt.Errorf("%w: scoring: evaluation outcome %q isn't numeric", domain.ErrInvalidArgument, ev.Outcome)
		}
		outcomes[i] = o
	}

	scorer, err := s.scorerFor(ctx, sub.TaskID)
	if err != nil {
		return err
	}

	participation, err := s.contests.GetParticipation(ctx, sub.ParticipationID)
	if err != nil {
		return fmt.Errorf("scoring: load participation %s: %w", sub.ParticipationID, err)
	}
	tokened, err := s.isTokened(ctx, submissionID)
	if err != nil {
		return err
	}

	res, err := scorer.AddSubmission(ctx, submissionID, sub.Timestamp.Unix(), participation.Username, outcomes, tokened)
	if err != nil {
		return fmt.Errorf("scoring: score submission %s: %w", submissionID, err)
	}

	if err := s.results.UpdateScore(ctx, submissionID, datasetID, res.Score, res.PublicScore, res.Details, res.PublicDetails); err != nil {
		return fmt.Errorf("scoring: write score %s/%s: %w", submissionID, datasetID, err)
	}
	observability.RecordTaskScoreForDrift(sub.TaskID, datasetID, res.Score)

	if s.ranking != nil {
		task, err := s.tasks.GetTask(ctx, sub.TaskID)
		if err != nil {
			return fmt.Errorf("scoring: load task %s: %w", sub.TaskID, err)
		}
		s.ranking.PutSubmission(submissionID, participation.Username, task.Name, sub.Timestamp.Unix())
		s.ranking.PutScoreChange(submissionID, sub.Timestamp.Unix(), res.Score, res.Details)
	}
	return nil
}

// SubmissionTokened implements the submission_tokened RPC (spec.md
// §4.G): enqueues a token update for the ranking. A zero timestamp
// (Unix seconds) is replaced by the token row's own timestamp.
func (s *Service) SubmissionTokened(ctx domain.Context, submissionID string, timestamp int64) error {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("scoring: load submission %s: %w", submissionID, err)
	}
	if s.ranking == nil {
		return nil
	}
	if timestamp == 0 {
		if tok, err := s.tokens.Get(ctx, submissionID); err == nil {
			timestamp = tok.Timestamp.Unix()
		}
	}
	participation, err := s.contests.GetParticipation(ctx, sub.ParticipationID)
	if err != nil {
		return fmt.Errorf("scoring: load participation %s: %w", sub.ParticipationID, err)
	}
	task, err := s.tasks.GetTask(ctx, sub.TaskID)
	if err != nil {
		return fmt.Errorf("scoring: load task %s: %w", sub.TaskID, err)
	}
	s.ranking.PutSubmission(submissionID, participation.Username, task.Name, sub.Timestamp.Unix())
	s.ranking.PutTokenChange(submissionID, timestamp)
	return nil
}

// Sweep scans contestID for evaluated-but-not-scored submissions and
// scores them (spec.md §4.G's ~6min periodic sweep, grounded on
// internal/app/stuck_jobs.go). It lists the contest's results with one
// ListByContest call, without paging. Only results against each task's
// currently active dataset are swept, the same scope the ranking
// reflects. Tokened submissions are not re-relayed: TokenReader exposes
// no "list tokened since" query.
func (s *Service) Sweep(ctx domain.Context, contestID string) (int, error) {
	results, err := s.results.ListByContest(ctx, contestID)
	if err != nil {
		return 0, fmt.Errorf("scoring: list submission results for %s: %w", contestID, err)
	}
	scored := 0
	for _, r := range results {
		if r.EvaluationOutcome != domain.EvaluationOK || r.Scored {
			continue
		}
		sub, err := s.submissions.Get(ctx, r.SubmissionID)
		if err != nil {
			s.log.Warn("sweep: load submission failed", "submission", r.SubmissionID, "error", err)
			continue
		}
		active, err := s.tasks.ActiveDataset(ctx, sub.TaskID)
		if err != nil || active.ID != r.DatasetID {
			continue
		}
		if err := s.NewEvaluation(ctx, r.SubmissionID); err != nil {
			s.log.Warn("sweep: scoring failed", "submission", r.SubmissionID, "dataset", r.DatasetID, "error", err)
			continue
		}
		scored++
	}
	return scored, nil
}
