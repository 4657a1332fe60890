package scoring

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cms-dev/cms/internal/domain"
)

// registry is the closed tagged variant from spec.md §4.G: one
// constructor per Scorer implementation, keyed by Task.ScoreType.
var registry = map[string]func(params json.RawMessage) (domain.Scorer, error){
	"Sum":      newSum,
	"GroupMin": newGroup(groupMin),
	"GroupMul": newGroup(groupMul),
	"Relative": newRelative,
}

// NewScorer looks up taskType in the registry and constructs it with the
// task's opaque ScoreParameters blob.
func NewScorer(taskType string, params json.RawMessage) (domain.Scorer, error) {
	ctor, ok := registry[taskType]
	if !ok {
		return nil, fmt.Errorf("scoring: unknown score type %q", taskType)
	}
	return ctor(params)
}

// parseGroups decodes the [[multiplier, count], ...] shape GroupMin,
// GroupMul and Relative all share.
func parseGroups(params json.RawMessage) ([]subtaskGroup, error) {
	var raw [][2]float64
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, fmt.Errorf("scoring: group score parameters: %w", err)
	}
	groups := make([]subtaskGroup, len(raw))
	for i, g := range raw {
		groups[i] = subtaskGroup{Multiplier: g[0], Count: int(g[1])}
	}
	return groups, nil
}

// splitOutcomes slices outcomes into one chunk per group, in order. An
// outcomes slice shorter than the groups' combined count is an invalid
// argument: the caller handed us a submission that isn't fully evaluated.
func splitOutcomes(outcomes []float64, groups []subtaskGroup) ([][]float64, error) {
	chunks := make([][]float64, len(groups))
	pos := 0
	for i, g := range groups {
		if pos+g.Count > len(outcomes) {
			return nil, fmt.Errorf("%w: scoring: expected at least %d outcomes for group %d, got %d", domain.ErrInvalidArgument, pos+g.Count, i, len(outcomes))
		}
		chunks[i] = outcomes[pos : pos+g.Count]
		pos += g.Count
	}
	return chunks, nil
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func groupMin(xs []float64) float64 { return minOf(xs) }

func groupMul(xs []float64) float64 {
	p := 1.0
	for _, x := range xs {
		p *= x
	}
	return p
}

// --- Sum ---

type sumScorer struct {
	maxScore float64

	mu   sync.Mutex
	pool map[string]domain.ScoreResult
}

func newSum(params json.RawMessage) (domain.Scorer, error) {
	var maxScore float64
	if err := json.Unmarshal(params, &maxScore); err != nil {
		return nil, fmt.Errorf("scoring: sum score parameters: %w", err)
	}
	return &sumScorer{maxScore: maxScore, pool: make(map[string]domain.ScoreResult)}, nil
}

// AddSubmission implements domain.Scorer: score = mean(outcomes) *
// maxScore, the source's ScoreTypeSum formula (a single testcase's
// outcome is a fraction in [0, 1]).
func (s *sumScorer) AddSubmission(ctx domain.Context, submissionID string, timestamp int64, username string, outcomes []float64, tokened bool) (domain.ScoreResult, error) {
	if len(outcomes) == 0 {
		return domain.ScoreResult{}, fmt.Errorf("%w: scoring: sum score needs at least one outcome", domain.ErrInvalidArgument)
	}
	var total float64
	for _, o := range outcomes {
		total += o
	}
	score := total / float64(len(outcomes)) * s.maxScore

	details, err := json.Marshal(outcomes)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	res := domain.ScoreResult{Score: score, PublicScore: score, Details: string(details), PublicDetails: string(details)}

	s.mu.Lock()
	s.pool[submissionID] = res
	s.mu.Unlock()
	return res, nil
}

// --- GroupMin / GroupMul ---

type groupScorer struct {
	groups  []subtaskGroup
	combine func([]float64) float64

	mu   sync.Mutex
	pool map[string]domain.ScoreResult
}

func newGroup(combine func([]float64) float64) func(json.RawMessage) (domain.Scorer, error) {
	return func(params json.RawMessage) (domain.Scorer, error) {
		groups, err := parseGroups(params)
		if err != nil {
			return nil, err
		}
		return &groupScorer{groups: groups, combine: combine, pool: make(map[string]domain.ScoreResult)}, nil
	}
}

type groupDetail struct {
	Score      float64 `json:"score"`
	Multiplier float64 `json:"multiplier"`
}

// AddSubmission implements domain.Scorer: each group's outcomes are
// combined (min for GroupMin, product for GroupMul) then scaled by the
// group's multiplier; the submission's score is the sum across groups,
// matching the source's ScoreTypeGroup subclasses.
func (g *groupScorer) AddSubmission(ctx domain.Context, submissionID string, timestamp int64, username string, outcomes []float64, tokened bool) (domain.ScoreResult, error) {
	chunks, err := splitOutcomes(outcomes, g.groups)
	if err != nil {
		return domain.ScoreResult{}, err
	}

	details := make([]groupDetail, len(g.groups))
	var total float64
	for i, chunk := range chunks {
		groupScore := g.combine(chunk) * g.groups[i].Multiplier
		details[i] = groupDetail{Score: groupScore, Multiplier: g.groups[i].Multiplier}
		total += groupScore
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	res := domain.ScoreResult{Score: total, PublicScore: total, Details: string(detailsJSON), PublicDetails: string(detailsJSON)}

	g.mu.Lock()
	g.pool[submissionID] = res
	g.mu.Unlock()
	return res, nil
}

// --- Relative ---

// relativeScorer scores each group relative to the best result any
// submission to this task has achieved on that group so far (spec.md
// §4.G: "the actual formula... is a variant not specified here" —
// simplified here to track the running best per group in memory rather
// than recomputing every other submission's score on every update, which
// is what the source's ScoreTypeAlone.update_scores does across the
// whole ranking view).
type relativeScorer struct {
	groups []subtaskGroup

	mu       sync.Mutex
	bestSeen []float64 // best combined-outcome seen per group so far
	pool     map[string]domain.ScoreResult
}

func newRelative(params json.RawMessage) (domain.Scorer, error) {
	groups, err := parseGroups(params)
	if err != nil {
		return nil, err
	}
	return &relativeScorer{groups: groups, bestSeen: make([]float64, len(groups)), pool: make(map[string]domain.ScoreResult)}, nil
}

func (r *relativeScorer) AddSubmission(ctx domain.Context, submissionID string, timestamp int64, username string, outcomes []float64, tokened bool) (domain.ScoreResult, error) {
	chunks, err := splitOutcomes(outcomes, r.groups)
	if err != nil {
		return domain.ScoreResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	details := make([]groupDetail, len(r.groups))
	var total float64
	for i, chunk := range chunks {
		raw := groupMin(chunk)
		if raw > r.bestSeen[i] {
			r.bestSeen[i] = raw
		}
		var relative float64
		if r.bestSeen[i] > 0 {
			relative = raw / r.bestSeen[i]
		}
		groupScore := relative * r.groups[i].Multiplier
		details[i] = groupDetail{Score: groupScore, Multiplier: r.groups[i].Multiplier}
		total += groupScore
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	res := domain.ScoreResult{Score: total, PublicScore: total, Details: string(detailsJSON), PublicDetails: string(detailsJSON)}
	r.pool[submissionID] = res
	return res, nil
}
