package scoring

import (
	"github.com/cms-dev/cms/internal/rpc"
)

// Scoring Service method names (spec.md §6, Service surface).
const (
	MethodNewEvaluation     = "new_evaluation"
	MethodSubmissionTokened = "submission_tokened"
)

type newEvaluationArg struct {
	SubmissionID string `json:"submission_id"`
}

type submissionTokenedArg struct {
	SubmissionID string `json:"submission_id"`
	Timestamp    int64  `json:"timestamp"`
}

// Register wires Service's two-method RPC surface onto reg. Both touch
// the DB and the ranking queue, so both run threaded.
func Register(reg *rpc.Registry, s *Service) {
	reg.Register(MethodNewEvaluation, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg newEvaluationArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.NewEvaluation(c.Ctx, arg.SubmissionID)
	}, rpc.Threaded())

	reg.Register(MethodSubmissionTokened, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg submissionTokenedArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.SubmissionTokened(c.Ctx, arg.SubmissionID, arg.Timestamp)
	}, rpc.Threaded())
}
