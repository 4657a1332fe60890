package evalservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/cms-dev/cms/internal/rpc"
)

// Scoring Service method names, duplicated from internal/scoring to avoid
// an import cycle (scoring doesn't import evalservice, but keeping the
// dependency one-directional here mirrors the source's ES->SS call, never
// the reverse).
const (
	methodNewEvaluation     = "new_evaluation"
	methodSubmissionTokened = "submission_tokened"
)

type newEvaluationArg struct {
	SubmissionID string `json:"submission_id"`
}

type submissionTokenedArg struct {
	SubmissionID string `json:"submission_id"`
	Timestamp    int64  `json:"timestamp"`
}

// RemoteScoringNotifier implements ScoringNotifier over a reconnecting
// internal/rpc.Client to the Scoring Service, matching the source's
// "ES notifies SS, fire-and-forget" relationship (spec.md §4.E/§4.G).
type RemoteScoringNotifier struct {
	client *rpc.Client
	log    *slog.Logger
}

// NewRemoteScoringNotifier wraps an already-started rpc.Client dialed to
// the Scoring Service.
func NewRemoteScoringNotifier(client *rpc.Client, log *slog.Logger) *RemoteScoringNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RemoteScoringNotifier{client: client, log: log}
}

// NewEvaluation implements ScoringNotifier.
func (n *RemoteScoringNotifier) NewEvaluation(submissionID string) {
	n.notify(methodNewEvaluation, newEvaluationArg{SubmissionID: submissionID})
}

// SubmissionTokened implements ScoringNotifier.
func (n *RemoteScoringNotifier) SubmissionTokened(submissionID string, timestamp time.Time) {
	n.notify(methodSubmissionTokened, submissionTokenedArg{SubmissionID: submissionID, Timestamp: timestamp.Unix()})
}

func (n *RemoteScoringNotifier) notify(method string, arg any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peer, err := n.client.Peer(ctx)
	if err != nil {
		n.log.Warn("scoring notify: no connection", "method", method, "error", err)
		return
	}
	if err := peer.Notify(method, arg); err != nil {
		n.log.Warn("scoring notify failed", "method", method, "error", err)
	}
}

var _ ScoringNotifier = (*RemoteScoringNotifier)(nil)
