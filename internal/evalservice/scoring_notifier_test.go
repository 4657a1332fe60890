package evalservice_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/evalservice"
	"github.com/cms-dev/cms/internal/rpc"
)

type newEvaluationReq struct {
	SubmissionID string `json:"submission_id"`
}

type submissionTokenedReq struct {
	SubmissionID string `json:"submission_id"`
	Timestamp    int64  `json:"timestamp"`
}

func startFakeScoringService(t *testing.T) (addr string, newEvalCount, tokenedCount *int32) {
	t.Helper()
	var evals, tokened int32

	reg := rpc.NewRegistry()
	reg.Register("new_evaluation", func(c *rpc.CallCtx) (any, []byte, error) {
		var req newEvaluationReq
		if err := c.BindJSON(&req); err != nil {
			return nil, nil, err
		}
		atomic.AddInt32(&evals, 1)
		return nil, nil, nil
	})
	reg.Register("submission_tokened", func(c *rpc.CallCtx) (any, []byte, error) {
		var req submissionTokenedReq
		if err := c.BindJSON(&req); err != nil {
			return nil, nil, err
		}
		atomic.AddInt32(&tokened, 1)
		return nil, nil, nil
	})

	srv := rpc.NewServer(domain.ServiceCoord{Name: "ScoringService", Shard: 0}, reg, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, "127.0.0.1:0") }()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.Addr().String(), &evals, &tokened
}

func TestRemoteScoringNotifierNewEvaluation(t *testing.T) {
	t.Parallel()
	addr, evals, _ := startFakeScoringService(t)

	client := rpc.NewClient(domain.ServiceCoord{Name: "ScoringService", Shard: 0}, addr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)
	t.Cleanup(func() { client.Close() })

	n := evalservice.NewRemoteScoringNotifier(client, nil)
	n.NewEvaluation("sub1")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(evals) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRemoteScoringNotifierSubmissionTokened(t *testing.T) {
	t.Parallel()
	addr, _, tokened := startFakeScoringService(t)

	client := rpc.NewClient(domain.ServiceCoord{Name: "ScoringService", Shard: 0}, addr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)
	t.Cleanup(func() { client.Close() })

	n := evalservice.NewRemoteScoringNotifier(client, nil)
	n.SubmissionTokened("sub1", time.Now())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(tokened) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRemoteScoringNotifierNoConnectionDoesNotPanic(t *testing.T) {
	t.Parallel()
	client := rpc.NewClient(domain.ServiceCoord{Name: "ScoringService", Shard: 0}, "127.0.0.1:1", nil)
	n := evalservice.NewRemoteScoringNotifier(client, nil)
	n.NewEvaluation("sub1")
}
