package evalservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/gradepool"
	"github.com/cms-dev/cms/internal/rpc"
)

// Worker method names (spec.md §6, Service surface).
const (
	methodExecuteJob     = "execute_job"
	methodPrecacheFiles  = "precache_files"
	methodIgnoreJob      = "ignore_job"
	methodQuit           = "quit"
	callTimeout          = 10 * time.Minute // a compile/evaluate job may run long
)

// executeJobArg is the wire shape of execute_job's job_dict argument.
type executeJobArg struct {
	Kind             string `json:"kind"`
	EntityID         string `json:"entity_id"`
	DatasetID        string `json:"dataset_id"`
	TestcaseCodename string `json:"testcase_codename,omitempty"`
}

type executeJobResp struct {
	InfrastructureFailure bool               `json:"infrastructure_failure,omitempty"`
	FailureReason         string             `json:"failure_reason,omitempty"`
	Compilation           *CompilationResult `json:"compilation,omitempty"`
	Evaluation            *EvaluationResult  `json:"evaluation,omitempty"`
}

// RemoteWorkerPool is the evalservice.WorkerClient implementation: one
// reconnecting internal/rpc.Client per Worker shard, wired so each
// connection's OnConnect hook triggers precache_files and marks the
// Worker Pool slot connected, and OnDisconnect marks it unreachable
// (spec.md §4.A "Reconnection", §4.F "Precache").
type RemoteWorkerPool struct {
	mu        sync.Mutex
	clients   map[domain.ServiceCoord]*rpc.Client
	pool      *gradepool.Pool
	contestID string
	log       *slog.Logger
}

// NewRemoteWorkerPool returns an empty RemoteWorkerPool. contestID is
// passed to each Worker's precache_files call on connect.
func NewRemoteWorkerPool(pool *gradepool.Pool, contestID string, log *slog.Logger) *RemoteWorkerPool {
	if log == nil {
		log = slog.Default()
	}
	return &RemoteWorkerPool{clients: make(map[domain.ServiceCoord]*rpc.Client), pool: pool, contestID: contestID, log: log}
}

// AddWorker starts a reconnecting client to coord at addr and registers it
// with the Worker Pool.
func (w *RemoteWorkerPool) AddWorker(ctx context.Context, coord domain.ServiceCoord, addr string) {
	w.pool.AddWorker(coord)
	w.pool.SetConnected(coord, false)

	c := rpc.NewClient(coord, addr, w.log)
	c.OnConnect = func(p *rpc.Peer) {
		w.pool.SetConnected(coord, true)
		if err := p.Notify(methodPrecacheFiles, map[string]string{"contest_id": w.contestID}); err != nil {
			w.log.Warn("precache_files notify failed", "coord", coord, "error", err)
		}
	}
	c.OnDisconnect = func(*rpc.Peer) {
		w.pool.SetConnected(coord, false)
	}

	w.mu.Lock()
	w.clients[coord] = c
	w.mu.Unlock()

	go c.Start(ctx)
}

// ExecuteJob implements WorkerClient.
func (w *RemoteWorkerPool) ExecuteJob(coord domain.ServiceCoord, job domain.Job, side domain.SideData, done func(ActionResult, error)) {
	w.mu.Lock()
	c := w.clients[coord]
	w.mu.Unlock()
	if c == nil {
		go done(ActionResult{}, domain.ErrNotFound)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		peer, err := c.Peer(ctx)
		if err != nil {
			done(ActionResult{}, err)
			return
		}
		var resp executeJobResp
		arg := executeJobArg{Kind: string(job.Kind), EntityID: job.EntityID, DatasetID: job.DatasetID, TestcaseCodename: job.TestcaseCodename}
		if err := peer.CallSync(ctx, methodExecuteJob, arg, &resp); err != nil {
			done(ActionResult{}, err)
			return
		}
		done(ActionResult{
			InfrastructureFailure: resp.InfrastructureFailure,
			FailureReason:         resp.FailureReason,
			Compilation:           resp.Compilation,
			Evaluation:            resp.Evaluation,
		}, nil)
	}()
}

// SendQuit implements WorkerClient.
func (w *RemoteWorkerPool) SendQuit(coord domain.ServiceCoord, reason string) {
	w.mu.Lock()
	c := w.clients[coord]
	w.mu.Unlock()
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer, err := c.Peer(ctx)
	if err != nil {
		return
	}
	if err := peer.Notify(methodQuit, map[string]string{"reason": reason}); err != nil {
		w.log.Warn("quit notify failed", "coord", coord, "error", err)
	}
}
