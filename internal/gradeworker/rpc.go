package gradeworker

import (
	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/rpc"
)

// Worker method names (spec.md §6, Service surface).
const (
	MethodExecuteJob    = "execute_job"
	MethodPrecacheFiles = "precache_files"
	MethodIgnoreJob     = "ignore_job"
	MethodQuit          = "quit"
)

type executeJobArg struct {
	Kind             string `json:"kind"`
	EntityID         string `json:"entity_id"`
	DatasetID        string `json:"dataset_id"`
	TestcaseCodename string `json:"testcase_codename,omitempty"`
}

type precacheFilesArg struct {
	ContestID string `json:"contest_id"`
}

type quitArg struct {
	Reason string `json:"reason"`
}

// Register wires Worker's RPC surface onto reg. execute_job and
// precache_files can run long, so both are dispatched onto the server's
// Threaded worker pool; ignore_job and quit are quick, in-process
// bookkeeping.
func Register(reg *rpc.Registry, w *Worker) {
	reg.Register(MethodExecuteJob, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg executeJobArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		job := domain.Job{
			Kind:             domain.JobKind(arg.Kind),
			EntityID:         arg.EntityID,
			DatasetID:        arg.DatasetID,
			TestcaseCodename: arg.TestcaseCodename,
		}
		res, err := w.ExecuteJob(c.Ctx, job)
		return res, nil, err
	}, rpc.Threaded())

	reg.Register(MethodPrecacheFiles, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg precacheFilesArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		return nil, nil, w.Precache(c.Ctx, arg.ContestID)
	}, rpc.Threaded())

	reg.Register(MethodIgnoreJob, func(c *rpc.CallCtx) (any, []byte, error) {
		w.IgnoreJob()
		return nil, nil, nil
	})

	reg.Register(MethodQuit, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg quitArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		w.Quit(arg.Reason)
		return nil, nil, nil
	})
}
