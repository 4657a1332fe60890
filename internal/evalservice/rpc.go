package evalservice

import (
	"time"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/rpc"
)

// Evaluation Service method names (spec.md §6, Service surface).
const (
	MethodNewSubmission        = "new_submission"
	MethodNewUserTest          = "new_user_test"
	MethodSubmissionTokened    = "submission_tokened"
	MethodInvalidateSubmission = "invalidate_submission"
	MethodWorkersStatus        = "workers_status"
	MethodQueueStatus          = "queue_status"
	MethodSubmissionsStatus    = "submissions_status"
)

type idArg struct {
	ID string `json:"id"`
}

type submissionTokenedArg struct {
	SubmissionID string    `json:"submission_id"`
	Timestamp    time.Time `json:"timestamp"`
}

type invalidateSubmissionArg struct {
	ContestID       string `json:"contest_id,omitempty"`
	SubmissionID    string `json:"submission_id,omitempty"`
	ParticipationID string `json:"participation_id,omitempty"`
	TaskID          string `json:"task_id,omitempty"`
	DatasetID       string `json:"dataset_id,omitempty"`
	Level           string `json:"level"`
}

type submissionsStatusArg struct {
	ContestID string `json:"contest_id"`
}

type queueEntryDTO struct {
	Priority  int       `json:"priority"`
	Job       jobDTO    `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

type jobDTO struct {
	Kind             string `json:"kind"`
	EntityID         string `json:"entity_id"`
	DatasetID        string `json:"dataset_id"`
	TestcaseCodename string `json:"testcase_codename,omitempty"`
}

type slotDTO struct {
	Name  string `json:"name"`
	Shard int    `json:"shard"`
	State string `json:"state"`
	Job   jobDTO `json:"job"`
}

// Register wires Service's RPC surface onto reg. Every method here is a
// synchronous, in-process operation against the Queue/Pool/repositories,
// so none needs the Threaded flag.
func Register(reg *rpc.Registry, s *Service) {
	reg.Register(MethodNewSubmission, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg idArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.NewSubmission(c.Ctx, arg.ID)
	})

	reg.Register(MethodNewUserTest, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg idArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.NewUserTest(c.Ctx, arg.ID)
	})

	reg.Register(MethodSubmissionTokened, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg submissionTokenedArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.SubmissionTokened(c.Ctx, arg.SubmissionID)
	})

	reg.Register(MethodInvalidateSubmission, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg invalidateSubmissionArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		sel := domain.InvalidationSelectors{
			ContestID:       arg.ContestID,
			SubmissionID:    arg.SubmissionID,
			ParticipationID: arg.ParticipationID,
			TaskID:          arg.TaskID,
			DatasetID:       arg.DatasetID,
			Level:           domain.InvalidationLevel(arg.Level),
		}
		return nil, nil, s.InvalidateSubmission(c.Ctx, sel)
	})

	reg.Register(MethodWorkersStatus, func(c *rpc.CallCtx) (any, []byte, error) {
		slots := s.WorkersStatus()
		out := make([]slotDTO, len(slots))
		for i, sl := range slots {
			out[i] = slotDTO{Name: sl.Coord.Name, Shard: sl.Coord.Shard, State: sl.State.String(), Job: toJobDTO(sl.Job)}
		}
		return out, nil, nil
	})

	reg.Register(MethodQueueStatus, func(c *rpc.CallCtx) (any, []byte, error) {
		entries := s.QueueStatus()
		out := make([]queueEntryDTO, len(entries))
		for i, e := range entries {
			out[i] = queueEntryDTO{Priority: int(e.Priority), Job: toJobDTO(e.Job), Timestamp: e.Timestamp}
		}
		return out, nil, nil
	})

	reg.Register(MethodSubmissionsStatus, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg submissionsStatusArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		results, err := s.SubmissionsStatus(c.Ctx, arg.ContestID)
		return results, nil, err
	})
}

func toJobDTO(j domain.Job) jobDTO {
	return jobDTO{Kind: string(j.Kind), EntityID: j.EntityID, DatasetID: j.DatasetID, TestcaseCodename: j.TestcaseCodename}
}
