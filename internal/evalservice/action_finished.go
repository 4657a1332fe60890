package evalservice

import (
	"context"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// ActionFinished implements action_finished(data, plus) (spec.md §4.E):
// releases coord's slot; if the slot had been flagged Ignore, discards res;
// otherwise increments the matching tries counter, writes back a
// successful result, and triggers the kind-specific follow-up (enqueue
// evaluations, notify the Scoring Service, or requeue on infrastructure
// failure). It is invoked from the callback WorkerClient.ExecuteJob
// delivers, not registered as an RPC method of its own.
func (s *Service) ActionFinished(coord domain.ServiceCoord, job domain.Job, side domain.SideData, res ActionResult, callErr error) {
	slotIgnored := false
	for _, slot := range s.Pool.Status() {
		if slot.Coord == coord {
			slotIgnored = slot.Ignore
			break
		}
	}
	s.Pool.Release(coord)

	if slotIgnored {
		s.Log.Info("discarding result for invalidated job", "job", job, "coord", coord)
		return
	}

	switch job.Kind {
	case domain.JobCompile:
		s.compileFinished(job, side, res, callErr)
	case domain.JobEvaluate:
		s.evaluateFinished(job, side, res, callErr)
	case domain.JobTestCompile:
		s.testCompileFinished(job, side, res, callErr)
	case domain.JobTestEvaluate:
		s.testEvaluateFinished(job, side, res, callErr)
	}
}

func (s *Service) compileFinished(job domain.Job, side domain.SideData, res ActionResult, callErr error) {
	bg := backgroundCtx()
	if callErr != nil || res.InfrastructureFailure {
		tries, _ := s.SubmissionRes.IncrementCompilationTries(bg, job.EntityID, job.DatasetID)
		if priority, ok := requeuePriority(job.Kind, tries, s.Config.MaxCompilationTries); ok {
			_ = s.Queue.Push(job, priority, side.Timestamp)
		} else {
			s.Log.Error("compilation tries exhausted", "submission", job.EntityID, "dataset", job.DatasetID)
		}
		return
	}

	r, err := s.SubmissionRes.GetOrCreate(bg, job.EntityID, job.DatasetID)
	if err != nil {
		s.Log.Error("compile_finished: failed to load submission result", "error", err)
		return
	}
	r.CompilationTries++
	r.CompilationOutcome = res.Compilation.Outcome
	r.CompilationText = res.Compilation.Text
	r.CompilationSandboxTrace = res.Compilation.SandboxTrace
	r.CompilationExecutables = res.Compilation.Executables
	if err := s.SubmissionRes.UpdateCompilation(bg, r); err != nil {
		s.Log.Error("compile_finished: failed to write back compilation", "error", err)
		return
	}

	if r.CompilationOutcome != domain.CompilationOK {
		return // spec.md §4.E: compile fail -> no evaluation jobs.
	}

	dataset, err := s.Tasks.GetDataset(bg, job.DatasetID)
	if err != nil {
		s.Log.Error("compile_finished: failed to load dataset", "error", err)
		return
	}
	tokened := s.isTokened(bg, job.EntityID)
	done := s.doneTestcases(bg, job.EntityID, job.DatasetID)
	for _, pj := range evaluationJobsForCompile(job.Kind, job.EntityID, job.DatasetID, dataset.Testcases, done, true, tokened) {
		_ = s.Queue.Push(pj.job, pj.priority, side.Timestamp)
	}
}

func (s *Service) evaluateFinished(job domain.Job, side domain.SideData, res ActionResult, callErr error) {
	bg := backgroundCtx()
	if callErr != nil || res.InfrastructureFailure {
		tries, _ := s.SubmissionRes.IncrementEvaluationTries(bg, job.EntityID, job.DatasetID)
		if priority, ok := requeuePriority(job.Kind, tries, s.Config.MaxEvaluationTries); ok {
			_ = s.Queue.Push(job, priority, side.Timestamp)
		} else {
			s.Log.Error("evaluation tries exhausted", "submission", job.EntityID, "dataset", job.DatasetID)
		}
		return
	}

	eval := domain.Evaluation{
		SubmissionID:     job.EntityID,
		DatasetID:        job.DatasetID,
		TestcaseCodename: job.TestcaseCodename,
		Outcome:          res.Evaluation.TestcaseOutcome,
		Text:             res.Evaluation.Text,
		ExecutionTime:    durationFromSeconds(res.Evaluation.ExecutionTime),
		MemoryUsedBytes:  res.Evaluation.MemoryUsedBytes,
		WallTime:         durationFromSeconds(res.Evaluation.WallTime),
		SandboxTrace:     res.Evaluation.SandboxTrace,
	}
	if err := s.SubmissionRes.UpdateEvaluation(bg, job.EntityID, job.DatasetID, []domain.Evaluation{eval}); err != nil {
		s.Log.Error("evaluate_finished: failed to write back evaluation", "error", err)
		return
	}

	if s.allEvaluationsDone(bg, job.EntityID, job.DatasetID) && s.ScoringNotifier != nil {
		s.ScoringNotifier.NewEvaluation(job.EntityID)
	}
}

func (s *Service) testCompileFinished(job domain.Job, side domain.SideData, res ActionResult, callErr error) {
	bg := backgroundCtx()
	if callErr != nil || res.InfrastructureFailure {
		tries, _ := s.UserTestRes.IncrementCompilationTries(bg, job.EntityID, job.DatasetID)
		if priority, ok := requeuePriority(job.Kind, tries, s.Config.MaxCompilationTries); ok {
			_ = s.Queue.Push(job, priority, side.Timestamp)
		}
		return
	}
	r, err := s.UserTestRes.GetOrCreate(bg, job.EntityID, job.DatasetID)
	if err != nil {
		return
	}
	r.CompilationTries++
	r.CompilationOutcome = res.Compilation.Outcome
	r.CompilationText = res.Compilation.Text
	r.CompilationExecutables = res.Compilation.Executables
	if err := s.UserTestRes.UpdateCompilation(bg, r); err != nil {
		s.Log.Error("test_compile_finished: failed to write back compilation", "error", err)
		return
	}
	if r.CompilationOutcome != domain.CompilationOK {
		return
	}
	_ = s.Queue.Push(domain.Job{Kind: domain.JobTestEvaluate, EntityID: job.EntityID, DatasetID: job.DatasetID}, domain.PriorityLow, side.Timestamp)
}

func (s *Service) testEvaluateFinished(job domain.Job, side domain.SideData, res ActionResult, callErr error) {
	bg := backgroundCtx()
	if callErr != nil || res.InfrastructureFailure {
		tries, _ := s.UserTestRes.IncrementEvaluationTries(bg, job.EntityID, job.DatasetID)
		if priority, ok := requeuePriority(job.Kind, tries, s.Config.MaxEvaluationTries); ok {
			_ = s.Queue.Push(job, priority, side.Timestamp)
		}
		return
	}
	r, err := s.UserTestRes.GetOrCreate(bg, job.EntityID, job.DatasetID)
	if err != nil {
		return
	}
	r.Text = res.Evaluation.Text
	r.ExecutionTime = durationFromSeconds(res.Evaluation.ExecutionTime)
	r.MemoryUsedBytes = res.Evaluation.MemoryUsedBytes
	r.OutputDigest = res.Evaluation.OutputDigest
	r.EvaluationOutcome = domain.EvaluationOK
	if err := s.UserTestRes.UpdateEvaluation(bg, r); err != nil {
		s.Log.Error("test_evaluate_finished: failed to write back evaluation", "error", err)
	}
}

func (s *Service) isTokened(ctx domain.Context, submissionID string) bool {
	if s.Tokens == nil {
		return false
	}
	_, err := s.Tokens.Get(ctx, submissionID)
	return err == nil
}

func (s *Service) doneTestcases(ctx domain.Context, submissionID, datasetID string) map[string]bool {
	done := map[string]bool{}
	evals, err := s.SubmissionRes.GetEvaluations(ctx, submissionID, datasetID)
	if err != nil {
		return done
	}
	for _, e := range evals {
		if e.Outcome != "" {
			done[e.TestcaseCodename] = true
		}
	}
	return done
}

func (s *Service) allEvaluationsDone(ctx domain.Context, submissionID, datasetID string) bool {
	dataset, err := s.Tasks.GetDataset(ctx, datasetID)
	if err != nil {
		return false
	}
	done := s.doneTestcases(ctx, submissionID, datasetID)
	for _, tc := range dataset.Testcases {
		if !done[tc.Codename] {
			return false
		}
	}
	return len(dataset.Testcases) > 0
}

func durationFromSeconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// backgroundCtx gives action_finished's write-back calls a context; the
// Worker's reply callback runs outside any inbound RPC's own context.
func backgroundCtx() domain.Context { return context.Background() }
