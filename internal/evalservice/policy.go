// Package evalservice implements the Evaluation Service (spec.md §4.E): the
// dispatcher owning the Job Queue and Worker Pool, the compile/evaluate
// transition and priority policy, and invalidation handling.
package evalservice

import (
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// compilePriority is always High for a freshly submitted entity, unless the
// dataset is inactive, in which case every job for it is ExtraLow regardless
// of kind (spec.md §4.E: "Inactive datasets always get priority ExtraLow").
func compilePriority(active bool) domain.Priority {
	if !active {
		return domain.PriorityExtraLow
	}
	return domain.PriorityHigh
}

// evaluatePriority is Medium when the submission carries a token, Low
// otherwise, again overridden to ExtraLow for an inactive dataset.
func evaluatePriority(active, tokened bool) domain.Priority {
	if !active {
		return domain.PriorityExtraLow
	}
	if tokened {
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

// evaluationJobsForCompile returns the (Evaluate, sid, dataset, testcase)
// jobs to enqueue after a successful compile, skipping any testcase that
// already has a non-pending Evaluation row (spec.md §4.E: "a testcase
// already present in the result is skipped").
func evaluationJobsForCompile(kind domain.JobKind, entityID, datasetID string, testcases []domain.Testcase, done map[string]bool, active, tokened bool) []pendingJob {
	evalKind := domain.JobEvaluate
	if kind == domain.JobTestCompile {
		evalKind = domain.JobTestEvaluate
	}
	priority := evaluatePriority(active, tokened)

	if evalKind == domain.JobTestEvaluate {
		// A user test has a single evaluation per dataset, not one per
		// testcase (spec.md §4.E).
		return []pendingJob{{
			job:      domain.Job{Kind: evalKind, EntityID: entityID, DatasetID: datasetID},
			priority: priority,
		}}
	}

	out := make([]pendingJob, 0, len(testcases))
	for _, tc := range testcases {
		if done[tc.Codename] {
			continue
		}
		out = append(out, pendingJob{
			job: domain.Job{
				Kind:             evalKind,
				EntityID:         entityID,
				DatasetID:        datasetID,
				TestcaseCodename: tc.Codename,
			},
			priority: priority,
		})
	}
	return out
}

// pendingJob is a job paired with the priority it should be enqueued at.
type pendingJob struct {
	job      domain.Job
	priority domain.Priority
}

// requeuePriority decides whether an infrastructure failure should be
// retried, and at what priority, given the tries already recorded and the
// configured cap. The spec's try-cap comparator is strict "<": a job whose
// tries already equals the max is exhausted (resolved Open Question (b)).
func requeuePriority(kind domain.JobKind, tries, maxTries int) (domain.Priority, bool) {
	if tries >= maxTries {
		return 0, false
	}
	switch kind {
	case domain.JobCompile, domain.JobTestCompile:
		return domain.PriorityMedium, true
	default:
		return domain.PriorityLow, true
	}
}

// sideDataFor builds the SideData a Worker Pool slot (or a requeued Job
// Queue entry) carries alongside a Job.
func sideDataFor(priority domain.Priority, timestamp time.Time) domain.SideData {
	return domain.SideData{Priority: priority, Timestamp: timestamp}
}
