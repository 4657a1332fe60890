package gradeworker

import "context"

// Precache walks every task in contestID's active datasets and pulls
// each referenced file into the local Cacher (spec.md §4.F, mirroring
// Worker.py's precache_files: "for digest in contest.enumerate_files():
// self.FC.get_file(digest)").
func (w *Worker) Precache(ctx context.Context, contestID string) error {
	tasks, err := w.tasks.ContestTasks(ctx, contestID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		dataset, err := w.tasks.ActiveDataset(ctx, task.ID)
		if err != nil {
			w.log.Warn("precache: active dataset lookup failed", "task", task.ID, "error", err)
			continue
		}
		for _, tc := range dataset.Testcases {
			w.precacheDigest(ctx, tc.InputDigest)
			w.precacheDigest(ctx, tc.OutputDigest)
		}
		for _, m := range dataset.Managers {
			w.precacheDigest(ctx, m.Digest)
		}
	}
	w.log.Info("precaching finished", "contest", contestID)
	return nil
}

func (w *Worker) precacheDigest(ctx context.Context, digest string) {
	if digest == "" {
		return
	}
	if _, err := w.cacher.GetFile(ctx, digest); err != nil {
		w.log.Warn("precache: fetch failed", "digest", digest, "error", err)
	}
}
