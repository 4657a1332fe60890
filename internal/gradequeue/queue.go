// Package gradequeue implements the Job Queue (spec.md §4.C): an
// in-memory min-heap of grading jobs ordered by
// (priority, sequence), with O(log n) arbitrary removal and
// reprioritization via a job-to-heap-index lookup map.
package gradequeue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// entry is one heap element: a job plus its ordering key. seq breaks
// ties between equal priorities FIFO, mirroring the source's queue
// using insertion order as the secondary sort key.
type entry struct {
	job       domain.Job
	priority  domain.Priority
	seq       uint64
	timestamp time.Time
	index     int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is the Job Queue's single implementation: a priority heap plus a
// job->entry index for O(log n) Remove/SetPriority/Contains. Every
// method, reads and writes alike, takes the mutex, so a Queue is safe
// for concurrent use by several goroutines.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	byJob   map[domain.Job]*entry
	nextSeq uint64
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{byJob: make(map[domain.Job]*entry)}
}

// Push adds job at priority, or updates it in place (re-heapifying) if
// already present — matching the source's push() being idempotent for
// re-enqueued jobs rather than creating duplicates.
func (q *Queue) Push(job domain.Job, priority domain.Priority, timestamp time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.byJob[job]; ok {
		e.priority = priority
		e.timestamp = timestamp
		heap.Fix(&q.heap, e.index)
		return nil
	}
	e := &entry{job: job, priority: priority, seq: q.nextSeq, timestamp: timestamp}
	q.nextSeq++
	heap.Push(&q.heap, e)
	q.byJob[job] = e
	return nil
}

// Top returns the highest-priority entry without removing it.
func (q *Queue) Top() (domain.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return domain.QueueEntry{}, false
	}
	return toQueueEntry(q.heap[0]), true
}

// Pop removes and returns the highest-priority entry.
func (q *Queue) Pop() (domain.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return domain.QueueEntry{}, false
	}
	e := heap.Pop(&q.heap).(*entry)
	delete(q.byJob, e.job)
	return toQueueEntry(e), true
}

// Remove deletes job from the queue if present, reporting whether it was.
func (q *Queue) Remove(job domain.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byJob[job]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.byJob, job)
	return true
}

// SetPriority updates job's priority in place, reporting whether job was
// found. seq is left untouched, so a bump to a priority it already
// shares with other queued jobs doesn't let it skip ahead of them.
func (q *Queue) SetPriority(job domain.Job, priority domain.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byJob[job]
	if !ok {
		return false
	}
	e.priority = priority
	heap.Fix(&q.heap, e.index)
	return true
}

// Contains reports whether job is currently queued.
func (q *Queue) Contains(job domain.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byJob[job]
	return ok
}

// Status returns every queued entry ordered by heap position (not a
// fully sorted priority order beyond the root), for the Evaluation
// Service's diagnostic surface.
func (q *Queue) Status() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueueEntry, len(q.heap))
	for i, e := range q.heap {
		out[i] = toQueueEntry(e)
	}
	return out
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func toQueueEntry(e *entry) domain.QueueEntry {
	return domain.QueueEntry{Priority: e.priority, Seq: e.seq, Job: e.job, Timestamp: e.timestamp}
}

var _ domain.Queue = (*Queue)(nil)
