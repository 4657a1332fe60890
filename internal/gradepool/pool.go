// Package gradepool implements the Worker Pool (spec.md §4.D): the
// Evaluation Service's bookkeeping of which Worker shard holds which
// job, slot state transitions, and timeout/reconnect detection.
package gradepool

import (
	"sync"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// SlotState is a worker slot's lifecycle state.
type SlotState int

// Slot states, matching the source's WorkerPool status constants.
const (
	// Available means the slot holds no job and accepts new assignments.
	Available SlotState = iota
	// Working means a job is assigned and presumed in flight.
	Working
	// Disabled means the slot is administratively excluded from
	// assignment (e.g. the worker is being drained for maintenance).
	Disabled
)

func (s SlotState) String() string {
	switch s {
	case Available:
		return "available"
	case Working:
		return "working"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Slot is one Worker shard's assignment record.
type Slot struct {
	Coord            domain.ServiceCoord
	State            SlotState
	Job              domain.Job
	Side             domain.SideData
	AssignedAt       time.Time
	Ignore           bool // set when the assigned job was invalidated mid-flight
	ScheduledDisable bool // disable once the current job completes
	Connected        bool
}

// DefaultWorkerTimeout matches the source's WORKER_TIMEOUT (600 seconds):
// a job still assigned to a slot past this age is presumed lost and
// requeued.
const DefaultWorkerTimeout = 10 * time.Minute

// Pool tracks every Worker shard's Slot. All methods lock internally;
// safe for concurrent use from the Evaluation Service's RPC handlers and
// its timer goroutine.
type Pool struct {
	mu            sync.Mutex
	slots         map[domain.ServiceCoord]*Slot
	workerTimeout time.Duration
}

// New returns an empty Pool. workerTimeout<=0 uses DefaultWorkerTimeout.
func New(workerTimeout time.Duration) *Pool {
	if workerTimeout <= 0 {
		workerTimeout = DefaultWorkerTimeout
	}
	return &Pool{slots: make(map[domain.ServiceCoord]*Slot), workerTimeout: workerTimeout}
}

// AddWorker registers coord as a known worker shard, initially available.
func (p *Pool) AddWorker(coord domain.ServiceCoord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.slots[coord]; ok {
		return
	}
	p.slots[coord] = &Slot{Coord: coord, State: Available, Connected: true}
}

// SetConnected records a worker's RPC connection liveness, used by the
// Evaluation Service's Connections timer to detect a vanished worker
// without waiting out the full WORKER_TIMEOUT.
func (p *Pool) SetConnected(coord domain.ServiceCoord, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[coord]; ok {
		s.Connected = connected
	}
}

// FindAvailable returns the coordinate of an Available slot, if any. The
// caller is responsible for calling Assign before releasing the pool's
// lock window of opportunity to another dispatch attempt (Assign itself
// re-validates the slot is still Available, so races are safe, just
// potentially wasted work).
func (p *Pool) FindAvailable() (domain.ServiceCoord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for coord, s := range p.slots {
		if s.State == Available && s.Connected {
			return coord, true
		}
	}
	return domain.ServiceCoord{}, false
}

// Assign moves coord's slot to Working with job, reporting false if the
// slot wasn't Available (lost a race, or was disabled/disconnected
// between FindAvailable and Assign).
func (p *Pool) Assign(coord domain.ServiceCoord, job domain.Job, side domain.SideData) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[coord]
	if !ok || s.State != Available || !s.Connected {
		return false
	}
	s.State = Working
	s.Job = job
	s.Side = side
	s.AssignedAt = time.Now()
	s.Ignore = false
	return true
}

// Release clears coord's job assignment, returning the job that was
// there (if any) and moving the slot to Available, or to Disabled if a
// ScheduledDisable was pending.
func (p *Pool) Release(coord domain.ServiceCoord) (domain.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[coord]
	if !ok || s.State != Working {
		return domain.Job{}, false
	}
	job := s.Job
	s.Job = domain.Job{}
	s.Ignore = false
	if s.ScheduledDisable {
		s.State = Disabled
		s.ScheduledDisable = false
	} else {
		s.State = Available
	}
	return job, true
}

// SetIgnore marks coord's in-flight job as invalidated: the Worker will
// still finish executing it (the spec has no remote-cancel primitive),
// but the Evaluation Service discards whatever result comes back.
func (p *Pool) SetIgnore(coord domain.ServiceCoord, ignore bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[coord]
	if !ok {
		return false
	}
	s.Ignore = ignore
	return true
}

// Disable immediately excludes an Available slot from assignment, or
// schedules disabling a Working one for when its job completes.
func (p *Pool) Disable(coord domain.ServiceCoord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[coord]
	if !ok {
		return false
	}
	switch s.State {
	case Available:
		s.State = Disabled
	case Working:
		s.ScheduledDisable = true
	}
	return true
}

// Enable clears Disabled (and any pending ScheduledDisable) so the slot
// resumes accepting assignments.
func (p *Pool) Enable(coord domain.ServiceCoord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[coord]
	if !ok {
		return false
	}
	s.ScheduledDisable = false
	if s.State == Disabled {
		s.State = Available
	}
	return true
}

// CheckTimeouts returns every Working slot whose job has run longer than
// the pool's workerTimeout, for the Evaluation Service's Timeouts timer
// to requeue. It does not itself release the slot: the caller decides
// whether to release-and-requeue or to wait further.
func (p *Pool) CheckTimeouts(now time.Time) []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Slot
	for _, s := range p.slots {
		if s.State == Working && now.Sub(s.AssignedAt) > p.workerTimeout {
			out = append(out, *s)
		}
	}
	return out
}

// Status returns a snapshot of every known slot.
func (p *Pool) Status() []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Slot, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, *s)
	}
	return out
}
