// Package scheduler runs conversion jobs on a bounded worker pool fed by a
// priority queue. Admission is driven by submissions and completions only.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docuscene/pkg/config"
)

// Defaults applied to zero config values.
const (
	DefaultCapacity     = 3
	DefaultRetryBackoff = time.Second
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

var errShutdown = errors.New("scheduler shut down")

// Config tunes the scheduler.
type Config struct {
	Capacity      int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// ConfigFrom converts the YAML scheduler section.
func ConfigFrom(c config.SchedulerConfig) Config {
	return Config{
		Capacity:      c.Capacity,
		RetryAttempts: c.RetryAttempts,
		RetryBackoff:  time.Duration(c.RetryBackoff),
	}
}

// Stats counts jobs per state.
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
	// Draining counts cancelled jobs whose functions have not returned yet.
	// They still hold a slot and are already included in Cancelled.
	Draining int `json:"draining"`
}

type entry struct {
	job    *Job
	fn     JobFunc
	seq    uint64
	index  int // heap position while queued
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

func (e *entry) finish() {
	e.doneOnce.Do(func() { close(e.done) })
}

// Scheduler owns the queue, the active set and the terminal buckets. One
// mutex guards all of them.
type Scheduler struct {
	cfg Config

	mu       sync.Mutex
	queue    jobQueue
	active   map[string]*entry
	draining map[string]*entry // cancelled while running, function not returned
	finished map[Status]map[string]*entry
	index    map[string]*entry
	seq      uint64
	closed   bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		active:   make(map[string]*entry),
		draining: make(map[string]*entry),
		finished: map[Status]map[string]*entry{
			StatusCompleted: {},
			StatusFailed:    {},
			StatusCancelled: {},
		},
		index:     make(map[string]*entry),
		baseCtx:   ctx,
		cancelAll: cancel,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Submit queues a job and returns its id. After Shutdown the job is recorded
// as cancelled straight away.
func (s *Scheduler) Submit(kind string, payload any, p Priority, fn JobFunc) string {
	p, err := ParsePriority(string(p))
	if err != nil {
		p = PriorityNormal
	}

	s.mu.Lock()
	s.seq++
	e := &entry{
		job: &Job{
			ID:        "job_" + uuid.New().String(),
			Kind:      kind,
			Payload:   payload,
			Priority:  p,
			Status:    StatusQueued,
			CreatedAt: s.now(),
		},
		fn:   fn,
		seq:  s.seq,
		done: make(chan struct{}),
	}
	s.index[e.job.ID] = e

	if s.closed {
		s.terminate(e, StatusCancelled, nil, errShutdown)
		s.mu.Unlock()
		return e.job.ID
	}

	heap.Push(&s.queue, e)
	slog.Debug("Job queued", "id", e.job.ID, "kind", kind, "priority", p, "queued", s.queue.Len())
	s.dispatchLocked()
	s.mu.Unlock()
	return e.job.ID
}

// Status returns a snapshot of the job.
func (s *Scheduler) Status(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[id]
	if !ok {
		return Job{}, false
	}
	return e.job.snapshot(), true
}

// List returns snapshots of all known jobs, oldest first.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.index))
	seqs := make(map[string]uint64, len(s.index))
	for id, e := range s.index {
		out = append(out, e.job.snapshot())
		seqs[id] = e.seq
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return seqs[out[i].ID] < seqs[out[j].ID] })
	return out
}

// Cancel stops a queued or running job. Queued jobs never start; running jobs
// get their context cancelled and their eventual result is discarded. A
// cancelled running job keeps its slot until its function returns.
// It returns false for unknown or already finished jobs.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[id]
	if !ok {
		return false
	}
	switch e.job.Status {
	case StatusQueued:
		heap.Remove(&s.queue, e.index)
		s.terminate(e, StatusCancelled, nil, nil)
		s.dispatchLocked()
	case StatusProcessing:
		delete(s.active, id)
		s.draining[id] = e
		e.cancel()
		s.terminate(e, StatusCancelled, nil, nil)
	default:
		return false
	}
	slog.Info("Job cancelled", "id", id)
	return true
}

// Wait blocks until the job is finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	e, ok := s.index[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, ErrNotFound
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return e.job.snapshot(), nil
}

// Stats returns per-state job counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Queued:     s.queue.Len(),
		Processing: len(s.active),
		Completed:  len(s.finished[StatusCompleted]),
		Failed:     len(s.finished[StatusFailed]),
		Cancelled:  len(s.finished[StatusCancelled]),
		Draining:   len(s.draining),
	}
	st.Total = st.Queued + st.Processing + st.Completed + st.Failed + st.Cancelled
	return st
}

// Shutdown stops admission, cancels queued and running jobs and waits for
// running job functions to return or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for s.queue.Len() > 0 {
			e := heap.Pop(&s.queue).(*entry)
			s.terminate(e, StatusCancelled, nil, errShutdown)
		}
		for id, e := range s.active {
			delete(s.active, id)
			s.draining[id] = e
			s.terminate(e, StatusCancelled, nil, errShutdown)
		}
		s.cancelAll()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLocked admits queued jobs while there is spare capacity.
func (s *Scheduler) dispatchLocked() {
	for !s.closed && len(s.active)+len(s.draining) < s.cfg.Capacity && s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(*entry)
		ctx, cancel := context.WithCancel(s.baseCtx)
		e.cancel = cancel

		now := s.now()
		e.job.Status = StatusProcessing
		e.job.StartedAt = &now
		s.active[e.job.ID] = e

		slog.Debug("Job started", "id", e.job.ID, "kind", e.job.Kind, "priority", e.job.Priority, "active", len(s.active))
		s.wg.Add(1)
		go s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	defer s.wg.Done()
	defer e.cancel()

	progress := func(p int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.job.Status == StatusProcessing {
			e.job.Progress = max(0, min(100, p))
		}
	}

	var (
		result any
		err    error
	)
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		e.job.Attempts = attempt
		view := e.job.snapshot()
		s.mu.Unlock()

		result, err = s.call(ctx, e.fn, &view, progress)
		if err == nil || attempt > s.cfg.RetryAttempts || ctx.Err() != nil {
			break
		}

		backoff := s.cfg.RetryBackoff << (attempt - 1)
		slog.Warn("Job attempt failed, retrying", "id", e.job.ID, "attempt", attempt, "backoff", backoff, "error", err)
		if s.sleep(ctx, backoff) != nil {
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.job.Status != StatusProcessing {
		slog.Debug("Discarding result of cancelled job", "id", e.job.ID)
		delete(s.draining, e.job.ID)
		s.dispatchLocked()
		return
	}
	delete(s.active, e.job.ID)
	if err != nil {
		jerr := &JobError{JobID: e.job.ID, Attempts: e.job.Attempts, Err: err}
		slog.Warn("Job failed", "id", e.job.ID, "kind", e.job.Kind, "error", jerr)
		s.terminate(e, StatusFailed, nil, jerr)
	} else {
		e.job.Progress = 100
		s.terminate(e, StatusCompleted, result, nil)
	}
	s.dispatchLocked()
}

// call runs fn, converting a panic into an error so one job cannot take the
// scheduler down.
func (s *Scheduler) call(ctx context.Context, fn JobFunc, job *Job, progress func(int)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx, job, progress)
}

// terminate moves e into a terminal bucket. The caller holds s.mu and has
// already removed e from the queue or the active set.
func (s *Scheduler) terminate(e *entry, st Status, result any, err error) {
	now := s.now()
	e.job.Status = st
	e.job.CompletedAt = &now
	e.job.Result = result
	if err != nil {
		e.job.Error = err.Error()
	}
	s.finished[st][e.job.ID] = e
	e.finish()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
