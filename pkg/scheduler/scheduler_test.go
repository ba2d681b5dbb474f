package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuscene/pkg/config"
)

const waitTimeout = 5 * time.Second

func waitJob(t *testing.T, s *Scheduler, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	j, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return j
}

// blocker returns a JobFunc that signals when started and returns once released.
func blocker(started chan<- string, release <-chan struct{}) JobFunc {
	return func(ctx context.Context, job *Job, _ func(int)) (any, error) {
		if started != nil {
			started <- job.Kind
		}
		select {
		case <-release:
			return job.Kind, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func instant(result any) JobFunc {
	return func(context.Context, *Job, func(int)) (any, error) { return result, nil }
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"urgent", PriorityUrgent, false},
		{" HIGH ", PriorityHigh, false},
		{"low", PriorityLow, false},
		{"asap", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit_Completes(t *testing.T) {
	s := New(Config{})
	id := s.Submit("resolve", "payload", PriorityNormal, func(_ context.Context, job *Job, progress func(int)) (any, error) {
		assert.Equal(t, "payload", job.Payload)
		assert.Equal(t, StatusProcessing, job.Status)
		progress(40)
		return 42, nil
	})
	assert.True(t, strings.HasPrefix(id, "job_"))

	j := waitJob(t, s, id)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 42, j.Result)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.StartedAt)
	require.NotNil(t, j.CompletedAt)

	assert.Equal(t, Stats{Completed: 1, Total: 1}, s.Stats())
}

func TestPriorityOrder(t *testing.T) {
	s := New(Config{Capacity: 1})

	started := make(chan string, 10)
	release := make(chan struct{})
	first := s.Submit("first", nil, PriorityLow, blocker(started, release))
	assert.Equal(t, "first", <-started)

	var ids []string
	for _, p := range []Priority{PriorityLow, PriorityUrgent, PriorityNormal, PriorityHigh, PriorityUrgent} {
		ids = append(ids, s.Submit(string(p), nil, p, blocker(started, release)))
	}
	assert.Equal(t, Stats{Queued: 5, Processing: 1, Total: 6}, s.Stats())

	close(release)
	var order []string
	for range ids {
		order = append(order, <-started)
	}
	assert.Equal(t, []string{"urgent", "urgent", "high", "normal", "low"}, order)

	waitJob(t, s, first)
	for _, id := range ids {
		assert.Equal(t, StatusCompleted, waitJob(t, s, id).Status)
	}
}

func TestCapacity(t *testing.T) {
	s := New(Config{Capacity: 2})

	var running, peak atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context, _ *Job, _ func(int)) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	}

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, s.Submit("job", nil, PriorityNormal, fn))
	}
	st := s.Stats()
	assert.Equal(t, 2, st.Processing)
	assert.Equal(t, 4, st.Queued)

	close(release)
	for _, id := range ids {
		waitJob(t, s, id)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, Stats{Completed: 6, Total: 6}, s.Stats())
}

func TestFailure(t *testing.T) {
	s := New(Config{})
	id := s.Submit("resolve", nil, PriorityHigh, func(context.Context, *Job, func(int)) (any, error) {
		return nil, errors.New("source exploded")
	})

	j := waitJob(t, s, id)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "source exploded")
	assert.Contains(t, j.Error, "after 1 attempt")
	assert.Nil(t, j.Result)
	assert.Equal(t, 1, s.Stats().Failed)
}

func TestPanicIsFailure(t *testing.T) {
	s := New(Config{})
	id := s.Submit("bad", nil, PriorityNormal, func(context.Context, *Job, func(int)) (any, error) {
		panic("boom")
	})
	j := waitJob(t, s, id)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "job panicked: boom")

	// The scheduler keeps working.
	ok := s.Submit("good", nil, PriorityNormal, instant("fine"))
	assert.Equal(t, StatusCompleted, waitJob(t, s, ok).Status)
}

func TestRetry(t *testing.T) {
	s := New(Config{RetryAttempts: 2, RetryBackoff: 100 * time.Millisecond})
	var mu sync.Mutex
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return nil
	}

	var calls atomic.Int32
	id := s.Submit("flaky", nil, PriorityNormal, func(_ context.Context, job *Job, _ func(int)) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return job.Attempts, nil
	})

	j := waitJob(t, s, id)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, 3, j.Result)
	mu.Lock()
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps)
	mu.Unlock()
}

func TestRetry_Exhausted(t *testing.T) {
	s := New(Config{RetryAttempts: 1})
	s.sleep = func(context.Context, time.Duration) error { return nil }

	id := s.Submit("flaky", nil, PriorityNormal, func(context.Context, *Job, func(int)) (any, error) {
		return nil, errors.New("still down")
	})
	j := waitJob(t, s, id)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, 2, j.Attempts)
	assert.Contains(t, j.Error, "after 2 attempt(s): still down")
}

func TestCancelQueued(t *testing.T) {
	s := New(Config{Capacity: 1})
	release := make(chan struct{})
	started := make(chan string, 1)
	running := s.Submit("running", nil, PriorityNormal, blocker(started, release))
	<-started

	var ran atomic.Bool
	queued := s.Submit("queued", nil, PriorityNormal, func(context.Context, *Job, func(int)) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	assert.True(t, s.Cancel(queued))
	assert.False(t, s.Cancel(queued))
	j, ok := s.Status(queued)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, j.Status)
	assert.Equal(t, Stats{Processing: 1, Cancelled: 1, Total: 2}, s.Stats())

	close(release)
	waitJob(t, s, running)
	assert.False(t, ran.Load())
}

func TestCancelProcessing(t *testing.T) {
	s := New(Config{Capacity: 1})

	started := make(chan string, 2)
	sawCancel := make(chan struct{})
	id := s.Submit("long", nil, PriorityNormal, func(ctx context.Context, job *Job, _ func(int)) (any, error) {
		started <- job.Kind
		<-ctx.Done()
		close(sawCancel)
		return "late result", nil
	})
	<-started

	next := s.Submit("next", nil, PriorityNormal, instant("next done"))

	assert.True(t, s.Cancel(id))
	<-sawCancel

	j := waitJob(t, s, id)
	assert.Equal(t, StatusCancelled, j.Status)

	// The freed slot admits the queued job.
	assert.Equal(t, StatusCompleted, waitJob(t, s, next).Status)

	require.NoError(t, s.Shutdown(context.Background()))
	j, _ = s.Status(id)
	assert.Equal(t, StatusCancelled, j.Status)
	assert.Nil(t, j.Result)
	assert.False(t, s.Cancel(id))
}

func TestCancelProcessing_SlotHeldUntilReturn(t *testing.T) {
	s := New(Config{Capacity: 1})

	var running, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	stubborn := func(context.Context, *Job, func(int)) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release // ignores ctx
		running.Add(-1)
		return "late", nil
	}

	first := s.Submit("first", nil, PriorityNormal, stubborn)
	<-started
	require.True(t, s.Cancel(first))
	assert.Equal(t, StatusCancelled, waitJob(t, s, first).Status)

	var cancelled []string
	for i := 0; i < 4; i++ {
		id := s.Submit("again", nil, PriorityNormal, stubborn)
		j, _ := s.Status(id)
		assert.Equal(t, StatusQueued, j.Status, "slot is still held by the cancelled job")
		require.True(t, s.Cancel(id))
		cancelled = append(cancelled, id)
	}

	last := s.Submit("last", nil, PriorityNormal, stubborn)
	st := s.Stats()
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 0, st.Processing)
	assert.Equal(t, 1, st.Draining)
	assert.Equal(t, 5, st.Cancelled)

	close(release)
	assert.Equal(t, StatusCompleted, waitJob(t, s, last).Status)
	assert.Equal(t, int32(1), peak.Load())
	for _, id := range cancelled {
		j, _ := s.Status(id)
		assert.Nil(t, j.StartedAt, "cancelled while queued")
	}

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Zero(t, s.Stats().Draining)
}

func TestUnknownJob(t *testing.T) {
	s := New(Config{})
	assert.False(t, s.Cancel("job_missing"))
	_, ok := s.Status("job_missing")
	assert.False(t, ok)
	_, err := s.Wait(context.Background(), "job_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWait_ContextExpires(t *testing.T) {
	s := New(Config{})
	release := make(chan struct{})
	defer close(release)
	id := s.Submit("slow", nil, PriorityNormal, blocker(nil, release))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProgress(t *testing.T) {
	s := New(Config{})
	reported := make(chan struct{})
	release := make(chan struct{})
	id := s.Submit("p", nil, PriorityNormal, func(_ context.Context, _ *Job, progress func(int)) (any, error) {
		progress(150)
		progress(30)
		close(reported)
		<-release
		return nil, nil
	})
	<-reported

	j, _ := s.Status(id)
	assert.Equal(t, 30, j.Progress)
	close(release)
	assert.Equal(t, 100, waitJob(t, s, id).Progress)
}

func TestShutdown(t *testing.T) {
	s := New(Config{Capacity: 1})
	started := make(chan string, 1)
	running := s.Submit("running", nil, PriorityNormal, blocker(started, make(chan struct{})))
	<-started
	queued := s.Submit("queued", nil, PriorityNormal, instant(nil))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	for _, id := range []string{running, queued} {
		j := waitJob(t, s, id)
		assert.Equal(t, StatusCancelled, j.Status)
		assert.Equal(t, errShutdown.Error(), j.Error)
	}

	late := s.Submit("late", nil, PriorityUrgent, instant(nil))
	assert.Equal(t, StatusCancelled, waitJob(t, s, late).Status)
	assert.Equal(t, Stats{Cancelled: 3, Total: 3}, s.Stats())
}

func TestList(t *testing.T) {
	s := New(Config{})
	a := s.Submit("a", nil, PriorityLow, instant(nil))
	b := s.Submit("b", nil, PriorityLow, instant(nil))
	waitJob(t, s, a)
	waitJob(t, s, b)

	jobs := s.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, a, jobs[0].ID)
	assert.Equal(t, b, jobs[1].ID)
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.SchedulerConfig{Capacity: 4, RetryAttempts: 2, RetryBackoff: config.Duration(3 * time.Second)})
	assert.Equal(t, Config{Capacity: 4, RetryAttempts: 2, RetryBackoff: 3 * time.Second}, c)
}
