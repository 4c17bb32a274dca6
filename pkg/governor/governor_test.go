package governor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPreservesInputOrder(t *testing.T) {
	for _, tc := range []struct {
		n, limit int
	}{{1, 1}, {5, 2}, {20, 3}, {32, 7}} {
		g := New(Options{Limit: tc.limit})
		tasks := make([]Task[int], tc.n)
		for i := range tasks {
			i := i
			tasks[i] = func(context.Context) (int, error) {
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				return i * 10, nil
			}
		}

		results := Run(context.Background(), g, tasks)

		require.Len(t, results, tc.n)
		for i, res := range results {
			require.NoError(t, res.Err)
			assert.Equal(t, i*10, res.Value, "n=%d limit=%d index=%d", tc.n, tc.limit, i)
		}
	}
}

func TestRunNeverExceedsLimit(t *testing.T) {
	const limit = 3
	var inFlight, peak int64
	g := New(Options{Limit: limit})

	tasks := make([]Task[struct{}], 25)
	for i := range tasks {
		tasks[i] = func(context.Context) (struct{}, error) {
			current := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if current <= old || atomic.CompareAndSwapInt64(&peak, old, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return struct{}{}, nil
		}
	}

	Run(context.Background(), g, tasks)

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
	assert.Equal(t, int64(0), atomic.LoadInt64(&inFlight))
}

func TestRunFailuresAreIndependent(t *testing.T) {
	g := New(Options{Limit: 2})
	boom := errors.New("boom")
	var ran int64
	tasks := []Task[string]{
		func(context.Context) (string, error) { atomic.AddInt64(&ran, 1); return "a", nil },
		func(context.Context) (string, error) { atomic.AddInt64(&ran, 1); return "", boom },
		func(context.Context) (string, error) { atomic.AddInt64(&ran, 1); panic("kaboom") },
		func(context.Context) (string, error) { atomic.AddInt64(&ran, 1); return "d", nil },
	}

	results := Run(context.Background(), g, tasks)

	assert.Equal(t, int64(4), atomic.LoadInt64(&ran))
	assert.True(t, results[0].OK())
	assert.ErrorIs(t, results[1].Err, boom)
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "kaboom")
	assert.Equal(t, "d", results[3].Value)
}

func TestRunPacesDispatches(t *testing.T) {
	g := New(Options{Limit: 10, Interval: 5 * time.Millisecond})
	var mu sync.Mutex
	var pauses []time.Duration
	g.sleep = func(d time.Duration) {
		mu.Lock()
		pauses = append(pauses, d)
		mu.Unlock()
	}

	tasks := make([]Task[int], 4)
	for i := range tasks {
		tasks[i] = func(context.Context) (int, error) { return i, nil }
	}
	Run(context.Background(), g, tasks)

	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}, pauses)
}

func TestRunSpacingHoldsInWallClock(t *testing.T) {
	g := New(Options{Limit: 5, Interval: 10 * time.Millisecond})
	tasks := make([]Task[int], 4)
	for i := range tasks {
		tasks[i] = func(context.Context) (int, error) { return i, nil }
	}

	start := time.Now()
	Run(context.Background(), g, tasks)

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunEmptyAndDefaults(t *testing.T) {
	g := New(Options{Limit: 0, Interval: -time.Second})
	assert.Equal(t, 1, g.Limit())
	assert.Equal(t, "default", g.Name())

	results := Run[int](context.Background(), g, nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

type recordingObserver struct {
	started, finished, failed int64
}

func (r *recordingObserver) TaskStarted(string) { atomic.AddInt64(&r.started, 1) }

func (r *recordingObserver) TaskFinished(_ string, err error, _ time.Duration) {
	atomic.AddInt64(&r.finished, 1)
	if err != nil {
		atomic.AddInt64(&r.failed, 1)
	}
}

func TestRunNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	g := New(Options{Name: "submissions", Limit: 2, Observer: obs})
	tasks := []Task[int]{
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 0, errors.New("nope") },
	}

	Run(context.Background(), g, tasks)

	assert.Equal(t, int64(2), obs.started)
	assert.Equal(t, int64(2), obs.finished)
	assert.Equal(t, int64(1), obs.failed)
}
