package invoker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tealrun/teal/errs"
)

func TestPoolRunsQueuedJobs(t *testing.T) {
	var mu sync.Mutex
	var seen []job

	run := func(ctx context.Context, sessionID string, threadID int) error {
		mu.Lock()
		seen = append(seen, job{sessionID: sessionID, threadID: threadID})
		mu.Unlock()
		return nil
	}

	p := NewPool(run, 2, 4)
	p.Start()
	defer p.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Invoke(context.Background(), "s1", i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, 5*time.Millisecond)
}

func TestPoolStatsReflectsOccupancy(t *testing.T) {
	block := make(chan struct{})
	run := func(ctx context.Context, sessionID string, threadID int) error {
		<-block
		return nil
	}

	p := NewPool(run, 2, 4)
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	require.NoError(t, p.Invoke(context.Background(), "s1", 0))
	require.NoError(t, p.Invoke(context.Background(), "s1", 1))

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.ActiveWorkers == 2 && st.IdleWorkers == 0 && st.Workers == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoolInvokeRespectsContextCancellation(t *testing.T) {
	run := func(ctx context.Context, sessionID string, threadID int) error { return nil }
	p := NewPool(run, 1, 1)
	// No Start(): the queue never drains, so the second Invoke call blocks
	// until its context is cancelled.
	require.NoError(t, p.Invoke(context.Background(), "s1", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Invoke(ctx, "s1", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, srv.Client())
	err := r.Invoke(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRemoteExhaustsRetriesAsDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, srv.Client())
	err := r.Invoke(context.Background(), "s1", 0)
	require.Error(t, err)
	var dispatchErr *errs.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
}
