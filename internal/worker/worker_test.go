package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/executor"
	"github.com/vk/scopegrid/internal/testutil"
)

type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	pending  bool
	dirty    bool
	renderFn func() error
	// processed, when set, is what WaitWaveformProcessed blocks on.
	processed chan struct{}
}

func (f *fakeSession) add(c string) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) RefreshAll(context.Context) executor.Report {
	f.add("refresh_all")
	return executor.Report{}
}

func (f *fakeSession) RefreshDirty(context.Context) bool {
	f.add("refresh_dirty")
	return f.dirty
}

func (f *fakeSession) Render(context.Context) error {
	f.add("render")
	if f.renderFn != nil {
		return f.renderFn()
	}
	return nil
}

func (f *fakeSession) CheckForPendingWaveforms() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeSession) Download(context.Context) int {
	f.add("download")
	f.mu.Lock()
	f.pending = false
	f.mu.Unlock()
	return 1
}

func (f *fakeSession) SignalWaveformReady() { f.add("ready") }

func (f *fakeSession) WaitWaveformProcessed(ctx context.Context) error {
	f.add("wait")
	if f.processed == nil {
		return nil
	}
	select {
	case <-f.processed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStep_Priority(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := &fakeSession{pending: true, dirty: true}
	w := New(s)

	w.RequestRerender()
	w.RequestRefilter(false)
	w.RequestRefilter(true)

	require.True(t, w.step(ctx))
	assert.Equal(t, []string{"refresh_all", "render"}, s.Calls())

	s.calls = nil
	require.True(t, w.step(ctx))
	assert.Equal(t, []string{"refresh_dirty", "render"}, s.Calls())

	s.calls = nil
	require.True(t, w.step(ctx))
	assert.Equal(t, []string{"render"}, s.Calls())

	s.calls = nil
	require.True(t, w.step(ctx))
	assert.Equal(t, []string{"download", "refresh_all", "ready", "wait"}, s.Calls())

	s.calls = nil
	assert.False(t, w.step(ctx))
	assert.Empty(t, s.Calls())
}

func TestStep_PartialWithNoWorkStillSignalsDone(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := &fakeSession{}
	w := New(s)

	w.RequestRefilter(false)
	require.True(t, w.step(ctx))

	assert.Equal(t, []string{"refresh_dirty"}, s.Calls(), "no render when nothing was recomputed")
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, w.WaitRefilterDone(waitCtx))
}

func TestStep_RenderErrorIsLogged(t *testing.T) {
	ctx, logs := testutil.LogContext()
	s := &fakeSession{renderFn: func() error { return errors.New("display gone") }}
	w := New(s)

	w.RequestRerender()
	require.True(t, w.step(ctx))

	assert.Contains(t, logs.String(), "display gone")
	assert.NoError(t, w.WaitRerenderDone(ctx))
}

func TestRun(t *testing.T) {
	t.Run("services requests and stops on cancel", func(t *testing.T) {
		ctx, _ := testutil.LogContext()
		ctx, cancel := context.WithCancel(ctx)
		s := &fakeSession{}
		w := New(s, WithIdleInterval(time.Millisecond))

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		w.RequestRefilter(true)
		waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
		defer waitCancel()
		require.NoError(t, w.WaitRefilterDone(waitCtx))

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("worker did not stop")
		}
		assert.GreaterOrEqual(t, w.Stats().Refreshes, int64(1))
	})

	t.Run("blocks on the consumer until processed", func(t *testing.T) {
		ctx, _ := testutil.LogContext()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		s := &fakeSession{pending: true, processed: make(chan struct{})}
		w := New(s, WithIdleInterval(time.Millisecond))

		go func() { _ = w.Run(ctx) }()

		require.Eventually(t, func() bool {
			calls := s.Calls()
			return len(calls) > 0 && calls[len(calls)-1] == "wait"
		}, time.Second, time.Millisecond)
		assert.Equal(t, int64(1), w.Stats().Acquisitions)

		close(s.processed)
		require.Eventually(t, func() bool { return w.Stats().IdlePolls > 0 }, time.Second, time.Millisecond)
	})
}

func TestStats(t *testing.T) {
	w := New(&fakeSession{}, WithLatencyWindow(4))
	assert.Equal(t, Stats{}, w.Stats())

	ctx, _ := testutil.LogContext()
	for range 3 {
		w.RequestRefilter(true)
		w.step(ctx)
	}

	st := w.Stats()
	assert.Equal(t, int64(3), st.Refreshes)
	assert.LessOrEqual(t, st.Min, st.Max)
}
