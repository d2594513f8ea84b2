package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/testutil"
	"github.com/vk/scopegrid/internal/waveform"
)

type recordingRenderer struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingRenderer) RenderAll(_ context.Context, f Frame) error {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return nil
}

func (r *recordingRenderer) last() (Frame, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, 0
	}
	return r.frames[len(r.frames)-1], len(r.frames)
}

func addFake(t *testing.T, ctx context.Context, s *Session, name, group string, log *testutil.CallLog) *testutil.FakeInstrument {
	t.Helper()
	inst := testutil.NewFakeInstrument(name, 1, log)
	_, err := s.AddInstrument(ctx, inst, group)
	require.NoError(t, err)
	return inst
}

// cycle runs one worker iteration followed by one consumer frame.
func cycle(t *testing.T, ctx context.Context, s *Session) bool {
	t.Helper()
	require.True(t, s.CheckForPendingWaveforms())
	s.Download(ctx)
	s.RefreshAll(ctx)
	s.SignalWaveformReady()
	handled := s.CheckForWaveforms(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.WaitWaveformProcessed(waitCtx))
	return handled
}

func TestAddInstrument(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New()
	inst := testutil.NewFakeInstrument("scope", 4, nil)

	handles, err := s.AddInstrument(ctx, inst, "")
	require.NoError(t, err)

	assert.Len(t, handles, 4)
	h, ok := s.Graph().Lookup("scope.ch2")
	require.True(t, ok)
	assert.Equal(t, handles[2], h)
	g, ok := s.Triggers().GroupOf("scope")
	require.True(t, ok)
	assert.Equal(t, "scope", g.Name())
	assert.True(t, g.IsDefault())

	_, err = s.AddInstrument(ctx, inst, "")
	assert.ErrorIs(t, err, ErrDuplicateInstrument)
}

func TestArm_DefaultGroupsOnly(t *testing.T) {
	ctx, _ := testutil.LogContext()
	log := &testutil.CallLog{}
	s := New()
	addFake(t, ctx, s, "main", "bench", log)
	addFake(t, ctx, s, "aux", "bench", log)
	require.NoError(t, s.AddTriggerGroup("side", false))
	require.NoError(t, s.MoveInstrument("aux", "side"))

	require.NoError(t, s.Arm(ctx, instrument.Normal, false))
	assert.Equal(t, []string{"main.arm:normal"}, log.Calls())

	log.Reset()
	require.NoError(t, s.Arm(ctx, instrument.Normal, true))
	assert.ElementsMatch(t, []string{"main.arm:normal", "aux.arm:normal"}, log.Calls())
	assert.True(t, s.IsArmed())

	require.NoError(t, s.Stop(ctx, true))
	assert.False(t, s.IsArmed())
}

func TestArm_OfflineNotice(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New()
	addFake(t, ctx, s, "pri", "bench", nil)
	sec := addFake(t, ctx, s, "sec", "bench", nil)
	sec.Offline.Store(true)

	err := s.Arm(ctx, instrument.Normal, false)

	assert.Error(t, err)
	select {
	case n := <-s.Notifications():
		assert.Equal(t, "sec", n.Instrument)
		assert.Contains(t, n.Message, "offline")
	default:
		t.Fatal("expected an offline notice")
	}
}

func TestCheckForPendingWaveforms_SoftwareOnly(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New()

	assert.False(t, s.CheckForPendingWaveforms())
	require.NoError(t, s.Arm(ctx, instrument.Normal, false))
	for range 3 {
		assert.True(t, s.CheckForPendingWaveforms())
	}
}

func TestFreeRunRearm(t *testing.T) {
	t.Run("two instruments are re-armed after a cycle", func(t *testing.T) {
		ctx, _ := testutil.LogContext()
		log := &testutil.CallLog{}
		s := New()
		pri := addFake(t, ctx, s, "pri", "bench", log)
		sec := addFake(t, ctx, s, "sec", "bench", log)
		require.NoError(t, s.Arm(ctx, instrument.FreeRun, false))
		require.Equal(t, 1, log.Count("pri.arm:single"))

		pri.Capture(waveform.Timestamp{Seconds: 1})
		sec.Capture(waveform.Timestamp{Seconds: 1})
		require.True(t, cycle(t, ctx, s))

		assert.Equal(t, 2, log.Count("pri.arm:single"))
		assert.Equal(t, 2, log.Count("sec.arm:single"))
		assert.True(t, s.IsArmed())
	})

	t.Run("secondary offline at re-arm disarms the group and resumes later", func(t *testing.T) {
		// --- Arrange ---
		ctx, _ := testutil.LogContext()
		log := &testutil.CallLog{}
		s := New()
		pri := addFake(t, ctx, s, "pri", "bench", log)
		sec := addFake(t, ctx, s, "sec", "bench", log)
		require.NoError(t, s.Arm(ctx, instrument.FreeRun, false))
		g, ok := s.triggers.Group("bench")
		require.True(t, ok)

		pri.Capture(waveform.Timestamp{Seconds: 1})
		sec.Capture(waveform.Timestamp{Seconds: 1})
		require.True(t, s.CheckForPendingWaveforms())
		s.Download(ctx)
		s.RefreshAll(ctx)
		s.SignalWaveformReady()
		sec.Offline.Store(true)

		// --- Act ---
		require.True(t, s.CheckForWaveforms(ctx))

		// --- Assert ---
		assert.False(t, g.Armed())
		assert.True(t, g.Stalled())
		pri.Capture(waveform.Timestamp{Seconds: 2})
		assert.False(t, s.CheckForPendingWaveforms())
		select {
		case n := <-s.Notifications():
			assert.Equal(t, "sec", n.Instrument)
			assert.Contains(t, n.Message, "offline")
		default:
			t.Fatal("expected an offline notice")
		}

		assert.Zero(t, s.ResumeStalledGroups(ctx), "secondary still offline")
		sec.Offline.Store(false)
		assert.Equal(t, 1, s.ResumeStalledGroups(ctx))
		assert.True(t, g.Armed())
		assert.Equal(t, 2, log.Count("pri.arm:single"))
		assert.Equal(t, 2, log.Count("sec.arm:single"))

		sec.Capture(waveform.Timestamp{Seconds: 2})
		assert.True(t, cycle(t, ctx, s))
	})

	t.Run("a single instrument is not re-armed", func(t *testing.T) {
		ctx, _ := testutil.LogContext()
		log := &testutil.CallLog{}
		s := New()
		pri := addFake(t, ctx, s, "pri", "bench", log)
		require.NoError(t, s.Arm(ctx, instrument.FreeRun, false))

		pri.Capture(waveform.Timestamp{Seconds: 1})
		require.True(t, cycle(t, ctx, s))

		assert.Equal(t, []string{"pri.arm:freerun", "pri.fetch"}, log.Calls())
	})
}

func TestOneShotSelfDisarm(t *testing.T) {
	t.Run("hardware", func(t *testing.T) {
		ctx, _ := testutil.LogContext()
		s := New()
		pri := addFake(t, ctx, s, "pri", "bench", nil)
		require.NoError(t, s.Arm(ctx, instrument.Single, false))

		pri.Capture(waveform.Timestamp{Seconds: 1})
		require.True(t, s.IsArmed())
		require.True(t, cycle(t, ctx, s))

		assert.False(t, s.IsArmed())
		assert.False(t, s.CheckForPendingWaveforms())
	})

	t.Run("software only disarms at download", func(t *testing.T) {
		ctx, _ := testutil.LogContext()
		s := New()
		require.NoError(t, s.AddTriggerGroup("math", true))
		require.NoError(t, s.Arm(ctx, instrument.Single, false))

		require.True(t, s.CheckForPendingWaveforms())
		assert.Equal(t, 1, s.Download(ctx))
		assert.False(t, s.IsArmed())
	})
}

func TestCheckForWaveforms(t *testing.T) {
	ctx, logs := testutil.LogContext()
	r := &recordingRenderer{}
	s := New(WithRenderer(r))
	pri := addFake(t, ctx, s, "pri", "bench", nil)
	require.NoError(t, s.Arm(ctx, instrument.Normal, false))

	assert.False(t, s.CheckForWaveforms(ctx), "nothing signalled yet")

	pri.Capture(waveform.Timestamp{Seconds: 7}, 1, 2, 3)
	require.True(t, cycle(t, ctx, s))
	assert.False(t, s.CheckForWaveforms(ctx), "a batch is handled once")

	frame, n := r.last()
	require.Equal(t, 1, n)
	require.NotNil(t, frame.Acquisition)
	assert.Equal(t, int64(7), frame.Acquisition.Key.Seconds)
	require.Len(t, frame.Nodes, 1)
	assert.Equal(t, []float64{1, 2, 3}, frame.Nodes[0].Data[0].Samples)

	t.Run("duplicate timestamp is not recorded twice", func(t *testing.T) {
		pri.Capture(waveform.Timestamp{Seconds: 7}, 9)
		require.True(t, cycle(t, ctx, s))

		assert.Equal(t, 1, s.History().Len())
		assert.Contains(t, logs.String(), "Duplicate acquisition discarded")
	})
}

// chain builds ch -> A -> B -> C and ch -> D, with data on ch.
func chain(t *testing.T, ctx context.Context, s *Session, log *testutil.CallLog) map[string]graph.Handle {
	t.Helper()
	inst := testutil.NewFakeInstrument("scope", 1, log)
	chs, err := s.AddInstrument(ctx, inst, "")
	require.NoError(t, err)
	n, _ := s.Graph().Node(chs[0])
	n.Output(0).Publish(&waveform.Waveform{Samples: []float64{1}})

	hs := map[string]graph.Handle{"ch": chs[0]}
	for _, link := range [][2]string{{"A", "ch"}, {"B", "A"}, {"C", "B"}, {"D", "ch"}} {
		h, err := s.AddFilter(link[0], testutil.NewProbe(link[0], log))
		require.NoError(t, err)
		require.NoError(t, s.Bind(h, 0, hs[link[1]], 0))
		hs[link[0]] = h
	}
	return hs
}

func TestRefreshDirty_Closure(t *testing.T) {
	ctx, _ := testutil.LogContext()
	log := &testutil.CallLog{}
	s := New(WithExecutorOptions())
	hs := chain(t, ctx, s, log)

	assert.False(t, s.RefreshDirty(ctx), "nothing marked")

	s.MarkDirty(hs["A"])
	require.True(t, s.RefreshDirty(ctx))

	assert.ElementsMatch(t, []string{"A.compute", "B.compute", "C.compute"}, log.Calls())
	assert.Zero(t, s.DirtyCount())
}

func TestRefreshDirty_NoLossUnderConcurrentMark(t *testing.T) {
	ctx, _ := testutil.LogContext()
	log := &testutil.CallLog{}
	s := New()
	inst := testutil.NewFakeInstrument("scope", 1, log)
	chs, err := s.AddInstrument(ctx, inst, "")
	require.NoError(t, err)
	n, _ := s.Graph().Node(chs[0])
	n.Output(0).Publish(&waveform.Waveform{Samples: []float64{1}})

	slow := testutil.NewProbe("slow", log)
	slow.Gate = make(chan struct{})
	slow.Entered = make(chan struct{})
	a, err := s.AddFilter("slow", slow)
	require.NoError(t, err)
	require.NoError(t, s.Bind(a, 0, chs[0], 0))
	x, err := s.AddFilter("x", testutil.NewProbe("x", log))
	require.NoError(t, err)
	require.NoError(t, s.Bind(x, 0, chs[0], 0))

	s.MarkDirty(a)
	done := make(chan bool)
	go func() { done <- s.RefreshDirty(ctx) }()

	<-slow.Entered
	s.MarkDirty(x)
	close(slow.Gate)
	require.True(t, <-done)

	assert.Equal(t, 1, s.DirtyCount(), "mark made mid-pass waits for the next pass")
	log.Reset()
	require.True(t, s.RefreshDirty(ctx))
	assert.Equal(t, []string{"x.compute"}, log.Calls())
}

func TestRefreshAll_ConsumesEarlierMarks(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New()
	hs := chain(t, ctx, s, &testutil.CallLog{})
	s.MarkDirty(hs["B"])

	report := s.RefreshAll(ctx)

	assert.Equal(t, 5, report.Nodes)
	assert.Zero(t, s.DirtyCount())
}

func TestGarbageCollectTriggerGroups(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New()
	addFake(t, ctx, s, "gone", "", nil)
	require.True(t, s.RemoveInstrument(ctx, "gone"))
	require.NoError(t, s.AddTriggerGroup("x", false))
	require.NoError(t, s.AddTriggerGroup("y", false))
	require.Equal(t, 3, s.Triggers().Len())

	for want := 2; want >= 0; want-- {
		require.True(t, s.GarbageCollectTriggerGroups(ctx))
		assert.Equal(t, want, s.Triggers().Len())
	}
	assert.False(t, s.GarbageCollectTriggerGroups(ctx))
}

func TestRemoveInstrument_LeavesConsumerDangling(t *testing.T) {
	ctx, logs := testutil.LogContext()
	s := New()
	hs := chain(t, ctx, s, &testutil.CallLog{})

	require.True(t, s.RemoveInstrument(ctx, "scope"))
	report := s.RefreshAll(ctx)

	assert.Contains(t, report.Failed, "A")
	assert.Contains(t, logs.String(), "still consumed")
	errs := s.NodeErrors()
	require.NotEmpty(t, errs)
	assert.Equal(t, hs["A"], errs[0].Handle)
	assert.ErrorIs(t, errs[0].Err, graph.ErrDanglingInput)
}

func TestSnapshot(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New()
	addFake(t, ctx, s, "pri", "bench", nil)
	require.NoError(t, s.Arm(ctx, instrument.Normal, false))

	state := s.Snapshot()

	assert.Equal(t, s.ID().String(), state.ID)
	assert.True(t, state.Armed)
	require.Len(t, state.Groups, 1)
	assert.Equal(t, "pri", state.Groups[0].Primary)
	assert.Len(t, state.Nodes, 1)
}

func TestClose_ReportsLeaks(t *testing.T) {
	ctx, logs := testutil.LogContext()
	s := New()
	hs := chain(t, ctx, s, &testutil.CallLog{})
	pin := s.Graph().Pin(hs["C"])

	leaked, err := s.Close(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, leaked)
	assert.Contains(t, logs.String(), "leaked")
	pin.Release()
}
