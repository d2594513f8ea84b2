package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/testutil"
	"github.com/vk/scopegrid/internal/trigger"
	"github.com/vk/scopegrid/internal/waveform"
)

func capture(inst string, sec int64, samples ...float64) trigger.Capture {
	ts := waveform.Timestamp{Seconds: sec}
	return trigger.Capture{
		Instrument: inst,
		Start:      ts,
		Channels:   [][]*waveform.Waveform{{{Samples: samples, Start: ts}}},
	}
}

type countingObserver struct {
	recorded   int
	duplicates []string
}

func (o *countingObserver) Recorded(int)           { o.recorded++ }
func (o *countingObserver) Duplicate(inst string) { o.duplicates = append(o.duplicates, inst) }

func TestInsert_Dedup(t *testing.T) {
	// --- Arrange ---
	ctx, logs := testutil.LogContext()
	obs := &countingObserver{}
	s := New(0, WithObserver(obs))

	_, ok := s.Insert(ctx, []trigger.Capture{capture("scope", 10, 1)})
	require.True(t, ok)

	// --- Act ---
	_, ok = s.Insert(ctx, []trigger.Capture{capture("scope", 10, 2)})

	// --- Assert ---
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len(), "history length does not grow")
	rec, found := s.Get(waveform.Timestamp{Seconds: 10})
	require.True(t, found)
	assert.Equal(t, []float64{1}, rec.Instruments["scope"][0][0].Samples, "first record wins")
	assert.Contains(t, logs.String(), "Duplicate acquisition discarded")
	assert.Equal(t, []string{"scope"}, obs.duplicates)
	assert.Equal(t, 1, obs.recorded)
}

func TestInsert_SameTimestampOtherInstrumentMerges(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New(0)

	s.Insert(ctx, []trigger.Capture{capture("a", 5)})
	rec, ok := s.Insert(ctx, []trigger.Capture{capture("b", 5)})

	require.True(t, ok)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []string{"a", "b"}, rec.InstrumentNames())
}

func TestInsert_PartialDuplicateKeepsTheRest(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New(0)
	s.Insert(ctx, []trigger.Capture{capture("a", 5)})

	rec, ok := s.Insert(ctx, []trigger.Capture{capture("a", 5), capture("b", 6)})

	require.True(t, ok)
	assert.Equal(t, []string{"b"}, rec.InstrumentNames())
	assert.Equal(t, int64(6), rec.Key.Seconds)
	assert.Equal(t, 2, s.Len())
}

func TestInsert_DedupFollowsEachInstrumentsOwnTimestamp(t *testing.T) {
	// --- Arrange ---
	// The secondary stamps its capture a second after the primary, so its
	// data lives in a record keyed by the primary's timestamp.
	ctx, logs := testutil.LogContext()
	obs := &countingObserver{}
	s := New(0, WithObserver(obs))
	_, ok := s.Insert(ctx, []trigger.Capture{capture("a", 10, 1), capture("b", 11, 1)})
	require.True(t, ok)

	// --- Act ---
	rec, ok := s.Insert(ctx, []trigger.Capture{capture("a", 20, 2), capture("b", 11, 2)})
	_, okAlone := s.Insert(ctx, []trigger.Capture{capture("b", 11, 3)})

	// --- Assert ---
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, rec.InstrumentNames(), "stale secondary capture dropped")
	assert.False(t, okAlone)
	assert.Equal(t, 2, s.Len())

	holding := 0
	for _, r := range s.Records() {
		if ts, has := r.Starts["b"]; has && ts.Seconds == 11 {
			holding++
			assert.Equal(t, []float64{1}, r.Instruments["b"][0][0].Samples, "first capture wins")
		}
	}
	assert.Equal(t, 1, holding)
	assert.Equal(t, []string{"b", "b"}, obs.duplicates)
	assert.Contains(t, logs.String(), "Duplicate acquisition discarded")
}

func TestInsert_AgedOutTimestampCanBeRecordedAgain(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New(1)

	s.Insert(ctx, []trigger.Capture{capture("a", 1), capture("b", 2)})
	s.Insert(ctx, []trigger.Capture{capture("a", 3)})
	require.Equal(t, []waveform.Timestamp{{Seconds: 3}}, s.Timestamps())

	_, ok := s.Insert(ctx, []trigger.Capture{capture("b", 2)})
	assert.True(t, ok, "trimmed records no longer count as duplicates")

	s.Clear()
	_, ok = s.Insert(ctx, []trigger.Capture{capture("a", 3)})
	assert.True(t, ok, "Clear forgets every timestamp")
}

func TestInsert_KeepsTimeOrder(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New(0)
	for _, sec := range []int64{3, 1, 2} {
		s.Insert(ctx, []trigger.Capture{capture("scope", sec)})
	}

	assert.Equal(t, []waveform.Timestamp{{Seconds: 1}, {Seconds: 2}, {Seconds: 3}}, s.Timestamps())
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.Key.Seconds)
}

func TestDepth_SkipsPinned(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New(2)

	s.Insert(ctx, []trigger.Capture{capture("scope", 1)})
	require.True(t, s.Pin(waveform.Timestamp{Seconds: 1}))
	for sec := int64(2); sec <= 5; sec++ {
		s.Insert(ctx, []trigger.Capture{capture("scope", sec)})
	}

	assert.Equal(t, []waveform.Timestamp{{Seconds: 1}, {Seconds: 4}, {Seconds: 5}}, s.Timestamps())

	require.True(t, s.Unpin(waveform.Timestamp{Seconds: 1}))
	assert.Equal(t, []waveform.Timestamp{{Seconds: 4}, {Seconds: 5}}, s.Timestamps())
	assert.False(t, s.Pin(waveform.Timestamp{Seconds: 1}), "aged out")
}

func TestSetLabel(t *testing.T) {
	ctx, _ := testutil.LogContext()
	s := New(0)
	s.Insert(ctx, []trigger.Capture{capture("scope", 1)})

	require.True(t, s.SetLabel(waveform.Timestamp{Seconds: 1}, "glitch"))
	rec, _ := s.Get(waveform.Timestamp{Seconds: 1})
	assert.Equal(t, "glitch", rec.Label)
	assert.False(t, s.SetLabel(waveform.Timestamp{Seconds: 9}, "x"))
}

func TestArchive(t *testing.T) {
	ctx, _ := testutil.LogContext()
	a, err := OpenArchive(ArchiveConfig{InMemory: true})
	require.NoError(t, err)
	defer a.Close()
	s := New(2, WithArchive(a))

	for sec := int64(1); sec <= 3; sec++ {
		s.Insert(ctx, []trigger.Capture{capture("scope", sec, 1, 2, 3)})
	}
	require.True(t, s.SetLabel(waveform.Timestamp{Seconds: 3}, "last"))

	list, err := a.List(0)
	require.NoError(t, err)
	require.Len(t, list, 2, "aged-out records are dropped from the archive")
	assert.Equal(t, int64(3), list[0].Key.Seconds, "newest first")
	assert.Equal(t, "last", list[0].Label)
	assert.Equal(t, []string{"scope"}, list[0].Instruments)
	assert.Equal(t, 3, list[0].Samples)
	assert.Equal(t, int64(2), list[1].Key.Seconds)

	limited, err := a.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpenArchive_RequiresPath(t *testing.T) {
	_, err := OpenArchive(ArchiveConfig{})
	assert.Error(t, err)
}
