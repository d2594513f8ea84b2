// Package history keeps the time-ordered log of past acquisitions.
//
// Each record is keyed by the timestamp of the acquisition and holds the
// waveforms every instrument delivered for it. The store rejects a capture
// whose (instrument, timestamp) pair is already recorded: the first record
// wins and the newcomer is dropped with a warning, which protects against a
// trigger being counted twice. Records beyond the configured depth are aged
// out oldest first, skipping pinned ones.
package history

import (
	"context"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/trigger"
	"github.com/vk/scopegrid/internal/waveform"
)

// Record is one acquisition.
type Record struct {
	ID     uuid.UUID
	Key    waveform.Timestamp
	Label  string
	Pinned bool
	Added  time.Time
	// Instruments maps instrument name to its channels, then streams.
	Instruments map[string][][]*waveform.Waveform
	// Starts holds each instrument's own capture timestamp, which may differ
	// from Key for all but the first instrument of the acquisition.
	Starts map[string]waveform.Timestamp
}

// InstrumentNames returns the record's instruments in sorted order.
func (r *Record) InstrumentNames() []string {
	out := make([]string, 0, len(r.Instruments))
	for name := range r.Instruments {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (r *Record) clone() Record {
	c := *r
	c.Instruments = make(map[string][][]*waveform.Waveform, len(r.Instruments))
	for k, v := range r.Instruments {
		c.Instruments[k] = v
	}
	c.Starts = make(map[string]waveform.Timestamp, len(r.Starts))
	for k, v := range r.Starts {
		c.Starts[k] = v
	}
	return c
}

// Observer is told about every insert outcome. The metrics package
// implements it.
type Observer interface {
	Recorded(depth int)
	Duplicate(instrument string)
}

// Store is the history log. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records []*Record
	depth   int
	// recorded indexes every (instrument, timestamp) still held by a record.
	recorded map[string]mapset.Set[waveform.Timestamp]

	archive  *Archive
	observer Observer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithArchive mirrors record metadata into a persistent archive.
func WithArchive(a *Archive) Option {
	return func(s *Store) { s.archive = a }
}

// WithObserver attaches a metrics sink.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates a store keeping at most depth unpinned records. Zero or less
// keeps everything.
func New(depth int, opts ...Option) *Store {
	s := &Store{
		depth:    depth,
		recorded: make(map[string]mapset.Set[waveform.Timestamp]),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert records the captures of one acquisition and returns the record
// they landed in. Captures whose instrument already has a record at the same
// timestamp are discarded. ok is false when nothing was recorded.
func (s *Store) Insert(ctx context.Context, captures []trigger.Capture) (rec Record, ok bool) {
	logger := ctxlog.FromContext(ctx)

	s.mu.Lock()
	var (
		target *Record
		dups   []string
	)
	for _, c := range captures {
		if s.seen(c.Instrument, c.Start) {
			logger.Warn("Duplicate acquisition discarded; history already has this timestamp.",
				"instrument", c.Instrument, "timestamp", c.Start)
			dups = append(dups, c.Instrument)
			continue
		}
		if target == nil {
			target = s.recordAt(c.Start)
		}
		if _, taken := target.Instruments[c.Instrument]; taken {
			logger.Warn("Capture discarded; acquisition already holds data from this instrument.",
				"instrument", c.Instrument, "timestamp", c.Start, "acquisition", target.Key)
			dups = append(dups, c.Instrument)
			continue
		}
		target.Instruments[c.Instrument] = c.Channels
		target.Starts[c.Instrument] = c.Start
		s.index(c.Instrument).Add(c.Start)
	}
	var trimmed []*Record
	if target != nil {
		trimmed = s.trim()
		rec = target.clone()
		ok = true
	}
	depth := len(s.records)
	s.mu.Unlock()

	if s.observer != nil {
		for _, d := range dups {
			s.observer.Duplicate(d)
		}
		if ok {
			s.observer.Recorded(depth)
		}
	}
	if s.archive != nil {
		if ok {
			if err := s.archive.Put(rec); err != nil {
				logger.Error("Failed to archive history record.", "timestamp", rec.Key, "error", err)
			}
		}
		for _, r := range trimmed {
			if err := s.archive.Delete(r.Key); err != nil {
				logger.Error("Failed to drop archived history record.", "timestamp", r.Key, "error", err)
			}
		}
	}
	return rec, ok
}

// seen reports whether instrument already has data at ts in any record.
// Callers hold s.mu.
func (s *Store) seen(instrument string, ts waveform.Timestamp) bool {
	set, ok := s.recorded[instrument]
	return ok && set.Contains(ts)
}

// index returns the timestamps recorded for instrument. Callers hold s.mu.
func (s *Store) index(instrument string) mapset.Set[waveform.Timestamp] {
	set, ok := s.recorded[instrument]
	if !ok {
		set = mapset.NewThreadUnsafeSet[waveform.Timestamp]()
		s.recorded[instrument] = set
	}
	return set
}

// forget removes a dropped record from the index. Callers hold s.mu.
func (s *Store) forget(r *Record) {
	for inst, ts := range r.Starts {
		if set, ok := s.recorded[inst]; ok {
			set.Remove(ts)
			if set.Cardinality() == 0 {
				delete(s.recorded, inst)
			}
		}
	}
}

// find returns the record keyed exactly ts. Callers hold s.mu.
func (s *Store) find(ts waveform.Timestamp) *Record {
	i, found := s.position(ts)
	if !found {
		return nil
	}
	return s.records[i]
}

func (s *Store) position(ts waveform.Timestamp) (int, bool) {
	return slices.BinarySearchFunc(s.records, ts, func(r *Record, ts waveform.Timestamp) int {
		return r.Key.Compare(ts)
	})
}

// recordAt returns the record keyed ts, creating it in order if needed.
// Callers hold s.mu.
func (s *Store) recordAt(ts waveform.Timestamp) *Record {
	i, found := s.position(ts)
	if found {
		return s.records[i]
	}
	r := &Record{
		ID:          uuid.New(),
		Key:         ts,
		Added:       s.now(),
		Instruments: make(map[string][][]*waveform.Waveform),
		Starts:      make(map[string]waveform.Timestamp),
	}
	s.records = slices.Insert(s.records, i, r)
	return r
}

// trim drops the oldest unpinned records beyond depth. Callers hold s.mu.
func (s *Store) trim() []*Record {
	if s.depth <= 0 {
		return nil
	}
	var dropped []*Record
	for i := 0; s.unpinned() > s.depth && i < len(s.records); {
		if s.records[i].Pinned {
			i++
			continue
		}
		dropped = append(dropped, s.records[i])
		s.forget(s.records[i])
		s.records = slices.Delete(s.records, i, i+1)
	}
	return dropped
}

func (s *Store) unpinned() int {
	n := 0
	for _, r := range s.records {
		if !r.Pinned {
			n++
		}
	}
	return n
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns copies of every record, oldest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.clone()
	}
	return out
}

// Timestamps returns the record keys, oldest first.
func (s *Store) Timestamps() []waveform.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]waveform.Timestamp, len(s.records))
	for i, r := range s.records {
		out[i] = r.Key
	}
	return out
}

// Latest returns the newest record.
func (s *Store) Latest() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1].clone(), true
}

// Get returns the record keyed ts, for scrubbing back through history.
func (s *Store) Get(ts waveform.Timestamp) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(ts); r != nil {
		return r.clone(), true
	}
	return Record{}, false
}

// Pin keeps a record from ever being aged out.
func (s *Store) Pin(ts waveform.Timestamp) bool {
	return s.update(ts, func(r *Record) { r.Pinned = true })
}

// Unpin makes a record eligible for ageing again. The depth limit is
// re-applied immediately.
func (s *Store) Unpin(ts waveform.Timestamp) bool {
	ok := s.update(ts, func(r *Record) { r.Pinned = false })
	if ok {
		s.mu.Lock()
		dropped := s.trim()
		s.mu.Unlock()
		for _, r := range dropped {
			if s.archive != nil {
				_ = s.archive.Delete(r.Key)
			}
		}
	}
	return ok
}

// SetLabel attaches a user label to a record.
func (s *Store) SetLabel(ts waveform.Timestamp, label string) bool {
	return s.update(ts, func(r *Record) { r.Label = label })
}

func (s *Store) update(ts waveform.Timestamp, fn func(*Record)) bool {
	s.mu.Lock()
	r := s.find(ts)
	if r == nil {
		s.mu.Unlock()
		return false
	}
	fn(r)
	rec := r.clone()
	s.mu.Unlock()

	if s.archive != nil {
		_ = s.archive.Put(rec)
	}
	return true
}

// Clear drops every record, pinned or not.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = nil
	s.recorded = make(map[string]mapset.Set[waveform.Timestamp])
	s.mu.Unlock()
}

// Close closes the archive, if any.
func (s *Store) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}
