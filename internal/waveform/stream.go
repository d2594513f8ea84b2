package waveform

// Stream is one output of a graph node. Each publish replaces the current
// Waveform and bumps the revision counter, so consumers can tell whether
// anything changed since they last looked.
//
// Streams are not safe for concurrent mutation. Writers hold the session's
// waveform-data lock exclusively; readers hold it shared.
type Stream struct {
	Name     string
	current  *Waveform
	revision uint64
}

// NewStream creates an empty, named stream.
func NewStream(name string) *Stream {
	return &Stream{Name: name}
}

// Publish replaces the stream's data and increments its revision.
func (s *Stream) Publish(w *Waveform) {
	s.current = w
	s.revision++
}

// Clear drops the current data. The revision still advances because the
// visible value changed.
func (s *Stream) Clear() {
	if s.current == nil {
		return
	}
	s.current = nil
	s.revision++
}

// Data returns the current waveform, or nil if nothing has been published.
func (s *Stream) Data() *Waveform {
	return s.current
}

// Revision returns the number of publishes so far.
func (s *Stream) Revision() uint64 {
	return s.revision
}

// Meta describes a stream without exposing its samples. It is what an external
// serializer snapshots.
type Meta struct {
	Name         string
	Revision     uint64
	Samples      int
	Timescale    int64
	TriggerPhase int64
	Start        Timestamp
}

// Meta returns a metadata snapshot of the stream.
func (s *Stream) Meta() Meta {
	m := Meta{Name: s.Name, Revision: s.revision}
	if w := s.current; w != nil {
		m.Samples = len(w.Samples)
		m.Timescale = w.Timescale
		m.TriggerPhase = w.TriggerPhase
		m.Start = w.Start
	}
	return m
}
