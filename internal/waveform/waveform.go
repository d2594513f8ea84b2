// Package waveform holds the sample buffers that flow from instruments into
// graph nodes and on to renderers.
package waveform

import (
	"fmt"
	"time"
)

// FemtosPerSecond is the number of femtoseconds in one second.
const FemtosPerSecond int64 = 1_000_000_000_000_000

// Timestamp is the start time of an acquisition: a coarse wall-clock second
// plus a fine offset in femtoseconds within that second.
type Timestamp struct {
	Seconds int64
	Femtos  int64
}

// TimestampFrom converts a wall-clock time into a Timestamp.
func TimestampFrom(t time.Time) Timestamp {
	return Timestamp{
		Seconds: t.Unix(),
		Femtos:  int64(t.Nanosecond()) * 1_000_000,
	}
}

// Before reports whether ts sorts strictly before other.
func (ts Timestamp) Before(other Timestamp) bool {
	if ts.Seconds != other.Seconds {
		return ts.Seconds < other.Seconds
	}
	return ts.Femtos < other.Femtos
}

// Compare returns -1, 0 or +1 as ts sorts before, equal to or after other.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.Before(other):
		return -1
	case other.Before(ts):
		return 1
	}
	return 0
}

// IsZero reports whether the timestamp was never set.
func (ts Timestamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Femtos == 0
}

// Time converts the timestamp back to wall-clock time, truncated to nanoseconds.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, ts.Femtos/1_000_000)
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%d.%015d", ts.Seconds, ts.Femtos)
}

// Waveform is one captured (or computed) sample set. A Waveform is treated as
// immutable once it has been published on a Stream, so history records and
// renderers can hold references to it without copying.
type Waveform struct {
	// Samples holds the sample values in acquisition order.
	Samples []float64
	// Timescale is the sample interval in femtoseconds.
	Timescale int64
	// TriggerPhase is the offset of the first sample from the trigger point, in femtoseconds.
	TriggerPhase int64
	// Start is the acquisition timestamp this sample set derives from.
	Start Timestamp
}

// Len returns the number of samples.
func (w *Waveform) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Samples)
}

// Duration returns the time span covered by the samples.
func (w *Waveform) Duration() time.Duration {
	if w == nil || len(w.Samples) == 0 {
		return 0
	}
	return time.Duration(int64(len(w.Samples)) * w.Timescale / 1_000_000)
}
