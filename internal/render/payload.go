// Package render holds the renderer collaborators a session hands frames
// to: a structured-log renderer, a socket.io broadcaster for remote viewers
// and a fan-out that drives several of them.
package render

import (
	"time"

	"github.com/vk/scopegrid/internal/session"
	"github.com/vk/scopegrid/internal/waveform"
)

// Payload is the wire form of a frame.
type Payload struct {
	Seq         uint64       `json:"seq"`
	Sent        time.Time    `json:"sent"`
	Acquisition *Acquisition `json:"acquisition,omitempty"`
	Nodes       []Node       `json:"nodes"`
}

// Acquisition identifies the history record a frame shows.
type Acquisition struct {
	ID          string   `json:"id"`
	Timestamp   string   `json:"timestamp"`
	Label       string   `json:"label,omitempty"`
	Instruments []string `json:"instruments"`
}

// Node is one graph node in a payload.
type Node struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Type    string   `json:"type,omitempty"`
	Error   string   `json:"error,omitempty"`
	Streams []Stream `json:"streams"`
}

// Stream is one output of a node, possibly decimated.
type Stream struct {
	Name         string    `json:"name"`
	Revision     uint64    `json:"revision"`
	Timescale    int64     `json:"timescale_fs"`
	TriggerPhase int64     `json:"trigger_phase_fs"`
	Stride       int       `json:"stride,omitempty"`
	Samples      []float64 `json:"samples"`
}

// BuildPayload converts a frame. Streams longer than maxPoints are decimated
// by keeping every n-th sample; zero keeps everything.
func BuildPayload(f session.Frame, seq uint64, maxPoints int) Payload {
	p := Payload{Seq: seq, Sent: time.Now(), Nodes: make([]Node, 0, len(f.Nodes))}
	if rec := f.Acquisition; rec != nil {
		p.Acquisition = &Acquisition{
			ID:          rec.ID.String(),
			Timestamp:   rec.Key.String(),
			Label:       rec.Label,
			Instruments: rec.InstrumentNames(),
		}
	}
	for _, nf := range f.Nodes {
		n := Node{Name: nf.Name, Kind: nf.Kind.String(), Type: nf.Type}
		if nf.Err != nil {
			n.Error = nf.Err.Error()
		}
		for i, meta := range nf.Outputs {
			var w *waveform.Waveform
			if i < len(nf.Data) {
				w = nf.Data[i]
			}
			n.Streams = append(n.Streams, buildStream(meta, w, maxPoints))
		}
		p.Nodes = append(p.Nodes, n)
	}
	return p
}

func buildStream(meta waveform.Meta, w *waveform.Waveform, maxPoints int) Stream {
	s := Stream{Name: meta.Name, Revision: meta.Revision, Samples: []float64{}}
	if w == nil {
		return s
	}
	s.Timescale = w.Timescale
	s.TriggerPhase = w.TriggerPhase
	if maxPoints <= 0 || len(w.Samples) <= maxPoints {
		s.Samples = w.Samples
		return s
	}
	stride := (len(w.Samples) + maxPoints - 1) / maxPoints
	s.Stride = stride
	s.Timescale = w.Timescale * int64(stride)
	s.Samples = make([]float64, 0, maxPoints)
	for i := 0; i < len(w.Samples); i += stride {
		s.Samples = append(s.Samples, w.Samples[i])
	}
	return s
}
