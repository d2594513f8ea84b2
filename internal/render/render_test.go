package render

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/history"
	"github.com/vk/scopegrid/internal/session"
	"github.com/vk/scopegrid/internal/testutil"
	"github.com/vk/scopegrid/internal/waveform"
	sioserver "github.com/zishang520/socket.io/v2/socket"
)

func testFrame() session.Frame {
	samples := make([]float64, 10)
	for i := range samples {
		samples[i] = float64(i)
	}
	rec := &history.Record{
		ID:  uuid.New(),
		Key: waveform.Timestamp{Seconds: 12, Femtos: 500},
		Instruments: map[string][][]*waveform.Waveform{
			"scope": nil,
			"aux":   nil,
		},
	}
	return session.Frame{
		Acquisition: rec,
		Nodes: []session.NodeFrame{
			{
				Snapshot: graph.Snapshot{
					Name:    "scope.ch0",
					Kind:    graph.KindChannel,
					Outputs: []waveform.Meta{{Name: "data", Revision: 3}},
				},
				Data: []*waveform.Waveform{{Samples: samples, Timescale: 100, TriggerPhase: 7}},
			},
			{
				Snapshot: graph.Snapshot{
					Name:    "gain",
					Kind:    graph.KindFilter,
					Type:    "scale",
					Outputs: []waveform.Meta{{Name: "out"}},
					Err:     graph.ErrDanglingInput,
				},
				Data: []*waveform.Waveform{nil},
			},
		},
	}
}

func TestBuildPayload(t *testing.T) {
	t.Run("full resolution", func(t *testing.T) {
		p := BuildPayload(testFrame(), 1, 0)

		require.NotNil(t, p.Acquisition)
		assert.Equal(t, []string{"aux", "scope"}, p.Acquisition.Instruments)
		require.Len(t, p.Nodes, 2)
		assert.Equal(t, "channel", p.Nodes[0].Kind)
		assert.Len(t, p.Nodes[0].Streams[0].Samples, 10)
		assert.Equal(t, uint64(3), p.Nodes[0].Streams[0].Revision)
		assert.Equal(t, "scale", p.Nodes[1].Type)
		assert.Contains(t, p.Nodes[1].Error, "dangling")
		assert.Empty(t, p.Nodes[1].Streams[0].Samples)
	})

	t.Run("decimated", func(t *testing.T) {
		p := BuildPayload(testFrame(), 2, 4)

		s := p.Nodes[0].Streams[0]
		assert.Equal(t, 3, s.Stride)
		assert.Equal(t, []float64{0, 3, 6, 9}, s.Samples)
		assert.Equal(t, int64(300), s.Timescale)
		assert.Equal(t, int64(7), s.TriggerPhase)
	})
}

func TestEncodeForEmit(t *testing.T) {
	m, err := encodeForEmit(BuildPayload(testFrame(), 5, 0))
	require.NoError(t, err)

	assert.Equal(t, 5.0, m["seq"])
	nodes, ok := m["nodes"].([]any)
	require.True(t, ok)
	assert.Len(t, nodes, 2)
}

func TestLog(t *testing.T) {
	ctx, logs := testutil.LogContext()
	l := NewLog()

	require.NoError(t, l.RenderAll(ctx, testFrame()))

	assert.Equal(t, uint64(1), l.Frames())
	assert.Contains(t, logs.String(), "Frame rendered.")
	assert.Contains(t, logs.String(), "gain")
}

type failing struct{ calls int }

func (f *failing) RenderAll(context.Context, session.Frame) error {
	f.calls++
	return errors.New("display lost")
}

func TestFanout(t *testing.T) {
	ctx, _ := testutil.LogContext()
	bad := &failing{}
	good := NewLog()

	err := Fanout{bad, good}.RenderAll(ctx, testFrame())

	assert.ErrorContains(t, err, "display lost")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, uint64(1), good.Frames(), "a failing renderer does not stop the rest")
}

func TestDialSocketIO_Unreachable(t *testing.T) {
	ctx, _ := testutil.LogContext()

	_, err := DialSocketIO(ctx, SocketIOConfig{
		URL:            "http://127.0.0.1:1/socket.io/",
		ConnectTimeout: 500 * time.Millisecond,
	})

	assert.Error(t, err)
}

func TestSocketIO_EmitsFramesWhileConnected(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.LogContext()
	joined := make(chan struct{}, 1)
	received := make(chan any, 4)

	io := sioserver.NewServer(nil, nil)
	io.Of("/frames", nil).On("connection", func(clients ...any) {
		client := clients[0].(*sioserver.Socket)
		client.On("frame", func(args ...any) {
			if len(args) > 0 {
				received <- args[0]
			}
		})
		joined <- struct{}{}
	})
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", io.ServeHandler(nil))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		io.Close(nil)
		srv.Close()
	})

	r, err := DialSocketIO(ctx, SocketIOConfig{
		URL:            srv.URL + "/socket.io/",
		Namespace:      "/frames",
		Event:          "frame",
		MaxPoints:      5,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection")
	}

	// --- Act ---
	require.NoError(t, r.RenderAll(ctx, testFrame()))

	// --- Assert ---
	var got any
	select {
	case got = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("no frame reached the server")
	}
	payload, ok := got.(map[string]any)
	require.True(t, ok, "payload is %T", got)
	assert.EqualValues(t, 1, payload["seq"])
	nodes, ok := payload["nodes"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 2)
	first := nodes[0].(map[string]any)
	assert.Equal(t, "scope.ch0", first["name"])
	streams := first["streams"].([]any)
	assert.Len(t, streams[0].(map[string]any)["samples"], 5)
	assert.Zero(t, r.Dropped())

	require.NoError(t, r.Close())
	require.NoError(t, r.RenderAll(ctx, testFrame()))
	assert.Equal(t, uint64(1), r.Dropped(), "frames are dropped once disconnected")
}
