package render

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/session"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// SocketIOConfig configures the broadcast renderer.
type SocketIOConfig struct {
	// URL is the server address, e.g. http://localhost:3000/socket.io/.
	URL string
	// Path overrides the socket.io path taken from URL.
	Path      string
	Namespace string
	// Event is the event name frames are emitted under.
	Event              string
	MaxPoints          int
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
}

// SocketIO emits every frame to a socket.io server for remote viewers.
// Frames rendered while the connection is down are dropped.
type SocketIO struct {
	io        *socket.Socket
	event     string
	maxPoints int

	connected atomic.Bool
	seq       atomic.Uint64
	dropped   atomic.Uint64
}

// DialSocketIO connects to the server and waits for the first connect.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("renderer", "socketio", "url", cfg.URL)
	logger.Info("Connecting frame broadcaster...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if cfg.Event == "" {
		cfg.Event = "waveforms"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	switch {
	case cfg.Path != "":
		opts.SetPath(cfg.Path)
	case parsedURL.Path != "":
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	s := &SocketIO{io: io, event: cfg.Event, maxPoints: cfg.MaxPoints}
	connectChan := make(chan error, 1)

	io.On(types.EventName("connect"), func(...any) {
		s.connected.Store(true)
		logger.Info("Frame broadcaster connected.", "sid", io.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		s.connected.Store(false)
		logger.Warn("Frame broadcaster disconnected.", "reason", reason)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return s, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(cfg.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", cfg.ConnectTimeout)
	}
}

// RenderAll implements session.Renderer.
func (s *SocketIO) RenderAll(ctx context.Context, f session.Frame) error {
	if !s.connected.Load() {
		s.dropped.Add(1)
		return nil
	}
	data, err := encodeForEmit(BuildPayload(f, s.seq.Add(1), s.maxPoints))
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	s.io.Emit(s.event, data)
	return nil
}

// Dropped returns the number of frames skipped while disconnected.
func (s *SocketIO) Dropped() uint64 {
	return s.dropped.Load()
}

// Close disconnects from the server.
func (s *SocketIO) Close() error {
	s.connected.Store(false)
	s.io.Disconnect()
	return nil
}

// encodeForEmit turns a payload into plain maps and slices, the shape the
// socket.io packet encoder handles.
func encodeForEmit(p Payload) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
