package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
)

// healthHandler answers liveness probes.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// stateHandler serves the session snapshot as JSON.
func (app *App) stateHandler(w http.ResponseWriter, r *http.Request) {
	type nodeState struct {
		Name  string `json:"name"`
		Kind  string `json:"kind"`
		Error string `json:"error,omitempty"`
	}
	state := app.session.Snapshot()
	nodes := make([]nodeState, 0, len(state.Nodes))
	for _, n := range state.Nodes {
		ns := nodeState{Name: n.Name, Kind: n.Kind.String()}
		if n.Err != nil {
			ns.Error = n.Err.Error()
		}
		nodes = append(nodes, ns)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      state.ID,
		"armed":   state.Armed,
		"groups":  state.Groups,
		"nodes":   nodes,
		"history": len(state.History),
		"worker":  app.worker.Stats(),
	})
}

// healthCheckServer builds the health, state and metrics server. It returns
// nil when the server is disabled.
func (app *App) healthCheckServer() *http.Server {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Configuring health check server.")
	if app.settings.Health.Port <= 0 {
		logger.Debug("Health check server not started: disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", app.healthHandler)
	mux.HandleFunc("/state", app.stateHandler)
	mux.Handle("/metrics", app.metrics.Handler())

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.settings.Health.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return app.httpServer
}

// serveHealthCheck runs the server until ctx is done, then shuts it down.
func (app *App) serveHealthCheck(ctx context.Context, srv *http.Server) error {
	logger := ctxlog.FromContext(ctx)

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("health check server: %w", err)
	}
	logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://%s/health", ln.Addr()))

	errCh := make(chan error, 1)
	go func() {
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	logger.Info("🩺 Shutting down health check server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	logger.Debug("Health check server shut down gracefully.")
	return nil
}
