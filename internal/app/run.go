package app

import (
	"context"
	"time"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/worker"
	"golang.org/x/sync/errgroup"
)

// Summary describes a finished run.
type Summary struct {
	Session      string
	Acquisitions int
	History      int
	Failed       []string
	Leaked       []string
	Worker       worker.Stats
	Duration     time.Duration
}

// Run arms the session and drives it until ctx is cancelled, the configured
// duration elapses, the acquisition limit is reached or a one-shot run
// completes. The session is closed on return; an App runs once.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger
	logger.Debug("App.Run method started.")
	started := time.Now()

	if d := a.settings.Run.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if srv := a.healthCheckServer(); srv != nil {
		g.Go(func() error { return a.serveHealthCheck(gctx, srv) })
	}
	for _, r := range a.runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return a.worker.Run(gctx) })

	kind, arm, err := a.armKind()
	if err != nil {
		stop()
		_ = g.Wait()
		a.shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	if arm {
		if err := a.session.Arm(gctx, kind, a.settings.Run.All); err != nil {
			logger.Warn("Some trigger groups were not armed.", "error", err)
		}
	}
	logger.Info("🚀 Acquisition running.", "arm", a.settings.Run.Arm, "instruments", len(a.layout.Instruments), "filters", len(a.layout.Filters))

	acquisitions := a.frameLoop(gctx, arm && kind.OneShot())

	stop()
	runErr := g.Wait()

	closeCtx := context.WithoutCancel(ctx)
	failed := a.session.NodeErrors()
	sum := &Summary{
		Session:      a.session.ID().String(),
		Acquisitions: acquisitions,
		History:      a.session.History().Len(),
		Worker:       a.worker.Stats(),
	}
	for _, n := range failed {
		sum.Failed = append(sum.Failed, n.Name)
	}
	sum.Leaked = a.shutdown(closeCtx)
	sum.Duration = time.Since(started)

	logger.Info("🏁 Acquisition finished.",
		"acquisitions", sum.Acquisitions,
		"history", sum.History,
		"refresh_avg", sum.Worker.Avg,
		"refresh_p99", sum.Worker.P99,
		"duration", sum.Duration,
	)
	return sum, runErr
}

// frameLoop is the consumer side. Once per frame it collects finished
// acquisitions, resumes stalled free-run groups, surfaces hardware notices
// and collects one empty trigger group. It returns the number of acquisitions handled.
func (a *App) frameLoop(ctx context.Context, oneShot bool) int {
	logger := ctxlog.FromContext(ctx)
	ticker := time.NewTicker(a.frameInterval())
	defer ticker.Stop()

	limit := a.settings.Run.MaxAcquisitions
	acquisitions := 0
	for {
		select {
		case <-ctx.Done():
			return acquisitions
		case <-ticker.C:
		}

		if a.session.CheckForWaveforms(ctx) {
			acquisitions++
			if limit > 0 && acquisitions >= limit {
				logger.Info("Acquisition limit reached.", "limit", limit)
				return acquisitions
			}
			if oneShot && !a.session.IsArmed() {
				return acquisitions
			}
		}
		a.session.ResumeStalledGroups(ctx)
		a.drainNotices(ctx)
		a.session.GarbageCollectTriggerGroups(ctx)
	}
}

func (a *App) drainNotices(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for {
		select {
		case n := <-a.session.Notifications():
			logger.Warn("Hardware notice.", "instrument", n.Instrument, "message", n.Message)
		default:
			return
		}
	}
}
