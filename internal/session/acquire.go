package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/scopegrid/internal/ctxlog"
	"github.com/vk/scopegrid/internal/history"
	"github.com/vk/scopegrid/internal/instrument"
	"github.com/vk/scopegrid/internal/trigger"
)

// Arm arms the default trigger groups, or every group when all is set.
// Single and Forced runs disarm the session after one completed cycle.
// Groups that fail to arm are logged and reported as notices; the rest are
// still armed.
func (s *Session) Arm(ctx context.Context, kind instrument.TriggerKind, all bool) error {
	logger := ctxlog.FromContext(ctx)

	s.oneShot.Store(kind.OneShot())
	s.setArmed(true)

	var errs []error
	for _, g := range s.triggers.Groups() {
		if !all && !g.IsDefault() {
			continue
		}
		if err := g.Arm(ctx, kind); err != nil {
			logger.Warn("Trigger group failed to arm.", "group", g.Name(), "error", err)
			s.notifyOffline(g, err)
			errs = append(errs, err)
		}
	}
	logger.Info("Trigger armed.", "kind", kind, "all", all)
	return errors.Join(errs...)
}

// Stop stops the default trigger groups, or every group when all is set.
// It holds the waveform-data lock so no download can race it.
func (s *Session) Stop(ctx context.Context, all bool) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	var errs []error
	for _, g := range s.triggers.Groups() {
		if !all && !g.IsDefault() {
			continue
		}
		if err := g.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.oneShot.Store(false)
	s.setArmed(false)
	ctxlog.FromContext(ctx).Info("Trigger stopped.", "all", all)
	return errors.Join(errs...)
}

// CheckForPendingWaveforms reports whether any trigger group has data ready.
// With no instrument online, an armed session always reports true so
// software-only graphs are driven at the caller's polling cadence.
func (s *Session) CheckForPendingWaveforms() bool {
	if !s.anyOnline() {
		return s.armed.Load()
	}
	for _, g := range s.triggers.Groups() {
		if g.CheckForPendingWaveforms() {
			return true
		}
	}
	return false
}

// Download pulls data from every group with pending waveforms and queues
// the batch for the consumer. It returns the number of groups downloaded.
func (s *Session) Download(ctx context.Context) int {
	logger := ctxlog.FromContext(ctx)

	s.dataMu.Lock()
	var (
		batch       Batch
		hasHardware bool
	)
	for _, g := range s.triggers.Groups() {
		if g.HasHardware() {
			hasHardware = true
		}
		if !g.CheckForPendingWaveforms() {
			continue
		}
		res, err := g.Download(ctx)
		if err != nil {
			logger.Debug("Trigger group lost its pending data before download.", "group", g.Name(), "error", err)
			continue
		}
		for _, failed := range res.Failed {
			s.notify(failed, fmt.Sprintf("download from %s failed", failed))
		}
		batch.Captures = append(batch.Captures, res.Captures...)
		batch.Groups = append(batch.Groups, g)
	}
	s.dataMu.Unlock()

	if !hasHardware && s.oneShot.Load() {
		s.disarm(ctx)
	}

	select {
	case stale := <-s.batches:
		logger.Warn("Dropping acquisition batch that was never consumed.", "captures", len(stale.Captures))
	default:
	}
	s.batches <- batch

	if s.observer != nil {
		s.observer.Downloaded(len(batch.Captures))
	}
	return len(batch.Groups)
}

func (s *Session) disarm(ctx context.Context) {
	if s.oneShot.Swap(false) {
		s.setArmed(false)
		ctxlog.FromContext(ctx).Info("One-shot acquisition complete; trigger disarmed.")
	}
}

// SignalWaveformReady tells the consumer a downloaded and refreshed batch is
// waiting.
func (s *Session) SignalWaveformReady() {
	s.waveformReady.Signal()
}

// WaitWaveformProcessed blocks until the consumer has handled the last
// batch, then re-arms the event for the next one.
func (s *Session) WaitWaveformProcessed(ctx context.Context) error {
	if err := s.waveformProcessed.Wait(ctx); err != nil {
		return err
	}
	s.waveformProcessed.Clear()
	return nil
}

// CheckForWaveforms is the consumer side of an acquisition. Call it once per
// UI frame; it never blocks on hardware. On a new batch it records history,
// renders, releases the worker, re-arms multi-instrument free-run groups and
// completes one-shot runs. It reports whether a batch was handled.
func (s *Session) CheckForWaveforms(ctx context.Context) bool {
	if !s.waveformReady.Peek() {
		return false
	}
	s.waveformReady.Clear()
	logger := ctxlog.FromContext(ctx)

	var batch Batch
	select {
	case batch = <-s.batches:
	default:
	}

	s.dataMu.RLock()
	var acquisition *history.Record
	if len(batch.Captures) > 0 {
		if rec, ok := s.history.Insert(ctx, batch.Captures); ok {
			acquisition = &rec
		}
	}
	frame := s.frame()
	s.dataMu.RUnlock()
	frame.Acquisition = acquisition

	if s.renderer != nil {
		if err := s.renderer.RenderAll(ctx, frame); err != nil {
			logger.Error("Render failed.", "error", err)
		}
	}

	s.waveformProcessed.Signal()

	for _, g := range batch.Groups {
		if _, err := g.RearmIfMultiScope(ctx); err != nil {
			logger.Warn("Failed to re-arm free-running trigger group.", "group", g.Name(), "error", err)
			s.notifyOffline(g, err)
		}
	}
	s.disarm(ctx)
	return true
}

// ResumeStalledGroups re-arms free-running groups whose re-arm failed on an
// offline member, once that member is back. It returns the number of groups
// re-armed.
func (s *Session) ResumeStalledGroups(ctx context.Context) int {
	if !s.IsArmed() {
		return 0
	}
	logger := ctxlog.FromContext(ctx)
	resumed := 0
	for _, g := range s.triggers.Groups() {
		ok, err := g.Resume(ctx)
		if err != nil {
			logger.Warn("Failed to resume trigger group.", "group", g.Name(), "error", err)
			s.notifyOffline(g, err)
			continue
		}
		if ok {
			logger.Info("Trigger group resumed.", "group", g.Name())
			resumed++
		}
	}
	return resumed
}

// notifyOffline raises a notice for every offline member of a group that
// failed to arm because of them.
func (s *Session) notifyOffline(g *trigger.Group, err error) {
	if !errors.Is(err, trigger.ErrPartiallyOffline) {
		return
	}
	for _, inst := range g.Instruments() {
		if inst.IsOffline() {
			s.notify(inst.Name(), fmt.Sprintf("%s is offline; trigger group %s was not armed", inst.Name(), g.Name()))
		}
	}
}
