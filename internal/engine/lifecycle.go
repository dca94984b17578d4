// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pdiddy/fusion-engine/internal/fault"
)

const snapshotTimeout = 5 * time.Second

// Start restores persisted reputation and launches the background work:
// health probes, cache maintenance, and periodic reputation snapshots. The
// work stops when ctx is done or Close is called. Start is a no-op once the
// engine is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if e.snapshots != nil {
		saved, err := e.snapshots.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading reputation snapshot: %w", err)
		}
		if n := e.tracker.Restore(saved); n > 0 {
			e.logger.Info().Int("providers", n).Msg("restored provider reputation")
		}

		cr := cron.New()
		if _, err := cr.AddFunc(e.cfg.Reputation.SnapshotSchedule, func() { e.saveSnapshot(ctx) }); err != nil {
			return fault.Configf("reputation snapshot schedule %q: %v", e.cfg.Reputation.SnapshotSchedule, err)
		}
		cr.Start()
		e.cron = cr
	}

	if err := e.cache.StartMaintenance(ctx); err != nil {
		e.stopCron()
		return err
	}
	e.monitor.Start(ctx)
	e.started = true
	return nil
}

// Close stops background work, writes a final reputation snapshot, and
// releases the cache and snapshot store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.monitor.Stop()
	e.stopCron()

	var errs []error
	if e.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		if err := e.snapshots.Save(ctx, e.tracker.List()); err != nil {
			errs = append(errs, fmt.Errorf("saving reputation snapshot: %w", err))
		}
		cancel()
		errs = append(errs, e.snapshots.Close())
		e.snapshots = nil
	}
	errs = append(errs, e.cache.Close())
	e.started = false
	return errors.Join(errs...)
}

func (e *Engine) stopCron() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
		e.cron = nil
	}
}

func (e *Engine) saveSnapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	if err := e.snapshots.Save(ctx, e.tracker.List()); err != nil {
		e.logger.Warn().Err(err).Msg("saving reputation snapshot")
		return
	}
	e.logger.Debug().Msg("saved reputation snapshot")
}
