package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/async"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Scheduler runs the periodic background sweeps: checking tracked assets
// for newer versions and reconciling the index against the filesystem.
type Scheduler struct {
	server *Server
	cron   *cron.Cron
	logger *observability.Logger
}

// NewScheduler wires the cron jobs against the daemon's orchestrator and
// drift watcher. Schedules use standard five-field cron syntax.
func NewScheduler(server *Server, updateSchedule, driftSchedule string) (*Scheduler, error) {
	s := &Scheduler{
		server: server,
		cron:   cron.New(),
		logger: server.logger.WithField("component", "scheduler"),
	}

	if updateSchedule != "" {
		if _, err := s.cron.AddFunc(updateSchedule, s.updateSweep); err != nil {
			return nil, fmt.Errorf("invalid update check schedule %q: %w", updateSchedule, err)
		}
	}
	if driftSchedule != "" && server.drift != nil {
		if _, err := s.cron.AddFunc(driftSchedule, s.driftSweep); err != nil {
			return nil, fmt.Errorf("invalid drift scan schedule %q: %w", driftSchedule, err)
		}
	}

	return s, nil
}

// Start begins running the scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// updateSweep starts an update-to-latest batch over every tracked asset.
// Assets already at the newest version re-import idempotently; assets
// with a batch in flight are rejected by the orchestrator and retried on
// the next sweep.
func (s *Scheduler) updateSweep() {
	var ids []api.AssetIdentifier
	for _, entry := range s.server.idx.All() {
		ids = append(ids, entry.Asset.ID.Tracked().WithVersion(""))
	}
	if len(ids) == 0 {
		return
	}

	s.logger.WithField("assets", len(ids)).Info("starting scheduled update sweep")
	bulk, err := s.server.orch.BeginImport(s.server.baseCtx, ids, api.KindUpdateToLatest, nil)
	if err != nil {
		s.logger.WithError(err).Warn("scheduled update sweep not started")
		return
	}

	async.SafeGo(s.server.baseCtx, time.Hour, "update sweep wait", s.logger, func(ctx context.Context) error {
		if err := bulk.Wait(ctx); err != nil {
			return err
		}
		snap := bulk.Snapshot()
		s.logger.WithFields(map[string]interface{}{
			"batch":  snap.ID,
			"status": snap.Status,
		}).Info("scheduled update sweep finished")
		return nil
	})
}

// driftSweep reconciles the tracking index against the filesystem.
func (s *Scheduler) driftSweep() {
	async.SafeGo(s.server.baseCtx, 10*time.Minute, "drift scan", s.logger, func(ctx context.Context) error {
		return s.server.drift.Scan(ctx)
	})
}
