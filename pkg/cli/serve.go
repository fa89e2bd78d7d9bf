package cli

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/stash/pkg/async"
	"github.com/platinummonkey/stash/pkg/daemon"
	"github.com/platinummonkey/stash/pkg/observability"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the local daemon: status API, drift watcher and scheduled sweeps",
		Flags:       flag.NewFlagSet("serve", flag.ExitOnError),
		Run:         runServe,
	}

	cmd.Flags.Bool("watch", true, "Watch the destination directory for drift")

	return cmd
}

func runServe(args []string) error {
	cmd := newServeCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	watch := cmd.Flags.Lookup("watch").Value.String() == "true"

	a, err := buildApp(nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Observability.OTelEnabled {
		providers, err := observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       a.cfg.Observability.OTelEndpoint,
			ServiceName:    a.cfg.Observability.OTelServiceName,
			ServiceVersion: a.cfg.Observability.OTelServiceVersion,
			Insecure:       a.cfg.Observability.OTelInsecure,
		}, a.logger)
		if err != nil {
			a.logger.WithError(err).Warn("tracing disabled")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = providers.Shutdown(shutdownCtx)
			}()
		}
	}

	watcher := a.watcher
	if !watch {
		watcher = nil
	}
	server := daemon.NewServer(a.cfg.Daemon, a.idx, a.orch, watcher, a.logger, a.metrics, a.registry)

	sched, err := daemon.NewScheduler(server,
		a.cfg.Daemon.UpdateCheckSchedule, a.cfg.Daemon.DriftScanSchedule)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = sched.Stop(stopCtx)
	}()

	if watcher != nil {
		// Reconcile anything that drifted while the daemon was down.
		if err := watcher.Scan(ctx); err != nil {
			a.logger.WithError(err).Warn("startup drift scan incomplete")
		}
		async.SafeGo(ctx, 0, "drift watcher", a.logger, func(watchCtx context.Context) error {
			err := watcher.Watch(watchCtx, a.cfg.Project.DestinationRoot())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return server.Run(ctx)
}
