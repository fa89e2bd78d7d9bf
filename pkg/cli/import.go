package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/importer"
	"github.com/platinummonkey/stash/pkg/resolver"
)

func newImportCommand() *Command {
	cmd := &Command{
		Name:        "import",
		Description: "Import assets and their dependencies into the project",
		Flags:       flag.NewFlagSet("import", flag.ExitOnError),
		Run:         runImport,
	}

	cmd.Flags.String("on-conflict", "replace", "Policy for assets that already exist locally: replace, skip or prompt")

	return cmd
}

func runImport(args []string) error {
	cmd := newImportCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	return runImportBatch(cmd, api.KindImport)
}

// runImportBatch drives one foreground batch: resolve, import, wait and
// report. Shared by import and update, which differ only in kind.
func runImportBatch(cmd *Command, kind api.ImportKind) error {
	policy := cmd.Flags.Lookup("on-conflict").Value.String()
	decider, err := deciderFor(policy)
	if err != nil {
		return err
	}

	ids, err := parseIdentifiers(cmd.Flags.Args())
	if err != nil {
		return err
	}

	a, err := buildApp(decider)
	if err != nil {
		return err
	}

	return runBatchWith(a, ids, kind)
}

// runBatchWith runs one batch to completion against a wired app,
// cancelling on SIGINT or SIGTERM.
func runBatchWith(a *app, ids []api.AssetIdentifier, kind api.ImportKind) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runBatch(ctx, a, ids, kind)
}

func runBatch(ctx context.Context, a *app, ids []api.AssetIdentifier, kind api.ImportKind) error {
	progress := func(p resolver.Progress) {
		fmt.Fprintf(os.Stderr, "\rResolving dependencies... %d/%d", p.Loaded, p.Total)
	}

	bulk, err := a.orch.BeginImport(ctx, ids, kind, progress)
	if err != nil {
		fmt.Fprintln(os.Stderr)
		if errors.Is(err, context.Canceled) {
			// Interrupted during resolve or conflict decision; nothing
			// local changed.
			fmt.Printf("Batch %s before any files changed\n", api.StatusCancelled)
			return nil
		}
		return err
	}
	fmt.Fprintln(os.Stderr)

	if err := bulk.Wait(ctx); err != nil {
		// Interrupted; the orchestrator cancels in-flight operations and
		// cleans staging before the batch finishes.
		bulk.Cancel()
		waitCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = bulk.Wait(waitCtx)
	}

	return reportBatch(bulk)
}

func reportBatch(bulk *importer.BulkOperation) error {
	snap := bulk.Snapshot()
	failed := 0
	for _, op := range snap.Operations {
		line := fmt.Sprintf("%-12s %s", op.Status, op.Asset.String())
		if op.Destination != "" {
			line += " -> " + op.Destination
		}
		if op.Error != "" {
			line += " (" + op.Error + ")"
			failed++
		}
		fmt.Println(line)
	}
	fmt.Printf("\nBatch %s: %s (%d assets)\n", snap.ID, snap.Status, len(snap.Operations))
	if failed > 0 {
		return fmt.Errorf("%d of %d assets failed", failed, len(snap.Operations))
	}
	return nil
}
