package cli

import (
	"flag"

	"github.com/platinummonkey/stash/pkg/api"
)

func newUpdateCommand() *Command {
	cmd := &Command{
		Name:        "update",
		Description: "Update tracked assets to their latest versions",
		Flags:       flag.NewFlagSet("update", flag.ExitOnError),
		Run:         runUpdate,
	}

	cmd.Flags.String("on-conflict", "replace", "Policy for assets that already exist locally: replace, skip or prompt")
	cmd.Flags.Bool("all", false, "Update every tracked asset")

	return cmd
}

func runUpdate(args []string) error {
	cmd := newUpdateCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	if cmd.Flags.Lookup("all").Value.String() == "true" {
		return runUpdateAll(cmd)
	}
	return runImportBatch(cmd, api.KindUpdateToLatest)
}

// runUpdateAll sweeps every tracked asset instead of taking positional
// identifiers.
func runUpdateAll(cmd *Command) error {
	policy := cmd.Flags.Lookup("on-conflict").Value.String()
	decider, err := deciderFor(policy)
	if err != nil {
		return err
	}

	a, err := buildApp(decider)
	if err != nil {
		return err
	}

	var ids []api.AssetIdentifier
	for _, entry := range a.idx.All() {
		ids = append(ids, entry.Asset.ID.Tracked().WithVersion(""))
	}
	if len(ids) == 0 {
		a.logger.Info("nothing tracked, nothing to update")
		return nil
	}

	return runBatchWith(a, ids, api.KindUpdateToLatest)
}
