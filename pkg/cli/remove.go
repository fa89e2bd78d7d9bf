package cli

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
)

func newRemoveCommand() *Command {
	cmd := &Command{
		Name:        "remove",
		Description: "Remove tracked assets and their files from the project",
		Flags:       flag.NewFlagSet("remove", flag.ExitOnError),
		Run:         runRemove,
	}

	return cmd
}

func runRemove(args []string) error {
	cmd := newRemoveCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	ids, err := parseIdentifiers(cmd.Flags.Args())
	if err != nil {
		return err
	}

	a, err := buildApp(nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.orch.Remove(ctx, ids)
	if err != nil {
		return err
	}

	for _, t := range result.Removed {
		fmt.Printf("removed      %s\n", t.Key())
	}
	for _, t := range result.NotTracked {
		fmt.Printf("not tracked  %s\n", t.Key())
	}
	for _, pe := range result.FailedPaths {
		fmt.Printf("failed       %s: %s\n", pe.Path, pe.Err)
	}
	if len(result.FailedPaths) > 0 {
		return fmt.Errorf("%d paths could not be deleted", len(result.FailedPaths))
	}
	return nil
}
