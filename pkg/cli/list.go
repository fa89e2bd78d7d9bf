package cli

import (
	"flag"
	"fmt"
	"sort"
)

func newListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List tracked assets",
		Flags:       flag.NewFlagSet("list", flag.ExitOnError),
		Run:         runList,
	}

	cmd.Flags.Bool("files", false, "Also list each asset's files")

	return cmd
}

func runList(args []string) error {
	cmd := newListCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	showFiles := cmd.Flags.Lookup("files").Value.String() == "true"

	a, err := buildApp(nil)
	if err != nil {
		return err
	}

	entries := a.idx.All()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Asset.ID.String() < entries[j].Asset.ID.String()
	})

	for _, entry := range entries {
		fmt.Printf("%s  (%d files, imported %s)\n",
			entry.Asset.ID.String(), len(entry.Files), entry.ImportedAt.Format("2006-01-02 15:04:05"))
		if showFiles {
			for _, f := range entry.Files {
				fmt.Printf("    %s  %s\n", f.Guid, f.RemotePath)
			}
		}
	}
	fmt.Printf("\n%d assets tracked\n", len(entries))
	return nil
}
