package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/stash/pkg/importer"
)

func newStatusCommand() *Command {
	cmd := &Command{
		Name:        "status",
		Description: "Show live and recent import batches from a running daemon",
		Flags:       flag.NewFlagSet("status", flag.ExitOnError),
		Run:         runStatus,
	}

	cmd.Flags.String("daemon", "http://127.0.0.1:7770", "Daemon base URL")

	return cmd
}

type statusResponse struct {
	Live    []importer.OperationSnapshot `json:"live"`
	Batches []importer.BulkSnapshot      `json:"batches"`
}

func runStatus(args []string) error {
	cmd := newStatusCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	daemonURL := cmd.Flags.Lookup("daemon").Value.String()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(daemonURL + "/api/v1/imports")
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", daemonURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode daemon response: %w", err)
	}

	if len(status.Live) == 0 && len(status.Batches) == 0 {
		fmt.Println("No import activity")
		return nil
	}

	if len(status.Live) > 0 {
		fmt.Println("Live operations:")
		for _, op := range status.Live {
			fmt.Printf("  %-12s %s (%d files)\n", op.Status, op.Asset.String(), op.FileCount)
		}
	}
	for _, batch := range status.Batches {
		fmt.Printf("\nBatch %s: %s\n", batch.ID, batch.Status)
		for _, op := range batch.Operations {
			line := fmt.Sprintf("  %-12s %s", op.Status, op.Asset.String())
			if op.Error != "" {
				line += " (" + op.Error + ")"
			}
			fmt.Println(line)
		}
	}
	return nil
}
