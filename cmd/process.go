package cmd

import (
	"context"
	"fmt"

	"example.com/backstage/services/salesdesk/config"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Drain the command inbox once",
	Long: `Run a single drain pass over the command inbox, print the outcome of
every envelope and exit. Useful after a crash or for scripted recovery.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Initialize the store, command log and processor
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}

	results, drainErr := eng.proc.DrainPass(context.Background())
	for _, res := range results {
		if res.RecordID != "" {
			fmt.Printf("%s %s %s %s\n", res.EnvelopeID, res.Kind, res.Outcome, res.RecordID)
			continue
		}
		fmt.Printf("%s %s %s\n", res.EnvelopeID, res.Kind, res.Outcome)
	}
	fmt.Printf("%d command(s) processed\n", len(results))

	if drainErr != nil {
		return errors.Wrap(drainErr, "drain stopped early, remaining envelopes stay queued")
	}
	return nil
}
