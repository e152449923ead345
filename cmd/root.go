package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "salesdesk",
	Short: "Sales desk service for leads, orders and invoicing",
	Long: `A service that manages the sales pipeline from lead import to
fulfilled order. Every change goes through a durable command inbox, so
the api, worker and process subcommands all drive the same engine.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
