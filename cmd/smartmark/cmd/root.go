package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/smartmark/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "smartmark",
	Short: "Smartmark is a personal bookmark manager with live sync",
	Long: `Smartmark keeps one bookmark collection per signed-in user in Redis and
pushes every change to all open views of that user as it happens.

Without a subcommand it starts the HTTP server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.New().Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("❌ smartmark failed: %v", err)
	}
}
