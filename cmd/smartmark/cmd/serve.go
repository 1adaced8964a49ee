package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/smartmark/internal/app"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server. Configuration is read from SMARTMARK_* environment
variables; see the README for the full list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.New().Run()
	},
}
