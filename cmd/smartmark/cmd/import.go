package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/smartmark/internal/app"
)

var (
	importFile  string
	importOwner string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFile, "file", "", "Homepage bookmarks.yaml to import (required)")
	importCmd.Flags().StringVar(&importOwner, "owner", "", "Identity id that will own the bookmarks (required)")

	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("owner")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a Homepage bookmarks.yaml once",
	Long: `Import every bookmark of a Homepage bookmarks.yaml into one owner's
collection. URLs the owner already has are left untouched, so the command can
be run repeatedly. Only the Redis settings are read from the environment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := app.RunImport(cmd.Context(), importFile, importOwner)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ imported %d, already present %d, skipped %d\n",
			res.Imported, res.Existing, res.Skipped)
		return nil
	},
}
