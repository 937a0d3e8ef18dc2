package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Show the live tables of a project",
	Long: `Read the physical tables of the project straight from the database,
bookkeeping tables excluded.

Examples:
  schemadeploy introspect
  schemadeploy introspect --project shop --stage dev
`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := setup(cmd.Context())
		if err != nil {
			fmt.Println("❌ Setup failed:", err)
			os.Exit(1)
		}
		defer a.Close()

		tables, err := a.backend.Introspect(cmd.Context(), a.key())
		if err != nil {
			fmt.Println("❌ Introspection failed:", err)
			os.Exit(1)
		}
		if len(tables) == 0 {
			fmt.Println("📋 No tables found")
			return
		}
		if err := renderTables(os.Stdout, tables); err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
	},
}
