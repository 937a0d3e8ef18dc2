package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	steps         int
	forceRollback bool
)

func init() {
	rollbackCmd.Flags().IntVarP(&steps, "steps", "s", 1, "Number of migrations to rollback")
	rollbackCmd.Flags().BoolVar(&forceRollback, "force", false, "Accept data conflicts as warnings")
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback migrations",
	Long: `Deploy, as a new migration, the schema the project had before its last
applied migrations. Renames are reversed so renamed data is kept.

Examples:
  schemadeploy rollback           # Rollback the last migration
  schemadeploy rollback --steps=3 # Rollback the last 3 migrations
  schemadeploy rollback -s 2 --force
`,
	Run: func(cmd *cobra.Command, args []string) {
		if steps < 1 {
			fmt.Println("❌ Steps must be at least 1")
			os.Exit(1)
		}

		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Setup failed:", err)
			os.Exit(1)
		}
		defer a.Close()

		res, err := a.deployer.Rollback(ctx, a.cfg.ProjectID, a.cfg.Stage, steps, forceRollback)
		if err := printResult(os.Stdout, res, err); err != nil {
			os.Exit(1)
		}

		if steps == 1 {
			fmt.Println("✅ Rolled back 1 migration.")
		} else {
			fmt.Printf("✅ Rolled back %d migrations.\n", steps)
		}
	},
}
