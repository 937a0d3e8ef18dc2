package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemadeploy/logging"
)

var (
	projectID string
	stage     string
)

var rootCmd = &cobra.Command{
	Use:   "schemadeploy",
	Short: "Deploy declarative schemas to PostgreSQL or SQLite",
	Long: `schemadeploy diffs a declared schema against the one last deployed,
checks the stored data for conflicts and applies the resulting migration
under a deploy lock.

Examples:

  schemadeploy plan
  schemadeploy deploy --schema schema.yaml
  schemadeploy rollback --steps 1
  schemadeploy history --project shop --stage dev
`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

// Register subcommands
func init() {
	rootCmd.PersistentFlags().Var(logging.LogLevel, "log-level", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project id (default: PROJECT_ID)")
	rootCmd.PersistentFlags().StringVar(&stage, "stage", "", "Project stage (default: STAGE)")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(introspectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(rollbackCmd)
}
