package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemadeploy/deploy"
	"github.com/ridoystarlord/schemadeploy/loader"
)

var (
	schemaFile   string
	dryRunDeploy bool
	forceDeploy  bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the declared schema",
	Long: `Diff the declared schema against the last deployed one and apply the
resulting migration. Changes that would lose or violate stored data are
rejected unless --force is given.

Examples:
  schemadeploy deploy                       # Deploy SCHEMA_FILE
  schemadeploy deploy --schema models/      # Deploy the tagged structs of a directory
  schemadeploy deploy --dry-run             # Print the SQL without applying it
  schemadeploy deploy --force               # Apply despite data conflicts
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDeploy(cmd.Context(), dryRunDeploy); err != nil {
			os.Exit(1)
		}
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the steps and SQL a deploy would run",
	Long: `Plan a deploy of the declared schema without applying it. Equivalent to
deploy --dry-run.

Examples:
  schemadeploy plan
  schemadeploy plan --schema schema.json --stage dev
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDeploy(cmd.Context(), true); err != nil {
			os.Exit(1)
		}
	},
}

func runDeploy(ctx context.Context, dryRun bool) error {
	a, err := setup(ctx)
	if err != nil {
		fmt.Println("❌ Setup failed:", err)
		return err
	}
	defer a.Close()

	path := schemaFile
	if path == "" {
		path = a.cfg.SchemaFile
	}
	s, err := loader.Load(path)
	if err != nil {
		fmt.Println("❌ Failed to load schema:", err)
		return err
	}

	res, err := a.deployer.Deploy(ctx, deploy.Request{
		ProjectID: a.cfg.ProjectID,
		Stage:     a.cfg.Stage,
		Schema:    s,
		DryRun:    dryRun,
		Force:     forceDeploy,
	})
	return printResult(os.Stdout, res, err)
}

func init() {
	for _, c := range []*cobra.Command{deployCmd, planCmd} {
		c.Flags().StringVarP(&schemaFile, "schema", "f", "", "Schema file or models directory (default: SCHEMA_FILE)")
		c.Flags().BoolVar(&forceDeploy, "force", false, "Accept data conflicts as warnings")
	}
	deployCmd.Flags().BoolVar(&dryRunDeploy, "dry-run", false, "Preview the SQL that would be executed without applying it")
}
