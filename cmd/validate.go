package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/loader"
	"github.com/ridoystarlord/schemadeploy/schema"
)

var (
	validateSchemaFile string
	validateFormat     string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a schema without connecting to the database",
	Long: `Validate the declared schema offline: identifiers, field types, enum
defaults, relation sides and link strategies, and the capabilities its id
types require.

Examples:
  schemadeploy validate                       # Validate SCHEMA_FILE
  schemadeploy validate --schema custom.yaml  # Validate a custom schema file
  schemadeploy validate --format json         # Output problems as JSON
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()
		path := validateSchemaFile
		if path == "" {
			path = cfg.SchemaFile
		}
		s, err := loader.Load(path)
		if err != nil {
			fmt.Println("❌ Failed to load schema:", err)
			os.Exit(1)
		}
		caps, err := cfg.CapabilitySet()
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		problems := validateSchema(s, caps)
		if err := printProblems(os.Stdout, problems, validateFormat); err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		if len(problems) > 0 {
			os.Exit(1)
		}
	},
}

// validateSchema collects the problems of s alone and those of deploying
// it to an empty project with caps.
func validateSchema(s schema.Schema, caps schema.CapabilitySet) schema.Problems {
	var problems schema.Problems
	if errors.As(schema.Validate(s), &problems) {
		return problems
	}
	_, err := diff.Infer(schema.Schema{}, s, caps)
	var capErr *diff.CapabilityError
	if errors.As(err, &capErr) {
		for _, m := range capErr.Missing {
			problems = append(problems, schema.Problem{
				Model:   m.Model,
				Message: fmt.Sprintf("id type %s requires capability %s", m.IDType, m.Capability),
			})
		}
	}
	return problems
}

func printProblems(w io.Writer, problems schema.Problems, format string) error {
	switch format {
	case "json":
		out := struct {
			Valid    bool             `json:"valid"`
			Problems []schema.Problem `json:"problems"`
		}{Valid: len(problems) == 0, Problems: problems}
		if out.Problems == nil {
			out.Problems = []schema.Problem{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text":
		if len(problems) == 0 {
			_, _ = green.Fprintln(w, "✅ Schema is valid")
			return nil
		}
		_, _ = red.Fprintf(w, "❌ %d problem(s) found:\n", len(problems))
		for _, p := range problems {
			_, _ = fmt.Fprintln(w, "   -", p.String())
		}
		return nil
	}
	return fmt.Errorf("unknown format %q (text, json)", format)
}

func init() {
	validateCmd.Flags().StringVarP(&validateSchemaFile, "schema", "s", "", "Schema file to validate (default: SCHEMA_FILE)")
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text, json)")
}
