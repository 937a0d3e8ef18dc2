package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemadeploy/store"
)

var (
	historyLimit    int
	historyDetailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the migration history of a project",
	Long: `Show every recorded migration of a project with its revision, status
and timestamps.

Examples:
  schemadeploy history                 # Show all migration history
  schemadeploy history --limit 10      # Show the last 10 migrations
  schemadeploy history --detailed      # Show steps, warnings and errors
`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := setup(cmd.Context())
		if err != nil {
			fmt.Println("❌ Setup failed:", err)
			os.Exit(1)
		}
		defer a.Close()

		history, err := a.executor.History(cmd.Context(), a.key())
		if err != nil {
			fmt.Printf("❌ Error getting migration history: %v\n", err)
			os.Exit(1)
		}
		if len(history) == 0 {
			fmt.Println("📋 No migration history found")
			return
		}
		if historyLimit > 0 && len(history) > historyLimit {
			history = history[len(history)-historyLimit:]
		}

		fmt.Println("📋 Migration History")
		fmt.Println(strings.Repeat("=", 60))
		if historyDetailed {
			showDetailedHistory(history)
			return
		}
		if err := renderHistory(os.Stdout, history); err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		showSummary(history)
	},
}

func showDetailedHistory(history []store.Migration) {
	for _, m := range history {
		fmt.Printf("\n%d. ", m.Revision)
		switch m.Status {
		case store.StatusApplied:
			green.Print("✅ ")
		case store.StatusFailed, store.StatusRolledBack:
			red.Print("❌ ")
		default:
			yellow.Print("⚠️ ")
		}
		blue.Printf("%s\n", m.ID)

		cyan.Printf("   📅 Created: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
		if m.AppliedAt != nil {
			cyan.Printf("   ⏱️  Applied: %s (%v)\n", m.AppliedAt.Format("2006-01-02 15:04:05"), m.AppliedAt.Sub(m.CreatedAt).Round(time.Millisecond))
		}
		cyan.Printf("   📊 Status: %s\n", m.Status)
		if m.Force {
			cyan.Println("   💪 Forced")
		}
		for _, s := range m.Steps {
			fmt.Println("      -", s.String())
		}
		for _, w := range m.Warnings {
			yellow.Printf("   ⚠️  %s\n", w)
		}
		for _, e := range m.Errors {
			red.Printf("   💥 Error: %s\n", e)
		}
		if len(m.Checksum) > 8 {
			cyan.Printf("   🔍 Checksum: %s\n", m.Checksum[:8]+"...")
		}
	}
}

func showSummary(history []store.Migration) {
	counts := map[store.Status]int{}
	for _, m := range history {
		counts[m.Status]++
	}
	fmt.Printf("📊 Summary: %d total, %d applied, %d rolled back, %d failed\n",
		len(history), counts[store.StatusApplied], counts[store.StatusRolledBack], counts[store.StatusFailed])
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Limit number of records to show (0 = all)")
	historyCmd.Flags().BoolVarP(&historyDetailed, "detailed", "d", false, "Show detailed information")
}
