package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the deployed revision, open migrations and the lock holder",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Setup failed:", err)
			os.Exit(1)
		}
		defer a.Close()

		key := a.key()
		project, err := a.projects.Load(ctx, key)
		if err != nil {
			fmt.Println("❌ Status error:", err)
			os.Exit(1)
		}
		last, err := a.migrations.LastApplied(ctx, key)
		if err != nil {
			fmt.Println("❌ Status error:", err)
			os.Exit(1)
		}
		open, err := a.migrations.InProgress(ctx, key)
		if err != nil {
			fmt.Println("❌ Status error:", err)
			os.Exit(1)
		}
		holder, err := a.lease.Holder(ctx)
		if err != nil {
			fmt.Println("❌ Status error:", err)
			os.Exit(1)
		}

		blue.Printf("📦 Project %s\n", key)
		if project == nil {
			fmt.Println("🕒 Nothing deployed yet")
		} else {
			fmt.Printf("✅ Revision %d, %d models, %d enums, %d relations\n",
				project.Revision, len(project.Schema.Models), len(project.Schema.Enums), len(project.Schema.Relations))
		}
		if last != nil && last.AppliedAt != nil {
			fmt.Printf("   Last applied: %s at %s\n", last.ID, last.AppliedAt.Format("2006-01-02 15:04:05"))
		}

		if len(open) > 0 {
			yellow.Println("\n⚠️  Open migrations:")
			for _, m := range open {
				fmt.Printf("   - %s (revision %d, %s)\n", m.ID, m.Revision, m.Status)
			}
		}

		if holder == "" {
			fmt.Println("\n🔓 Deploy lock is free")
		} else {
			yellow.Printf("\n🔒 Deploy lock held by %s\n", holder)
		}
	},
}
