package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/ridoystarlord/schemadeploy/deploy"
	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/store"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	blue   = color.New(color.FgBlue, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func renderTable(w io.Writer, header []string, data [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header)
	if err := table.Bulk(data); err != nil {
		return fmt.Errorf("bulk adding data to table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	return nil
}

func renderSteps(w io.Writer, steps []diff.Step) error {
	data := make([][]string, len(steps))
	for i, s := range steps {
		data[i] = []string{strconv.Itoa(i + 1), string(s.Type), s.String()}
	}
	return renderTable(w, []string{"#", "Step", "Target"}, data)
}

func renderFailures(w io.Writer, failures []deploy.Failure) error {
	data := make([][]string, len(failures))
	for i, f := range failures {
		target := f.Model
		if f.Field != "" {
			target += "." + f.Field
		}
		if f.Relation != "" {
			target = "relation " + f.Relation
		}
		if f.Enum != "" {
			target = "enum " + f.Enum
		}
		step := ""
		if f.Step != nil {
			step = strconv.Itoa(*f.Step + 1)
		}
		kind := string(f.Kind)
		if f.Violation != "" {
			kind += "/" + f.Violation
		}
		data[i] = []string{kind, target, step, f.Message}
	}
	return renderTable(w, []string{"Error", "Target", "Step", "Message"}, data)
}

func renderTables(w io.Writer, tables []introspect.Table) error {
	var data [][]string
	for _, t := range tables {
		for _, c := range t.Columns {
			var flags string
			if c.PrimaryKey {
				flags += "PK "
			}
			if c.Unique {
				flags += "UNIQUE "
			}
			if !c.Nullable {
				flags += "NOT NULL "
			}
			ref := ""
			if c.ForeignKey != nil {
				ref = c.ForeignKey.Table + "." + c.ForeignKey.Column
			}
			data = append(data, []string{t.Name, c.Name, string(c.Type), c.RawType, flags, ref})
		}
	}
	return renderTable(w, []string{"Table", "Column", "Type", "Raw Type", "Flags", "References"}, data)
}

func renderHistory(w io.Writer, history []store.Migration) error {
	data := make([][]string, len(history))
	for i, m := range history {
		applied := "N/A"
		if m.AppliedAt != nil {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		checksum := m.Checksum
		if len(checksum) > 8 {
			checksum = checksum[:8] + "..."
		}
		data[i] = []string{
			strconv.Itoa(m.Revision),
			statusLabel(m.Status),
			m.ID,
			strconv.Itoa(len(m.Steps)),
			checksum,
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			applied,
		}
	}
	return renderTable(w, []string{"Rev", "Status", "Migration", "Steps", "Checksum", "Created", "Applied"}, data)
}

func statusLabel(s store.Status) string {
	switch s {
	case store.StatusApplied:
		return green.Sprint(s)
	case store.StatusFailed, store.StatusRolledBack:
		return red.Sprint(s)
	}
	return yellow.Sprint(s)
}

// printResult writes the outcome of a deploy or rollback.
func printResult(w io.Writer, res *deploy.Result, err error) error {
	if res == nil {
		return err
	}
	if len(res.Steps) > 0 {
		if rerr := renderSteps(w, res.Steps); rerr != nil {
			return rerr
		}
	}
	for _, warning := range res.Warnings {
		_, _ = yellow.Fprintf(w, "⚠️  %s\n", warning)
	}
	if res.Failed() {
		_, _ = red.Fprintln(w, "❌ Deploy failed:")
		if rerr := renderFailures(w, res.Errors); rerr != nil {
			return rerr
		}
		return err
	}

	switch {
	case res.NoChanges:
		_, _ = fmt.Fprintf(w, "✅ Schema is up to date (revision %d)\n", res.Revision)
	case res.DryRun:
		_, _ = cyan.Fprintln(w, "🔍 Dry run, nothing was applied. SQL:")
		_, _ = fmt.Fprintln(w, res.SQL)
	default:
		_, _ = green.Fprintf(w, "✅ Applied migration %s (revision %d)\n", res.MigrationID, res.Revision)
	}
	return err
}
