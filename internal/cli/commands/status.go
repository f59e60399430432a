package commands

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StatusOptions holds options for the status command.
type StatusOptions struct {
	Packages []string
	Test     bool
}

// statusRow is the json form of one unit status.
type statusRow struct {
	Package string     `json:"package"`
	Version string     `json:"version"`
	Profile string     `json:"profile"`
	Path    string     `json:"path"`
	Fresh   bool       `json:"fresh"`
	Reason  string     `json:"reason,omitempty"`
	BuiltAt *time.Time `json:"built_at,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	opts := &StatusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which units are fresh and which would be rebuilt",
		Long: `Plan a build without running it and print every unit with its freshness
and, for stale units, the reason it would be rebuilt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			root, err := e.rootDir()
			if err != nil {
				return err
			}
			mode := core.ModeBuild
			if opts.Test {
				mode = core.ModeTest
			}
			statuses, err := e.newEngine(nil).Status(cmd.Context(), engine.Request{
				RootDir:  root,
				Packages: opts.Packages,
				Mode:     mode,
			})
			if err != nil {
				return failure(err)
			}
			if e.renderer.Mode() == output.ModeJSON {
				return renderStatusJSON(e.renderer.Writer(), statuses)
			}
			renderStatusTable(e.renderer.Writer(), statuses)
			return nil
		},
	}
	addPackageFlag(cmd, &opts.Packages, "Package to inspect (may be repeated)")
	cmd.Flags().BoolVar(&opts.Test, "test", false, "Include the test unit and dev-dependencies")
	return cmd
}

func renderStatusTable(w io.Writer, statuses []engine.UnitStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Package", "Version", "Profile", "State", "Reason", "Built"})
	titleCaser := cases.Title(language.English)
	stale := 0
	for _, st := range statuses {
		state := "fresh"
		if !st.Fresh {
			state = "stale"
			stale++
		}
		built := "-"
		if !st.BuiltAt.IsZero() {
			built = st.BuiltAt.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{
			st.Unit.Package.Name(),
			st.Unit.Package.Version(),
			titleCaser.String(string(st.Unit.Profile)),
			state,
			st.Reason,
			built,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "stale", stale})
	t.Render()
}

func renderStatusJSON(w io.Writer, statuses []engine.UnitStatus) error {
	rows := make([]statusRow, 0, len(statuses))
	for _, st := range statuses {
		row := statusRow{
			Package: st.Unit.Package.Name(),
			Version: st.Unit.Package.Version(),
			Profile: string(st.Unit.Profile),
			Path:    st.Unit.Package.Dir(),
			Fresh:   st.Fresh,
			Reason:  st.Reason,
		}
		if !st.BuiltAt.IsZero() {
			at := st.BuiltAt
			row.BuiltAt = &at
		}
		rows = append(rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
