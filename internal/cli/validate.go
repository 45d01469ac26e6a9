package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tetherdb/tether/sqlite"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Database string
}

// validateReport is the machine-readable result of a validation run.
type validateReport struct {
	Classes  int      `json:"classes"`
	Problems []string `json:"problems"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <mapping-dir>",
		Short: "Check CUE class mappings against a database",
		Long: `Load CUE class mappings and verify that every mapped table and column
exists in the database.

Example:
  tether validate --db ./app.db ./schema`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database (required)")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runValidate(ctx context.Context, w io.Writer, opts *ValidateOptions, mappingDir string) error {
	mapping, err := LoadMapping(mappingDir)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	report := validateReport{Classes: len(mapping.Classes), Problems: []string{}}
	for _, def := range mapping.Classes {
		have, err := tableColumns(ctx, db, def.Table)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to inspect table "+def.Table, err)
		}
		if len(have) == 0 {
			report.Problems = append(report.Problems,
				fmt.Sprintf("class %s: table %q does not exist", def.Name, def.Table))
			continue
		}
		for _, col := range def.Columns {
			if !have[col.Name] {
				report.Problems = append(report.Problems,
					fmt.Sprintf("class %s: table %q has no column %q", def.Name, def.Table, col.Name))
			}
		}
	}

	err = writeOutput(w, opts.Format, report, func(w io.Writer) error {
		if len(report.Problems) == 0 {
			fmt.Fprintf(w, "ok: %d class(es) match the database\n", report.Classes)
			return nil
		}
		for _, p := range report.Problems {
			fmt.Fprintln(w, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(report.Problems) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d problem(s) found", len(report.Problems)))
	}
	return nil
}

// tableColumns returns the column names of a table, empty when the table
// does not exist.
func tableColumns(ctx context.Context, db *sqlite.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT name FROM pragma_table_info(?)`, []any{table})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
