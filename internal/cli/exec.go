package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetherdb/tether/sqlite"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Database string
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Run a single SQL statement",
		Long: `Run a single SQL statement against a SQLite database.

SELECT statements print their rows; other statements print the number of
affected rows.

Example:
  tether exec --db ./app.db "SELECT id, name FROM person"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database (required)")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runExec(ctx context.Context, w io.Writer, opts *ExecOptions, statement string) error {
	db, err := sqlite.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	trimmed := strings.TrimSpace(strings.ToUpper(statement))
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "PRAGMA") {
		return execQuery(ctx, w, opts, db, statement)
	}

	affected, err := db.Exec(ctx, statement, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "statement failed", err)
	}
	return writeOutput(w, opts.Format, map[string]any{"rows_affected": affected}, func(w io.Writer) error {
		fmt.Fprintf(w, "%d row(s) affected\n", affected)
		return nil
	})
}

func execQuery(ctx context.Context, w io.Writer, opts *ExecOptions, db *sqlite.DB, statement string) error {
	rows, err := db.Query(ctx, statement, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "query failed", err)
	}
	defer rows.Close()

	// The generic cursor has no column metadata; scan rows as single
	// slices of values sized by trial. database/sql exposes columns only
	// on its concrete rows type.
	type anyRows interface{ Columns() ([]string, error) }
	cols, err := rows.(anyRows).Columns()
	if err != nil {
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			record[col] = vals[i]
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	return writeOutput(w, opts.Format, map[string]any{"columns": cols, "rows": out}, func(w io.Writer) error {
		fmt.Fprintln(w, strings.Join(cols, "\t"))
		for _, record := range out {
			parts := make([]string, len(cols))
			for i, col := range cols {
				parts[i] = fmt.Sprintf("%v", record[col])
			}
			fmt.Fprintln(w, strings.Join(parts, "\t"))
		}
		return nil
	})
}
