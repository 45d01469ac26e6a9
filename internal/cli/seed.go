package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/tetherdb/tether"
	"github.com/tetherdb/tether/sqlite"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
	Mapping  string
}

// seedFile is the YAML fixture format: a list of class batches.
type seedFile []struct {
	Class string           `yaml:"class"`
	Rows  []map[string]any `yaml:"rows"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Insert YAML fixtures through a store",
		Long: `Insert rows from a YAML fixture file through a tether store.

Fixtures run in one unit of work and commit at the end; any failure rolls
the whole file back. String values are normalized to NFC so seeded data is
byte-identical across platforms.

Example:
  tether seed --db ./app.db --mapping ./schema people.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database (required)")
	cmd.Flags().StringVar(&opts.Mapping, "mapping", "", "directory of CUE mapping files (required)")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("mapping")

	return cmd
}

func runSeed(ctx context.Context, w io.Writer, opts *SeedOptions, fixturePath string) error {
	mapping, err := LoadMapping(opts.Mapping)
	if err != nil {
		return err
	}
	classes := mapping.BuildClasses()

	raw, err := os.ReadFile(fixturePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read fixtures", err)
	}
	var fixtures seedFile
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return WrapExitError(ExitCommandError, "invalid fixture file", err)
	}

	db, err := sqlite.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	store := tether.NewStore(db)
	defer store.Close()

	inserted := 0
	for _, batch := range fixtures {
		class, ok := classes[batch.Class]
		if !ok {
			return NewExitError(ExitFailure, fmt.Sprintf("fixtures reference unmapped class %q", batch.Class))
		}
		for _, row := range batch.Rows {
			obj := tether.NewObject(class)
			for name, value := range row {
				col := class.ColumnByName(name)
				if col == nil {
					return NewExitError(ExitFailure,
						fmt.Sprintf("class %q has no column %q", batch.Class, name))
				}
				if s, isStr := value.(string); isStr {
					value = norm.NFC.String(s)
				}
				if err := obj.Set(col, value); err != nil {
					return WrapExitError(ExitFailure, "bad fixture value", err)
				}
			}
			if err := store.Add(obj); err != nil {
				return WrapExitError(ExitFailure, "failed to add fixture row", err)
			}
			inserted++
		}
	}
	if err := store.Commit(ctx); err != nil {
		if rbErr := store.Rollback(ctx); rbErr != nil {
			return WrapExitError(ExitFailure, "seed failed and rollback failed", rbErr)
		}
		return WrapExitError(ExitFailure, "seed failed, rolled back", err)
	}

	return writeOutput(w, opts.Format, map[string]any{"inserted": inserted}, func(w io.Writer) error {
		fmt.Fprintf(w, "inserted %d row(s)\n", inserted)
		return nil
	})
}
