package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/asof/internal/fixture"
	"github.com/roach88/asof/internal/schema"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load a YAML fixture into the database",
		Long: `Append the fixture's commits and audit entries, save its live objects,
and record its business events, applying those marked apply: true.

Examples:
  asof seed ./testdata/shop.yaml --db shop.db --schema ./schema`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.textOrJSON(); err != nil {
				return err
			}
			return runSeed(cmd, rootOpts, args[0])
		},
	}
}

func runSeed(cmd *cobra.Command, opts *RootOptions, path string) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	fx, err := fixture.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}

	sess, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	out.VerboseLog("Seeding %s", path)
	sum, err := fx.Apply(ctx, sess.backend, sess.codec, opts.ledger(sess))
	if err != nil {
		return out.Fail(queryError("failed to seed fixture", err))
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"commits": sum.Commits,
			"entries": sum.Entries,
			"live":    sum.Live,
			"events":  sum.Events,
			"applied": sum.Applied,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d commits (%d entries), %d live objects, %d events (%d applied)\n",
		sum.Commits, sum.Entries, sum.Live, sum.Events, sum.Applied)
	return nil
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect entity metadata",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Compile a directory of CUE entity metadata and list its types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.textOrJSON(); err != nil {
				return err
			}
			return runSchemaValidate(cmd, rootOpts, args[0])
		},
	})
	return cmd
}

func runSchemaValidate(cmd *cobra.Command, opts *RootOptions, dir string) error {
	out := opts.formatter(cmd)

	reg, err := schema.LoadDir(dir)
	if err != nil {
		return out.Fail(WrapExitError(ExitFailure, "schema is invalid", err))
	}

	types := reg.Types()
	if opts.Format == "json" {
		list := make([]map[string]any, len(types))
		for i, t := range types {
			list[i] = map[string]any{
				"name":           t.Name,
				"id":             t.ID,
				"aggregate_root": t.AggregateRoot,
				"owns":           t.Owns,
				"refs":           t.Refs,
			}
		}
		return out.Success(map[string]any{"types": list})
	}

	w := cmd.OutOrStdout()
	for _, t := range types {
		root := ""
		if t.AggregateRoot {
			root = " (aggregate root)"
		}
		fmt.Fprintf(w, "%s%s\n", t, root)
	}
	fmt.Fprintf(w, "✓ %d entity types\n", len(types))
	return nil
}
