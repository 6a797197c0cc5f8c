package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/asof/internal/config"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/schema"
	"github.com/roach88/asof/internal/store"
	"github.com/roach88/asof/internal/store/postgres"
)

// RootOptions holds global flags for all commands. Empty values are filled
// from the environment (see package config) before a command runs.
type RootOptions struct {
	Verbose     bool
	Format      string // "text" | "json" | "xml"
	DB          string
	PostgresDSN string
	Schema      string
	MetricsFile string

	MaxOrderAttempts int
	IDSetThreshold   int
	Prefetch         bool

	Metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// ValidFormats defines the allowed output formats. xml is only meaningful
// for diff reports.
var ValidFormats = []string{"text", "json", "xml"}

// NewRootCommand creates the root command for the asof CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "asof",
		Short: "asof - bitemporal audit trail queries",
		Long: `Query an audit log along two time axes: the commit sequence (system time)
and effective dates (business time). Reconstruct objects as of a point,
list an aggregate's history, diff two points, and view live state as of
an earlier business date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.apply(cfg)
			level, _ := cfg.Level()
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.writeMetrics()
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|xml)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (default $ASOF_DB)")
	cmd.PersistentFlags().StringVar(&opts.PostgresDSN, "postgres", "", "PostgreSQL DSN; selects the postgres backend (default $ASOF_POSTGRES_DSN)")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "directory of CUE entity metadata (default $ASOF_SCHEMA)")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write prometheus counters to this file on exit")

	// Add subcommands
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// apply fills unset options from cfg.
func (o *RootOptions) apply(cfg config.Config) {
	if o.DB == "" {
		o.DB = cfg.DBPath
	}
	if o.PostgresDSN == "" {
		o.PostgresDSN = cfg.PostgresDSN
	}
	if o.Schema == "" {
		o.Schema = cfg.SchemaDir
	}
	if o.MaxOrderAttempts == 0 {
		o.MaxOrderAttempts = cfg.MaxOrderAttempts
	}
	if o.IDSetThreshold == 0 {
		o.IDSetThreshold = cfg.IDSetThreshold
	}
	o.Prefetch = o.Prefetch || cfg.Prefetch
	if o.Metrics == nil {
		o.registry = prometheus.NewRegistry()
		o.Metrics = metrics.New(o.registry)
	}
}

func (o *RootOptions) writeMetrics() error {
	if o.MetricsFile == "" || o.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(o.MetricsFile, o.registry); err != nil {
		return WrapExitError(ExitCommandError, "failed to write metrics", err)
	}
	return nil
}

// openBackend opens the postgres backend when a DSN is set, the SQLite file
// otherwise.
func (o *RootOptions) openBackend(ctx context.Context) (store.Backend, error) {
	if o.PostgresDSN != "" {
		popts := []postgres.Option{postgres.WithMetrics(o.Metrics)}
		if o.IDSetThreshold > 0 {
			popts = append(popts, postgres.WithIDSetThreshold(o.IDSetThreshold))
		}
		st, err := postgres.Open(ctx, o.PostgresDSN, popts...)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		return st, nil
	}

	if o.DB == "" {
		return nil, NewExitError(ExitCommandError, "no database: set --db or ASOF_DB")
	}
	sopts := []store.Option{store.WithMetrics(o.Metrics)}
	if o.IDSetThreshold > 0 {
		sopts = append(sopts, store.WithIDSetThreshold(o.IDSetThreshold))
	}
	st, err := store.Open(o.DB, sopts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// loadCodec compiles the schema directory into a payload codec.
func (o *RootOptions) loadCodec() (*entity.Codec, error) {
	if o.Schema == "" {
		return nil, NewExitError(ExitCommandError, "no schema: set --schema or ASOF_SCHEMA")
	}
	reg, err := schema.LoadDir(o.Schema)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	return entity.NewCodec(reg), nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// textOrJSON rejects xml for commands that only render text and JSON.
func (o *RootOptions) textOrJSON() error {
	if o.Format == "xml" {
		return NewExitError(ExitCommandError, "xml output is only supported by diff")
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
