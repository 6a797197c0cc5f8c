package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/asof/internal/audit"
	"github.com/roach88/asof/internal/diff"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/store"
)

// session is an open backend plus the services built over it.
type session struct {
	backend store.Backend
	codec   *entity.Codec
	service *audit.Service
}

func (s *session) Close() error {
	return s.backend.Close()
}

func (o *RootOptions) openSession(ctx context.Context) (*session, error) {
	codec, err := o.loadCodec()
	if err != nil {
		return nil, err
	}
	backend, err := o.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	opts := []audit.Option{audit.WithMetrics(o.Metrics)}
	if o.Prefetch {
		opts = append(opts, audit.WithPrefetch())
	}
	return &session{
		backend: backend,
		codec:   codec,
		service: audit.New(backend, codec, opts...),
	}, nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: must be a positive integer", what, s))
	}
	return id, nil
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Commit int64
	Date   string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <object-id>",
		Short: "Reconstruct an object as of a commit or date",
		Long: `Reconstruct one object as it stood at a coordinate: after a commit
(--commit) or on an effective date (--date). An object that did not exist
at the coordinate is reported as absent.

Examples:
  asof get 1 --commit 5
  asof get 1 --date 2020-06-01 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.textOrJSON(); err != nil {
				return err
			}
			id, err := parseID(args[0], "object id")
			if err != nil {
				return err
			}
			at, err := opts.coordinate()
			if err != nil {
				return err
			}
			return runGet(cmd, opts, id, at)
		},
	}

	cmd.Flags().Int64Var(&opts.Commit, "commit", 0, "commit id to reconstruct at")
	cmd.Flags().StringVar(&opts.Date, "date", "", "effective date to reconstruct at (YYYY-MM-DD)")
	cmd.MarkFlagsMutuallyExclusive("commit", "date")
	cmd.MarkFlagsOneRequired("commit", "date")

	return cmd
}

func (o *GetOptions) coordinate() (ir.Coordinate, error) {
	if o.Date != "" {
		d, err := ir.ParseDate(o.Date)
		if err != nil {
			return ir.Coordinate{}, WrapExitError(ExitCommandError, "invalid --date", err)
		}
		return ir.AtDate(d), nil
	}
	if o.Commit <= 0 {
		return ir.Coordinate{}, NewExitError(ExitCommandError, "--commit must be positive")
	}
	return ir.AtCommit(o.Commit), nil
}

func runGet(cmd *cobra.Command, opts *GetOptions, id int64, at ir.Coordinate) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	sess, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	e, err := sess.service.GetEntityAsOf(ctx, id, at)
	if err != nil {
		return out.Fail(queryError(fmt.Sprintf("get %d at %s", id, at), err))
	}

	if opts.Format == "json" {
		data := map[string]any{"object": id, "at": at.String()}
		if e == nil {
			data["absent"] = true
			return out.Success(data)
		}
		payload, err := sess.codec.Serialize(e)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode entity", err)
		}
		data["entity"] = json.RawMessage(payload)
		return out.Success(data)
	}

	w := cmd.OutOrStdout()
	if e == nil {
		fmt.Fprintf(w, "object %d is absent at %s\n", id, at)
		return nil
	}
	fmt.Fprintf(w, "%s %d at %s\n", e.Type, e.ID, at)
	return writeEntityText(w, e)
}

func writeEntityText(w io.Writer, e *entity.Entity) error {
	for _, k := range e.Fields.SortedKeys() {
		v, err := ir.MarshalValue(e.Fields[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s = %s\n", k, v)
	}
	for _, name := range sortedRefNames(e.Refs) {
		ref := e.Refs[name]
		fmt.Fprintf(w, "  %s -> %s %d\n", name, ref.Type, ref.ID)
	}
	for _, name := range sortedRefNames(e.Owned) {
		refs := e.Owned[name]
		ids := make([]int64, len(refs))
		typeName := ""
		for i, r := range refs {
			ids[i] = r.ID
			typeName = r.Type
		}
		fmt.Fprintf(w, "  %s => %s %v\n", name, typeName, ids)
	}
	return nil
}

func sortedRefNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Axis string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <root-id>",
		Short: "List the commits or dates at which an aggregate changed",
		Long: `List every point at which something under an aggregate root changed,
ascending: commit ids for --axis commit, effective dates for --axis date.

Examples:
  asof history 1
  asof history 1 --axis date --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.textOrJSON(); err != nil {
				return err
			}
			root, err := parseID(args[0], "root id")
			if err != nil {
				return err
			}
			axis, err := ir.ParseAxis(opts.Axis)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --axis", err)
			}
			return runHistory(cmd, opts, root, axis)
		},
	}

	cmd.Flags().StringVar(&opts.Axis, "axis", "commit", "time axis (commit|date)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, root int64, axis ir.Axis) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	sess, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	hist, err := sess.service.GetAggregateHistory(ctx, root, axis)
	if err != nil {
		return out.Fail(queryError(fmt.Sprintf("history of %d", root), err))
	}

	points := make([]string, 0, len(hist.Commits)+len(hist.Dates))
	for _, c := range hist.Commits {
		points = append(points, strconv.FormatInt(c, 10))
	}
	for _, d := range hist.Dates {
		points = append(points, d.Format(ir.DateLayout))
	}

	if opts.Format == "json" {
		data := map[string]any{"root": root, "axis": axis.String()}
		if axis == ir.AxisCommit {
			data["commits"] = append([]int64{}, hist.Commits...)
		} else {
			data["dates"] = points
		}
		return out.Success(data)
	}

	w := cmd.OutOrStdout()
	if len(points) == 0 {
		fmt.Fprintf(w, "no history for %d\n", root)
		return nil
	}
	for _, p := range points {
		fmt.Fprintln(w, p)
	}
	return nil
}

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	From   string
	To     string
	Commit int64
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff [root-id]",
		Short: "Report changes to an aggregate between two points, or within one commit",
		Long: `Report per-object changes, parents before children.

With a root id, compare the aggregate at --from and --to. Each coordinate is
"commit:N", "date:YYYY-MM-DD", a bare commit id or a bare date, and the two
may be on different axes. With --commit alone, report every entry recorded
in that commit against each object's prior revision.

The report renders as text, json or xml (--format).

Examples:
  asof diff 1 --from 1 --to 7
  asof diff 1 --from date:2020-01-01 --to commit:5 --format xml
  asof diff --commit 5 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "before coordinate")
	cmd.Flags().StringVar(&opts.To, "to", "", "after coordinate")
	cmd.Flags().Int64Var(&opts.Commit, "commit", 0, "report the changes recorded in one commit")
	cmd.MarkFlagsRequiredTogether("from", "to")
	cmd.MarkFlagsMutuallyExclusive("commit", "from")

	return cmd
}

func runDiff(cmd *cobra.Command, opts *DiffOptions, args []string) error {
	ctx := cmd.Context()
	format, err := diff.ParseFormat(opts.Format)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid format", err)
	}

	var run func(*session) (*diff.Report, error)
	var label string
	switch {
	case opts.Commit > 0 && len(args) == 0:
		label = fmt.Sprintf("diff commit %d", opts.Commit)
		run = func(s *session) (*diff.Report, error) {
			return s.service.DiffCommit(ctx, opts.Commit)
		}
	case len(args) == 1 && opts.From != "":
		root, err := parseID(args[0], "root id")
		if err != nil {
			return err
		}
		from, err := ir.ParseCoordinate(opts.From)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
		to, err := ir.ParseCoordinate(opts.To)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --to", err)
		}
		label = fmt.Sprintf("diff %d from %s to %s", root, from, to)
		run = func(s *session) (*diff.Report, error) {
			return s.service.Diff(ctx, root, from, to)
		}
	default:
		return NewExitError(ExitCommandError, "diff needs <root-id> with --from and --to, or --commit alone")
	}

	sess, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	report, err := run(sess)
	if err != nil {
		qe := queryError(label, err)
		if format == diff.FormatXML {
			return qe
		}
		return opts.formatter(cmd).Fail(qe)
	}
	if err := report.Render(cmd.OutOrStdout(), format); err != nil {
		return WrapExitError(ExitCommandError, "failed to render report", err)
	}
	return nil
}
