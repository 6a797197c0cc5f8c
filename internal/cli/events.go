package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/events"
	"github.com/roach88/asof/internal/ir"
)

// NewEventsCommand creates the events command group.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Apply, roll back, or view live state around business events",
	}
	cmd.AddCommand(newViewAsOfCommand(rootOpts))
	cmd.AddCommand(newEventTransitionCommand(rootOpts, "apply", "Apply a recorded event to its target",
		func(ctx context.Context, l *events.Ledger, ev *events.Event) error { return l.Apply(ctx, ev) }))
	cmd.AddCommand(newEventTransitionCommand(rootOpts, "rollback", "Roll back an applied event",
		func(ctx context.Context, l *events.Ledger, ev *events.Event) error { return l.Rollback(ctx, ev) }))
	return cmd
}

func (o *RootOptions) ledger(sess *session) *events.Ledger {
	opts := []events.Option{events.WithMetrics(o.Metrics)}
	if o.MaxOrderAttempts > 0 {
		opts = append(opts, events.WithMaxOrderAttempts(o.MaxOrderAttempts))
	}
	return events.NewLedger(sess.backend, sess.codec, opts...)
}

func newViewAsOfCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view-as-of <target-id> <date>",
		Short: "Show an object's live state with later events rolled back",
		Long: `Roll back every applied event on the target that is effective after the
date, latest first, print the resulting live state, then re-apply the
events oldest first. The stored state is unchanged when the command ends.

Examples:
  asof events view-as-of 1 2021-02-01
  asof events view-as-of 1 2021-02-01 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.textOrJSON(); err != nil {
				return err
			}
			target, err := parseID(args[0], "target id")
			if err != nil {
				return err
			}
			date, err := ir.ParseDate(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid date", err)
			}
			return runViewAsOf(cmd, rootOpts, target, args[1], date)
		},
	}
}

func runViewAsOf(cmd *cobra.Command, opts *RootOptions, target int64, dateArg string, date time.Time) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	sess, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	ledger := opts.ledger(sess)

	view, err := ledger.ViewAsOf(ctx, target, date)
	if err != nil {
		return out.Fail(queryError(fmt.Sprintf("view %d as of %s", target, dateArg), err))
	}
	live, lerr := ledger.Live(ctx, target)
	if err := view.Restore(ctx); err != nil {
		return out.Fail(queryError(fmt.Sprintf("restore view of %d", target), err))
	}
	if lerr != nil {
		return out.Fail(queryError(fmt.Sprintf("live state of %d", target), lerr))
	}

	return writeLive(cmd, opts, out, live, map[string]any{
		"target":      target,
		"date":        date.Format(ir.DateLayout),
		"rolled_back": view.RolledBack(),
	})
}

func writeLive(cmd *cobra.Command, opts *RootOptions, out *OutputFormatter, live *entity.Entity, data map[string]any) error {
	if opts.Format == "json" {
		data["live"] = live.Fields
		return out.Success(data)
	}
	w := cmd.OutOrStdout()
	if ids, ok := data["rolled_back"].([]int64); ok {
		fmt.Fprintf(w, "rolled back %v\n", ids)
	}
	fmt.Fprintf(w, "%s %d\n", live.Type, live.ID)
	return writeEntityText(w, live)
}

func newEventTransitionCommand(rootOpts *RootOptions, name, short string,
	fn func(context.Context, *events.Ledger, *events.Event) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <event-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.textOrJSON(); err != nil {
				return err
			}
			id, err := parseID(args[0], "event id")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := rootOpts.formatter(cmd)
			sess, err := rootOpts.openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			ledger := rootOpts.ledger(sess)

			ev, err := ledger.Load(ctx, id)
			if err != nil {
				return out.Fail(queryError(fmt.Sprintf("load event %d", id), err))
			}
			if err := fn(ctx, ledger, ev); err != nil {
				return out.Fail(queryError(fmt.Sprintf("%s event %d", name, id), err))
			}
			live, err := ledger.Live(ctx, ev.TargetObjectID)
			if err != nil {
				return out.Fail(queryError(fmt.Sprintf("live state of %d", ev.TargetObjectID), err))
			}
			return writeLive(cmd, rootOpts, out, live, map[string]any{
				"event": id,
				"order": ev.Order,
				"state": string(ev.State),
			})
		},
	}
}
