package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/asof/internal/audit"
	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/events"
	"github.com/roach88/asof/internal/fixture"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/schema"
	"github.com/roach88/asof/internal/store"
)

// Harness runs the steps of one scenario against a seeded store.
type Harness struct {
	service *audit.Service
	ledger  *events.Ledger
	codec   *entity.Codec
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Fixture
// commit timestamps and event ids are deterministic, so outputs are stable
// across runs for golden comparison.
//
// Execution flow:
// 1. Compile the schema and open an in-memory store
// 2. Seed the fixture
// 3. Run each step and check its expectations
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg, err := schema.LoadDir(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	fx, err := fixture.Load(scenario.Fixture)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	codec := entity.NewCodec(reg)
	var opts []audit.Option
	if scenario.Prefetch {
		opts = append(opts, audit.WithPrefetch())
	}
	h := &Harness{
		service: audit.New(st, codec, opts...),
		ledger:  events.NewLedger(st, codec),
		codec:   codec,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	if _, err := fx.Apply(ctx, st, codec, h.ledger); err != nil {
		return nil, fmt.Errorf("failed to seed fixture: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		out, err := h.execute(ctx, step)
		sr := StepResult{Query: step.Query, Output: out}
		if err != nil {
			sr.Output = nil
			sr.Error = errorCode(err)
		}
		result.Steps = append(result.Steps, sr)

		for _, msg := range checkStep(i, step, out, err) {
			result.AddError(msg)
		}
		h.logger.Info("step completed", "step", i, "query", step.Query, "error", sr.Error)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Query {
	case QueryGet:
		at, _ := ir.ParseCoordinate(step.At)
		e, err := h.service.GetEntityAsOf(ctx, step.Object, at)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"object": step.Object, "at": at.String()}
		if e == nil {
			out["absent"] = true
			return out, nil
		}
		obj, err := h.entityObject(e)
		if err != nil {
			return nil, err
		}
		out["entity"] = obj
		return out, nil

	case QueryHistory:
		axis, _ := ir.ParseAxis(step.Axis)
		hist, err := h.service.GetAggregateHistory(ctx, step.Root, axis)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"root": step.Root, "axis": axis.String()}
		if axis == ir.AxisCommit {
			out["commits"] = int64s(hist.Commits)
		} else {
			dates := make([]any, len(hist.Dates))
			for i, d := range hist.Dates {
				dates[i] = d.Format(ir.DateLayout)
			}
			out["dates"] = dates
		}
		return out, nil

	case QueryDiff:
		from, _ := ir.ParseCoordinate(step.From)
		to, _ := ir.ParseCoordinate(step.To)
		report, err := h.service.Diff(ctx, step.Root, from, to)
		if err != nil {
			return nil, err
		}
		return reportObject(report)

	case QueryDiffCommit:
		report, err := h.service.DiffCommit(ctx, step.Commit)
		if err != nil {
			return nil, err
		}
		return reportObject(report)

	case QueryViewAsOf:
		date, _ := ir.ParseDate(step.Date)
		view, err := h.ledger.ViewAsOf(ctx, step.Target, date)
		if err != nil {
			return nil, err
		}
		live, lerr := h.ledger.Live(ctx, step.Target)
		if rerr := view.Restore(ctx); rerr != nil {
			return nil, rerr
		}
		if lerr != nil {
			return nil, lerr
		}
		return map[string]any{
			"target":      step.Target,
			"date":        step.Date,
			"rolled_back": int64s(view.RolledBack()),
			"live":        live.Fields,
		}, nil

	default:
		return nil, fmt.Errorf("unknown query %q", step.Query)
	}
}

// entityObject renders e as its canonical payload.
func (h *Harness) entityObject(e *entity.Entity) (ir.Object, error) {
	data, err := h.codec.Serialize(e)
	if err != nil {
		return nil, err
	}
	return ir.ParseCanonicalObject(data)
}

func reportObject(r interface{ WriteJSON(io.Writer) error }) (map[string]any, error) {
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		return nil, err
	}
	obj, err := ir.ParseCanonicalObject(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out, nil
}

func int64s(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// errorCode reduces err to its auditerr code, or its message if it has none.
func errorCode(err error) string {
	var ae *auditerr.Error
	if errors.As(err, &ae) {
		return string(ae.Code)
	}
	return err.Error()
}
