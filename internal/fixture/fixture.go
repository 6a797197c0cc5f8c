// Package fixture seeds a backend from a YAML description of commits, audit
// entries, live objects and business events.
//
// # Format
//
//	commits:
//	  - id: 1
//	    by: 7
//	    comment: "open order"
//	    entries:
//	      - object: 1
//	        type: Order
//	        action: added
//	        effective: 2020-01-01
//	        fields: { status: new }
//	        refs: { customer: 3 }
//	        owned: { lines: [2] }
//	      - object: 2
//	        type: OrderLine
//	        root: 1
//	        parent: 1
//	        action: added
//	        effective: 2020-01-01
//	live:
//	  - object: 1
//	    type: Order
//	    fields: { status: paid, total: 10 }
//	events:
//	  - target: 1
//	    effective: 2021-03-01
//	    kind: status_transition
//	    effect: { from: paid, to: shipped }
//	    apply: true
//
// Entry payloads are built from fields, refs and owned through the entity
// codec; a removed entry carries no payload. root defaults to the object
// itself, which is right for aggregate roots. Commit timestamps default to
// Epoch plus one minute per commit id.
package fixture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/events"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/store"
)

// Epoch is the default timestamp of commit 1.
var Epoch = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

// Fixture is a parsed seed file.
type Fixture struct {
	Commits []Commit `yaml:"commits"`
	Live    []Live   `yaml:"live,omitempty"`
	Events  []Event  `yaml:"events,omitempty"`
}

// Commit is one commit and the entries written in it.
type Commit struct {
	ID      int64     `yaml:"id"`
	At      time.Time `yaml:"at,omitempty"`
	By      int64     `yaml:"by,omitempty"`
	Comment string    `yaml:"comment,omitempty"`
	Entries []Entry   `yaml:"entries,omitempty"`
}

// Entry is one audit log row in object form.
type Entry struct {
	Object    int64              `yaml:"object"`
	Type      string             `yaml:"type"`
	Root      int64              `yaml:"root,omitempty"`
	Parent    int64              `yaml:"parent,omitempty"`
	Action    string             `yaml:"action"`
	Effective string             `yaml:"effective"`
	Archived  bool               `yaml:"archived,omitempty"`
	Fields    map[string]any     `yaml:"fields,omitempty"`
	Refs      map[string]int64   `yaml:"refs,omitempty"`
	Owned     map[string][]int64 `yaml:"owned,omitempty"`
}

// Live is the current state of one object.
type Live struct {
	Object int64          `yaml:"object"`
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Event is a business event, optionally applied once recorded.
type Event struct {
	Target      int64          `yaml:"target"`
	Effective   string         `yaml:"effective"`
	Description string         `yaml:"description,omitempty"`
	Kind        string         `yaml:"kind"`
	Effect      map[string]any `yaml:"effect"`
	Apply       bool           `yaml:"apply,omitempty"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture, rejecting unknown keys.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

func (f *Fixture) validate() error {
	var prev int64
	for i, c := range f.Commits {
		if c.ID <= prev {
			return fmt.Errorf("commits[%d]: id %d must be greater than %d", i, c.ID, prev)
		}
		prev = c.ID
		for j, e := range c.Entries {
			if e.Object <= 0 {
				return fmt.Errorf("commits[%d].entries[%d]: object is required", i, j)
			}
			if e.Type == "" {
				return fmt.Errorf("commits[%d].entries[%d]: type is required", i, j)
			}
			if _, err := ir.ParseAction(e.Action); err != nil {
				return fmt.Errorf("commits[%d].entries[%d]: %w", i, j, err)
			}
			if _, err := ir.ParseDate(e.Effective); err != nil {
				return fmt.Errorf("commits[%d].entries[%d]: %w", i, j, err)
			}
		}
	}
	for i, l := range f.Live {
		if l.Object <= 0 || l.Type == "" {
			return fmt.Errorf("live[%d]: object and type are required", i)
		}
	}
	for i, ev := range f.Events {
		if ev.Target <= 0 {
			return fmt.Errorf("events[%d]: target is required", i)
		}
		if ev.Kind == "" {
			return fmt.Errorf("events[%d]: kind is required", i)
		}
		if _, err := ir.ParseDate(ev.Effective); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return nil
}

// Summary counts what Apply wrote.
type Summary struct {
	Commits int
	Entries int
	Live    int
	Events  int
	Applied int
}

// Apply writes the fixture to b: commits with their entries in order, then
// live objects, then events. Events marked apply go through ledger.
func (f *Fixture) Apply(ctx context.Context, b store.Backend, codec *entity.Codec, ledger *events.Ledger) (Summary, error) {
	var sum Summary
	for _, c := range f.Commits {
		rec := ir.CommitRecord{
			CommitID:    c.ID,
			CommittedAt: c.At,
			CommittedBy: c.By,
			Comment:     c.Comment,
		}
		if rec.CommittedAt.IsZero() {
			rec.CommittedAt = Epoch.Add(time.Duration(c.ID-1) * time.Minute)
		}
		if err := b.AppendCommit(ctx, rec); err != nil {
			return sum, fmt.Errorf("commit %d: %w", c.ID, err)
		}
		sum.Commits++

		entries := make([]ir.AuditLogEntry, 0, len(c.Entries))
		for _, e := range c.Entries {
			entry, err := e.build(codec, c.ID)
			if err != nil {
				return sum, fmt.Errorf("commit %d: %w", c.ID, err)
			}
			entries = append(entries, entry)
		}
		if len(entries) > 0 {
			if err := b.AppendEntries(ctx, entries); err != nil {
				return sum, fmt.Errorf("commit %d: %w", c.ID, err)
			}
		}
		sum.Entries += len(entries)
	}

	for _, l := range f.Live {
		obj, err := l.build(codec)
		if err != nil {
			return sum, err
		}
		if err := b.SaveLive(ctx, obj); err != nil {
			return sum, fmt.Errorf("live %d: %w", l.Object, err)
		}
		sum.Live++
	}

	for i, ev := range f.Events {
		eff, err := ev.effect()
		if err != nil {
			return sum, fmt.Errorf("events[%d]: %w", i, err)
		}
		date, _ := ir.ParseDate(ev.Effective)
		recorded, err := ledger.Record(ctx, ev.Target, date, ev.Description, eff)
		if err != nil {
			return sum, fmt.Errorf("events[%d]: %w", i, err)
		}
		sum.Events++
		if !ev.Apply {
			continue
		}
		if err := ledger.Apply(ctx, recorded); err != nil {
			return sum, fmt.Errorf("events[%d]: %w", i, err)
		}
		sum.Applied++
	}

	slog.Info("fixture applied",
		"commits", sum.Commits,
		"entries", sum.Entries,
		"live", sum.Live,
		"events", sum.Events,
		"applied", sum.Applied)
	return sum, nil
}

func (e Entry) build(codec *entity.Codec, commitID int64) (ir.AuditLogEntry, error) {
	t, err := codec.Schema().ByName(e.Type)
	if err != nil {
		return ir.AuditLogEntry{}, fmt.Errorf("object %d: %w", e.Object, err)
	}
	action, _ := ir.ParseAction(e.Action)
	date, _ := ir.ParseDate(e.Effective)

	out := ir.AuditLogEntry{
		CommitID:       commitID,
		ObjectID:       e.Object,
		RootObjectID:   e.Root,
		ParentObjectID: e.Parent,
		EntityTypeID:   t.ID,
		EffectiveDate:  date,
		Action:         action,
		Archived:       e.Archived,
	}
	if out.RootObjectID == 0 {
		out.RootObjectID = e.Object
	}
	if action == ir.ActionRemoved {
		return out, nil
	}

	ent, err := toEntity(e.Object, e.Type, e.Fields)
	if err != nil {
		return ir.AuditLogEntry{}, err
	}
	for assoc, id := range e.Refs {
		ent.Refs[assoc] = entity.Ref{ID: id}
	}
	for assoc, ids := range e.Owned {
		for _, id := range ids {
			ent.Owned[assoc] = append(ent.Owned[assoc], entity.Ref{ID: id})
		}
	}
	payload, err := codec.Serialize(ent)
	if err != nil {
		return ir.AuditLogEntry{}, err
	}
	out.Payload = payload
	return out, nil
}

func (l Live) build(codec *entity.Codec) (store.LiveObject, error) {
	t, err := codec.Schema().ByName(l.Type)
	if err != nil {
		return store.LiveObject{}, fmt.Errorf("live %d: %w", l.Object, err)
	}
	ent, err := toEntity(l.Object, l.Type, l.Fields)
	if err != nil {
		return store.LiveObject{}, err
	}
	payload, err := codec.Serialize(ent)
	if err != nil {
		return store.LiveObject{}, err
	}
	return store.LiveObject{ObjectID: l.Object, EntityTypeID: t.ID, Payload: payload}, nil
}

func (ev Event) effect() (events.Effect, error) {
	obj, err := toObject(ev.Effect)
	if err != nil {
		return nil, fmt.Errorf("effect: %w", err)
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("effect: %w", err)
	}
	return events.DecodeEffect(ev.Kind, data)
}

func toEntity(id int64, typeName string, fields map[string]any) (*entity.Entity, error) {
	obj, err := toObject(fields)
	if err != nil {
		return nil, fmt.Errorf("object %d fields: %w", id, err)
	}
	e := entity.New(typeName, id)
	e.Fields = obj
	return e, nil
}

func toObject(m map[string]any) (ir.Object, error) {
	if m == nil {
		return ir.Object{}, nil
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.Object), nil
}
