package diff

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
)

// Report is the ordered list of per-object deltas between two coordinates.
type Report struct {
	Before ir.Coordinate
	After  ir.Coordinate
	Deltas []Delta
}

// Delta is the change to one object.
type Delta struct {
	ObjectID      int64
	ParentID      int64
	Type          string
	Action        ir.Action
	CommitID      int64
	EffectiveDate time.Time
	Changes       []entity.Change
}

// Format selects a report rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ParseFormat accepts text, json or xml.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatXML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q: must be text, json or xml", s)
	}
}

// Render writes the report in format f.
func (r *Report) Render(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatXML:
		return r.WriteXML(w)
	case FormatText:
		return r.WriteText(w)
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
}

// toCanonicalMap converts the report for ir.MarshalCanonical, which only
// handles IR types and primitives. Absent sides of a change are omitted.
func (r *Report) toCanonicalMap() map[string]any {
	deltas := make([]any, len(r.Deltas))
	for i, d := range r.Deltas {
		changes := make([]any, len(d.Changes))
		for j, c := range d.Changes {
			m := map[string]any{"path": c.Path}
			if c.Old != nil {
				m["old"] = c.Old
			}
			if c.New != nil {
				m["new"] = c.New
			}
			changes[j] = m
		}
		m := map[string]any{
			"object_id":      d.ObjectID,
			"type":           d.Type,
			"action":         d.Action.String(),
			"commit_id":      d.CommitID,
			"effective_date": d.EffectiveDate.Format(ir.DateLayout),
			"changes":        changes,
		}
		if d.ParentID != 0 {
			m["parent_id"] = d.ParentID
		}
		deltas[i] = m
	}
	return map[string]any{
		"before": r.Before.String(),
		"after":  r.After.String(),
		"deltas": deltas,
	}
}

// WriteJSON writes the report as canonical JSON followed by a newline.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := ir.MarshalCanonical(r.toCanonicalMap())
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

type xmlReport struct {
	XMLName xml.Name    `xml:"changes"`
	Before  string      `xml:"before,attr"`
	After   string      `xml:"after,attr"`
	Objects []xmlObject `xml:"object"`
}

type xmlObject struct {
	ID        int64       `xml:"id,attr"`
	Type      string      `xml:"type,attr"`
	Action    string      `xml:"action,attr"`
	Commit    int64       `xml:"commit,attr"`
	Effective string      `xml:"effective,attr"`
	Parent    int64       `xml:"parent,attr,omitempty"`
	Changes   []xmlChange `xml:"change"`
}

type xmlChange struct {
	Path string `xml:"path,attr"`
	Old  string `xml:"old,omitempty"`
	New  string `xml:"new,omitempty"`
}

// WriteXML writes the report as an indented change document. Values are
// rendered as JSON text.
func (r *Report) WriteXML(w io.Writer) error {
	doc := xmlReport{
		Before:  r.Before.String(),
		After:   r.After.String(),
		Objects: make([]xmlObject, 0, len(r.Deltas)),
	}
	for _, d := range r.Deltas {
		obj := xmlObject{
			ID:        d.ObjectID,
			Type:      d.Type,
			Action:    d.Action.String(),
			Commit:    d.CommitID,
			Effective: d.EffectiveDate.Format(ir.DateLayout),
			Parent:    d.ParentID,
		}
		for _, c := range d.Changes {
			old, err := valueText(c.Old)
			if err != nil {
				return fmt.Errorf("object %d %s: %w", d.ObjectID, c.Path, err)
			}
			cur, err := valueText(c.New)
			if err != nil {
				return fmt.Errorf("object %d %s: %w", d.ObjectID, c.Path, err)
			}
			obj.Changes = append(obj.Changes, xmlChange{Path: c.Path, Old: old, New: cur})
		}
		doc.Objects = append(doc.Objects, obj)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteText writes one line per object followed by one indented line per
// change.
func (r *Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "changes %s -> %s\n", r.Before, r.After); err != nil {
		return err
	}
	if len(r.Deltas) == 0 {
		_, err := io.WriteString(w, "  (no changes)\n")
		return err
	}
	for _, d := range r.Deltas {
		if _, err := fmt.Fprintf(w, "%s %d %s (commit %d, effective %s)\n",
			d.Type, d.ObjectID, d.Action, d.CommitID, d.EffectiveDate.Format(ir.DateLayout)); err != nil {
			return err
		}
		for _, c := range d.Changes {
			old, err := valueText(c.Old)
			if err != nil {
				return err
			}
			cur, err := valueText(c.New)
			if err != nil {
				return err
			}
			if old == "" {
				old = "-"
			}
			if cur == "" {
				cur = "-"
			}
			if _, err := fmt.Fprintf(w, "  %s: %s -> %s\n", c.Path, old, cur); err != nil {
				return err
			}
		}
	}
	return nil
}

func valueText(v ir.Value) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := ir.MarshalValue(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
