// Package snapshot materializes live entities as they existed at one fixed
// temporal coordinate.
//
// A Context memoizes every object it resolves, including confirmed absence,
// for its whole lifetime. It resolves references lazily by acting as the
// entity.Resolver for the payloads it decodes.
//
// Critical Patterns:
//   - One Context per request; it is not safe for concurrent use
//   - Close releases the store session (temporary id tables) it opened
//   - An object is memoized before its references are resolved, so a
//     back-reference from a child reaches the same instance
//   - A payload that references its own id resolves that reference to an
//     empty placeholder, never recursively
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/history"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/schema"
	"github.com/roach88/asof/internal/store"
)

// sessionOpener is implemented by stores that hand out sessions owning
// temporary join tables.
type sessionOpener interface {
	OpenSession(ctx context.Context) (store.Session, error)
}

// Option configures a Context.
type Option func(*Context)

// Eager bulk-loads every entry of the named types at construction, enabling
// Query for them.
func Eager(typeNames ...string) Option {
	return func(c *Context) {
		c.eager = true
		c.eagerTypes = append(c.eagerTypes, typeNames...)
	}
}

// ResolveAll prefetches, whenever a type is loaded, every type reachable
// from it through owned associations.
func ResolveAll() Option {
	return func(c *Context) { c.resolveAll = true }
}

// WithMetrics records memo hits and misses on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// lookup is a cached governing-entry lookup. found is false for confirmed
// absence.
type lookup struct {
	entry ir.AuditLogEntry
	found bool
}

// Context resolves entities at one coordinate.
type Context struct {
	at      ir.Coordinate
	codec   *entity.Codec
	schema  *schema.Registry
	source  store.Reader
	metrics *metrics.Metrics

	eager      bool
	eagerTypes []string
	resolveAll bool

	session store.Session
	index   *history.Index
	loaded  map[int32]bool

	memo     map[int64]*entity.Entity
	lookups  map[int32]map[int64]lookup
	decoding []int64 // ids whose payloads are being decoded, innermost last
	decoded  []int64 // ids memoized since the outermost decode began
	closed   bool
}

// Open returns a Context at coordinate at. In eager mode the requested types
// are loaded before Open returns.
func Open(ctx context.Context, src store.Reader, codec *entity.Codec, at ir.Coordinate, opts ...Option) (*Context, error) {
	c := &Context{
		at:      at,
		codec:   codec,
		schema:  codec.Schema(),
		source:  src,
		loaded:  map[int32]bool{},
		memo:    map[int64]*entity.Entity{},
		lookups: map[int32]map[int64]lookup{},
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, name := range c.eagerTypes {
		t, err := c.schema.ByName(name)
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.loadType(ctx, t); err != nil {
			c.Close()
			return nil, err
		}
	}
	slog.Debug("snapshot opened", "at", at.String(), "eager", c.eager, "resolve_all", c.resolveAll)
	return c, nil
}

// At returns the context's coordinate.
func (c *Context) At() ir.Coordinate {
	return c.at
}

// Close releases the store session, if one was opened. Safe to call more
// than once.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	if err != nil {
		return fmt.Errorf("close snapshot session: %w", err)
	}
	return nil
}

// reader returns the session, opening it on first use when the source
// supports sessions.
func (c *Context) reader(ctx context.Context) (store.Reader, error) {
	if c.closed {
		return nil, auditerr.InvalidState("snapshot at %s is closed", c.at)
	}
	if c.session != nil {
		return c.session, nil
	}
	o, ok := c.source.(sessionOpener)
	if !ok {
		return c.source, nil
	}
	s, err := o.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open snapshot session: %w", err)
	}
	c.session = s
	return s, nil
}

func (c *Context) historyIndex(ctx context.Context) (*history.Index, error) {
	if c.index != nil {
		return c.index, nil
	}
	r, err := c.reader(ctx)
	if err != nil {
		return nil, err
	}
	c.index = history.New(r, c.schema, history.WithMetrics(c.metrics))
	return c.index, nil
}

// loadType bulk-loads one type's entries at the coordinate, plus the types
// reachable from it when ResolveAll is set.
func (c *Context) loadType(ctx context.Context, t *schema.EntityType) error {
	types := []*schema.EntityType{t}
	if c.resolveAll {
		reach, err := c.schema.Reachable(t.Name)
		if err != nil {
			return err
		}
		types = reach
	}
	return c.loadTypes(ctx, types)
}

func (c *Context) loadTypes(ctx context.Context, types []*schema.EntityType) error {
	var ids []int32
	for _, t := range types {
		if !c.loaded[t.ID] {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	ix, err := c.historyIndex(ctx)
	if err != nil {
		return err
	}
	if err := ix.LoadTypes(ctx, ids, c.at); err != nil {
		return err
	}
	for _, id := range ids {
		c.loaded[id] = true
	}
	slog.Debug("snapshot types loaded", "at", c.at.String(), "type_ids", ids)
	return nil
}

// Resolve implements entity.Resolver.
func (c *Context) Resolve(ctx context.Context, typeName string, id int64) (*entity.Entity, error) {
	return c.Get(ctx, typeName, id)
}

// Get returns the object as of the context's coordinate, or nil when no
// entry governs it or the governing entry is a removal. An unknown type is a
// CONFIGURATION error.
func (c *Context) Get(ctx context.Context, typeName string, id int64) (*entity.Entity, error) {
	t, err := c.schema.ByName(typeName)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, t, id)
}

// GetObject is Get for callers that know only the object id.
func (c *Context) GetObject(ctx context.Context, id int64) (*entity.Entity, error) {
	return c.get(ctx, nil, id)
}

func (c *Context) get(ctx context.Context, t *schema.EntityType, id int64) (*entity.Entity, error) {
	if n := len(c.decoding); n > 0 && c.decoding[n-1] == id {
		name := ""
		if t != nil {
			name = t.Name
		}
		placeholder := entity.New(name, id)
		placeholder.Placeholder = true
		return placeholder, nil
	}
	if e, ok := c.memo[id]; ok {
		c.metrics.MemoLookup(true)
		if e != nil && t != nil && e.Type != t.Name {
			return nil, nil
		}
		return e, nil
	}
	if t != nil {
		if hit, ok := c.lookups[t.ID][id]; ok && !hit.found {
			c.metrics.MemoLookup(true)
			return nil, nil
		}
	}
	c.metrics.MemoLookup(false)

	entry, found, err := c.governing(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if !found {
		// A typed miss only rules out this type; the lookup cache holds it.
		if t == nil {
			c.memo[id] = nil
		}
		return nil, nil
	}
	if entry.Action == ir.ActionRemoved {
		c.memo[id] = nil
		return nil, nil
	}
	if _, err := c.schema.ByID(entry.EntityTypeID); err != nil {
		return nil, err
	}

	mark := len(c.decoded)
	c.decoding = append(c.decoding, id)
	e, err := c.codec.Deserialize(ctx, entry.Payload, c)
	c.decoding = c.decoding[:len(c.decoding)-1]
	if err != nil {
		// Objects finished under a failed decode may point at it.
		for _, done := range c.decoded[mark:] {
			delete(c.memo, done)
		}
		c.decoded = c.decoded[:mark]
		return nil, fmt.Errorf("object %d at commit %d: %w", id, entry.CommitID, err)
	}
	c.memo[id] = e
	if len(c.decoding) == 0 {
		c.decoded = c.decoded[:0]
	}
	return e, nil
}

// Decoding implements entity.Tracker. The object whose payload is being
// decoded is memoized before its references resolve.
func (c *Context) Decoding(e *entity.Entity) {
	if n := len(c.decoding); n > 0 && c.decoding[n-1] == e.ID {
		c.memo[e.ID] = e
		c.decoded = append(c.decoded, e.ID)
	}
}

// governing finds the entry in force for id. Loaded types are answered from
// the history index; everything else by a single-row store query whose
// result is cached per entity type.
func (c *Context) governing(ctx context.Context, t *schema.EntityType, id int64) (ir.AuditLogEntry, bool, error) {
	if t != nil && c.loaded[t.ID] {
		e, ok := c.index.Governing(id, c.at)
		return e, ok, nil
	}
	if t == nil && c.index != nil && c.index.Has(id) {
		if e, ok := c.index.Governing(id, c.at); ok && c.loaded[e.EntityTypeID] {
			return e, true, nil
		}
	}

	var typeKey int32
	if t != nil {
		typeKey = t.ID
		if hit, ok := c.lookups[typeKey][id]; ok {
			return hit.entry, hit.found, nil
		}
	}

	r, err := c.reader(ctx)
	if err != nil {
		return ir.AuditLogEntry{}, false, err
	}
	preds := []criteria.Predicate{criteria.ObjectIn{IDs: []int64{id}}, criteria.AsOf(c.at)}
	if t != nil {
		preds = append(preds, criteria.EntityTypeIn{TypeIDs: []int32{t.ID}})
	}
	rows, err := r.Entries(ctx, criteria.Query{
		Filter: criteria.All(preds...),
		Order:  criteria.LatestOn(c.at.Axis),
		Limit:  1,
	})
	if err != nil {
		return ir.AuditLogEntry{}, false, fmt.Errorf("governing entry for %d at %s: %w", id, c.at, err)
	}

	hit := lookup{}
	if len(rows) > 0 {
		hit = lookup{entry: rows[0], found: true}
		typeKey = rows[0].EntityTypeID
	}
	if c.lookups[typeKey] == nil {
		c.lookups[typeKey] = map[int64]lookup{}
	}
	c.lookups[typeKey][id] = hit

	if hit.found && c.resolveAll {
		if err := c.prefetchOwned(ctx, hit.entry.EntityTypeID); err != nil {
			return ir.AuditLogEntry{}, false, err
		}
	}
	return hit.entry, hit.found, nil
}

// prefetchOwned loads the types owned, directly or transitively, by the
// given type so that the children a payload names hit the index.
func (c *Context) prefetchOwned(ctx context.Context, typeID int32) error {
	t, err := c.schema.ByID(typeID)
	if err != nil {
		return err
	}
	reach, err := c.schema.Reachable(t.Name)
	if err != nil {
		return err
	}
	return c.loadTypes(ctx, reach[1:])
}

// Query enumerates every live instance of a type at the coordinate, ordered
// by id. Only eager contexts support it.
func (c *Context) Query(ctx context.Context, typeName string) ([]*entity.Entity, error) {
	if !c.eager {
		return nil, auditerr.Unsupported("type-wide query for %q needs an eager snapshot", typeName)
	}
	t, err := c.schema.ByName(typeName)
	if err != nil {
		return nil, err
	}
	if err := c.loadType(ctx, t); err != nil {
		return nil, err
	}

	ids := c.index.Objects(t.ID)
	slices.Sort(ids)
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := c.get(ctx, t, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entry returns the log entry governing id at the coordinate, loading it if
// needed. found is false when nothing governs.
func (c *Context) Entry(ctx context.Context, id int64) (ir.AuditLogEntry, bool, error) {
	return c.governing(ctx, nil, id)
}
