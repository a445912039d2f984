// Package propagator maps resolved hints onto the final block list of a
// statement after the planner has rewritten it, and aggregates global hints
// into one statement-wide set.
//
// Rewriting (window function expansion, cursor arguments of table functions)
// happens after hints are resolved, so propagation is an explicit post-pass:
// source and final blocks are both grouped by shape hash and hint sets are
// copied across groups.
package propagator

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/annotations"
	"github.com/wbrown/janus-recycler/sqlhint/resolver"
)

// BlockID identifies a final query block: the shape hash shared by
// structurally identical blocks plus the block's index within that group.
type BlockID struct {
	Shape uint64
	Index int
}

func (id BlockID) String() string {
	return fmt.Sprintf("%016x/%d", id.Shape, id.Index)
}

// Less orders block ids by shape, then index
func (id BlockID) Less(o BlockID) bool {
	if id.Shape != o.Shape {
		return id.Shape < o.Shape
	}
	return id.Index < o.Index
}

// ShapeOf hashes a canonical rendering of a block's structure
func ShapeOf(canonical string) uint64 {
	return xxhash.Sum64String(canonical)
}

// SourceBlock is a query block as the planner saw it before rewriting, with
// the directive text attached to it
type SourceBlock struct {
	Label      string
	Shape      uint64
	Directives string
}

// Statement is the source block list of one statement in statement order:
// the outer block first, nested blocks and cursor arguments after
type Statement struct {
	Blocks []SourceBlock
}

// FinalBlock is a block of the rewritten plan
type FinalBlock struct {
	Label string
	Shape uint64
}

// Hints is the propagated hint state of one statement. Sets handed out are
// shared and must be treated as read-only.
type Hints struct {
	blocks map[BlockID]*sqlhint.Set
	labels map[BlockID]string
	order  []BlockID
	global *sqlhint.Set
}

// Block returns the local hint set of a final block
func (h *Hints) Block(id BlockID) (*sqlhint.Set, bool) {
	s, ok := h.blocks[id]
	return s, ok
}

// Lookup finds a final block by label. When labels repeat the first block
// in final order is returned.
func (h *Hints) Lookup(label string) (BlockID, bool) {
	for _, id := range h.order {
		if h.labels[id] == label {
			return id, true
		}
	}
	return BlockID{}, false
}

// Label returns the label of a final block
func (h *Hints) Label(id BlockID) string {
	return h.labels[id]
}

// Blocks returns the final block ids sorted by shape, then index
func (h *Hints) Blocks() []BlockID {
	out := make([]BlockID, len(h.order))
	copy(out, h.order)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Shapes returns the distinct shape hashes of the final blocks in ascending order
func (h *Hints) Shapes() []uint64 {
	seen := make(map[uint64]bool)
	var out []uint64
	for _, id := range h.order {
		if !seen[id.Shape] {
			seen[id.Shape] = true
			out = append(out, id.Shape)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ByShape returns the final blocks of one shape group in index order
func (h *Hints) ByShape(shape uint64) []BlockID {
	var out []BlockID
	for _, id := range h.order {
		if id.Shape == shape {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// All returns every final block's local hint set
func (h *Hints) All() map[BlockID]*sqlhint.Set {
	out := make(map[BlockID]*sqlhint.Set, len(h.blocks))
	for id, s := range h.blocks {
		out[id] = s
	}
	return out
}

// Global returns the statement's global hint set
func (h *Hints) Global() *sqlhint.Set {
	return h.global
}

// Effective returns the hints in effect for a block: its local set merged
// with the global set, local taking precedence
func (h *Hints) Effective(id BlockID) *sqlhint.Set {
	return sqlhint.Merge(h.blocks[id], h.global)
}

// Propagator distributes resolved hints over rewritten blocks
type Propagator struct {
	resolver  *resolver.Resolver
	collector *annotations.Collector
}

// New creates a propagator. collector may be nil.
func New(r *resolver.Resolver, collector *annotations.Collector) *Propagator {
	return &Propagator{resolver: r, collector: collector}
}

// ResolveBlocks resolves every source block of a statement
func (p *Propagator) ResolveBlocks(stmt Statement) []resolver.BlockResolution {
	out := make([]resolver.BlockResolution, len(stmt.Blocks))
	for i, b := range stmt.Blocks {
		out[i] = p.resolver.ResolveBlock(b.Label, b.Directives)
	}
	return out
}

// Global resolves the statement-wide hint set. Global directives count
// wherever they are embedded.
func (p *Propagator) Global(stmt Statement) *sqlhint.Set {
	return mergeGlobal(p.ResolveBlocks(stmt))
}

// Propagate resolves the statement and maps local sets onto the final
// blocks. Within a shape group, final block i takes the set of source block
// i, or of the group's last source block when the rewrite produced more
// blocks than there were sources. Final blocks with no source of their shape
// get an empty set. A nil final list means the plan was not rewritten.
func (p *Propagator) Propagate(stmt Statement, final []FinalBlock) *Hints {
	resolved := p.ResolveBlocks(stmt)

	if final == nil {
		final = make([]FinalBlock, len(stmt.Blocks))
		for i, b := range stmt.Blocks {
			final[i] = FinalBlock{Label: b.Label, Shape: b.Shape}
		}
	}

	sources := make(map[uint64][]*sqlhint.Set)
	for i, b := range stmt.Blocks {
		sources[b.Shape] = append(sources[b.Shape], resolved[i].Local.Hints)
	}

	h := &Hints{
		blocks: make(map[BlockID]*sqlhint.Set, len(final)),
		labels: make(map[BlockID]string, len(final)),
		order:  make([]BlockID, 0, len(final)),
		global: mergeGlobal(resolved),
	}

	next := make(map[uint64]int)
	for _, fb := range final {
		id := BlockID{Shape: fb.Shape, Index: next[fb.Shape]}
		next[fb.Shape]++

		var set *sqlhint.Set
		if src := sources[fb.Shape]; len(src) > 0 {
			set = src[min(id.Index, len(src)-1)].Clone()
		} else {
			set = sqlhint.NewSet()
		}

		h.blocks[id] = set
		h.labels[id] = fb.Label
		h.order = append(h.order, id)
	}

	if p.collector.Enabled() {
		for shape, n := range next {
			p.collector.AddEvent(annotations.HintPropagated, map[string]interface{}{
				"shape": fmt.Sprintf("%016x", shape),
				"count": n,
			})
		}
	}

	return h
}

// mergeGlobal folds per-block global sets in statement order. The first
// registration of a kind wins; kinds that conflict across blocks cancel.
func mergeGlobal(resolved []resolver.BlockResolution) *sqlhint.Set {
	g := sqlhint.NewSet()
	for _, r := range resolved {
		for _, k := range r.Global.Hints.Kinds() {
			arg, _ := r.Global.Hints.Get(k)
			g.Register(k, arg)
		}
	}

	var cancelled []sqlhint.Kind
	for _, k := range g.Kinds() {
		e, _ := sqlhint.Describe(k)
		if e.ConflictsWith != sqlhint.KindUnknown && g.IsRegistered(e.ConflictsWith) {
			cancelled = append(cancelled, k)
		}
	}
	for _, k := range cancelled {
		g.Unregister(k)
	}
	return g
}
