// Package resolver turns hint candidates into registered hint sets.
//
// Resolution of one scope of one block runs these steps in order:
//  1. keep candidates of the target scope (invalid-scope candidates are
//     dropped by global resolution, which is the scope they asked for)
//  2. drop candidates whose argument fails catalog validation
//  3. collapse same-kind duplicates; the first occurrence wins
//  4. cancel conflicting kinds (columnar vs rowwise): both are dropped
//  5. drop hints that only restate the session default
//
// Nothing here ever fails. A hint that cannot be honoured is dropped and the
// drop is reported, never surfaced as an error.
package resolver

import (
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/annotations"
	"github.com/wbrown/janus-recycler/sqlhint/parser"
)

// Reason explains why a candidate was not registered
type Reason string

const (
	ReasonInvalidArgument Reason = "invalid argument"
	ReasonInvalidScope    Reason = "invalid scope"
	ReasonDuplicate       Reason = "duplicate"
	ReasonConflict        Reason = "conflict"
	ReasonRedundant       Reason = "redundant"
)

// Drop records a candidate that was not registered
type Drop struct {
	Candidate sqlhint.Candidate
	Reason    Reason
	Detail    string
}

// Resolution is the resolved hints of one scope plus everything dropped
type Resolution struct {
	Hints   *sqlhint.Set
	Dropped []Drop
}

// Resolve resolves the candidates of one block for the given scope against
// the session defaults. It is a pure function of its inputs.
func Resolve(cands []sqlhint.Candidate, scope sqlhint.Scope, defaults sqlhint.Defaults) Resolution {
	res := Resolution{Hints: sqlhint.NewSet()}

	type accepted struct {
		cand sqlhint.Candidate
		arg  sqlhint.Argument
	}
	first := make(map[sqlhint.Kind]accepted)
	var order []sqlhint.Kind

	for _, c := range cands {
		if c.Scope == sqlhint.ScopeInvalid {
			if scope == sqlhint.ScopeGlobal {
				res.drop(c, ReasonInvalidScope, c.Kind.String()+" has no global form")
			}
			continue
		}
		if c.Scope != scope {
			continue
		}

		arg, err := sqlhint.Validate(c.Kind, c.Args)
		if err != nil {
			res.drop(c, ReasonInvalidArgument, err.Error())
			continue
		}

		if _, seen := first[c.Kind]; seen {
			res.drop(c, ReasonDuplicate, "")
			continue
		}
		first[c.Kind] = accepted{cand: c, arg: arg}
		order = append(order, c.Kind)
	}

	for _, k := range order {
		a := first[k]
		e, _ := sqlhint.Describe(k)

		if e.ConflictsWith != sqlhint.KindUnknown {
			if _, both := first[e.ConflictsWith]; both {
				res.drop(a.cand, ReasonConflict, "conflicts with "+e.ConflictsWith.String())
				continue
			}
		}

		if sqlhint.IsRedundant(k, defaults) {
			res.drop(a.cand, ReasonRedundant, "matches session default "+defaults.Layout.String())
			continue
		}

		res.Hints.Register(k, a.arg)
	}

	return res
}

func (r *Resolution) drop(c sqlhint.Candidate, reason Reason, detail string) {
	r.Dropped = append(r.Dropped, Drop{Candidate: c, Reason: reason, Detail: detail})
}

// BlockResolution is the full resolution of one block's directive text
type BlockResolution struct {
	Parsed parser.Result
	Local  Resolution
	Global Resolution
}

// Resolver resolves hints under fixed session defaults and reports what it
// does to an optional annotation collector.
type Resolver struct {
	defaults  sqlhint.Defaults
	collector *annotations.Collector
}

// New creates a resolver. collector may be nil.
func New(defaults sqlhint.Defaults, collector *annotations.Collector) *Resolver {
	return &Resolver{defaults: defaults, collector: collector}
}

// Defaults returns the session defaults the resolver compares against
func (r *Resolver) Defaults() sqlhint.Defaults {
	return r.defaults
}

// ResolveBlock parses and resolves the directive text of one block. block is
// a label used only for annotations.
func (r *Resolver) ResolveBlock(block, directives string) BlockResolution {
	parsed := parser.Parse(directives)

	if r.collector.Enabled() {
		r.collector.AddEvent(annotations.HintParsed, map[string]interface{}{
			"block": block,
			"count": len(parsed.Candidates),
		})
		for _, s := range parsed.Skipped {
			r.collector.AddEvent(annotations.HintSkipped, map[string]interface{}{
				"block":  block,
				"text":   s.Text,
				"reason": s.Reason,
			})
		}
	}

	return BlockResolution{
		Parsed: parsed,
		Local:  r.Resolve(block, parsed.Candidates, sqlhint.ScopeLocal),
		Global: r.Resolve(block, parsed.Candidates, sqlhint.ScopeGlobal),
	}
}

// Resolve resolves candidates for one scope and annotates the outcome
func (r *Resolver) Resolve(block string, cands []sqlhint.Candidate, scope sqlhint.Scope) Resolution {
	res := Resolve(cands, scope, r.defaults)

	if r.collector.Enabled() {
		for _, d := range res.Dropped {
			r.collector.AddEvent(annotations.HintDropped, map[string]interface{}{
				"block":  block,
				"scope":  scope.String(),
				"hint":   d.Candidate.String(),
				"reason": string(d.Reason),
				"detail": d.Detail,
			})
		}
		if res.Hints.IsAnyRegistered() {
			r.collector.AddEvent(annotations.HintResolved, map[string]interface{}{
				"block": block,
				"scope": scope.String(),
				"hints": res.Hints.String(),
			})
		}
	}

	return res
}
