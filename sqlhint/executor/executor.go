// Package executor drives hash table construction for the join sites of a
// statement, consulting the recycler before building.
package executor

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/annotations"
	"github.com/wbrown/janus-recycler/sqlhint/propagator"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
)

// JoinSite is one hash join of a final plan block
type JoinSite struct {
	Block  propagator.BlockID
	Plan   recycler.JoinPlan
	Device recycler.DeviceID
	Item   recycler.CacheItemType
}

// BuildRequest is everything a builder needs to construct one hash table
type BuildRequest struct {
	Site   JoinSite
	Key    recycler.Key
	Params recycler.ShapeParams
	// Hints are the block's local hints merged with the statement's global
	// hints
	Hints *sqlhint.Set
}

// Builder constructs hash tables
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (recycler.Artifact, error)
}

// BuilderFunc adapts a function to Builder
type BuilderFunc func(ctx context.Context, req BuildRequest) (recycler.Artifact, error)

func (f BuilderFunc) Build(ctx context.Context, req BuildRequest) (recycler.Artifact, error) {
	return f(ctx, req)
}

// Options controls how the executor uses the recycler
type Options struct {
	// EnableDataRecycler turns the recycler on as a whole
	EnableDataRecycler bool
	// UseHashtableCache lets join hash tables be recycled
	UseHashtableCache bool
	// Workers bounds concurrent join sites in Run (0 = NumCPU)
	Workers int
}

// DefaultOptions enables hash table recycling
func DefaultOptions() Options {
	return Options{EnableDataRecycler: true, UseHashtableCache: true}
}

func (o Options) caching() bool {
	return o.EnableDataRecycler && o.UseHashtableCache
}

// Executor builds or fetches the hash tables of join sites
type Executor struct {
	builder   Builder
	keys      *recycler.KeyBuilder
	store     *recycler.Store
	pool      *WorkerPool
	opts      Options
	collector *annotations.Collector
}

// New creates an executor. collector may be nil.
func New(builder Builder, keys *recycler.KeyBuilder, store *recycler.Store, opts Options, collector *annotations.Collector) *Executor {
	return &Executor{
		builder:   builder,
		keys:      keys,
		store:     store,
		pool:      NewWorkerPool(opts.Workers),
		opts:      opts,
		collector: collector,
	}
}

// Store returns the recycler the executor consults
func (e *Executor) Store() *recycler.Store {
	return e.store
}

// Request derives the build request of a join site from the statement's
// hints
func (e *Executor) Request(hints *propagator.Hints, site JoinSite) (BuildRequest, recycler.Policy, error) {
	local, ok := hints.Block(site.Block)
	if !ok {
		return BuildRequest{}, recycler.Policy{}, errors.Newf("join site references unknown block %s", site.Block)
	}

	fp, err := e.keys.Build(site.Plan, site.Device, site.Item, local, hints.Global())
	if err != nil {
		return BuildRequest{}, recycler.Policy{}, errors.Wrapf(err, "fingerprinting join in block %s", site.Block)
	}

	return BuildRequest{
		Site:   site,
		Key:    fp.Key,
		Params: fp.Params,
		Hints:  hints.Effective(site.Block),
	}, fp.Policy, nil
}

// BuildOrFetchHashtable returns the hash table of a join site, reusing a
// cached one when the recycler holds a table for the same key
func (e *Executor) BuildOrFetchHashtable(ctx context.Context, hints *propagator.Hints, site JoinSite) (recycler.Artifact, error) {
	req, policy, err := e.Request(hints, site)
	if err != nil {
		return nil, err
	}

	build := func(ctx context.Context) (recycler.Artifact, error) {
		return e.builder.Build(ctx, req)
	}

	if !e.opts.caching() {
		e.collector.AddEvent(annotations.RecyclerBypass, map[string]interface{}{
			"item":   req.Key.Item.String(),
			"device": req.Key.Device.String(),
			"reason": "recycler disabled",
		})
		art, err := build(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "building %s", req.Key), recycler.ErrBuildFailed)
		}
		return art, nil
	}

	return e.store.GetOrBuild(ctx, req.Key, policy, req.Hints, build)
}

// Run builds or fetches the hash tables of all sites concurrently. Results
// are in site order.
func (e *Executor) Run(ctx context.Context, hints *propagator.Hints, sites []JoinSite) ([]recycler.Artifact, error) {
	return ExecuteParallel(ctx, e.pool, sites, func(ctx context.Context, site JoinSite) (recycler.Artifact, error) {
		return e.BuildOrFetchHashtable(ctx, hints, site)
	})
}
