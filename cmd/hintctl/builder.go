package main

import (
	"context"

	"github.com/wbrown/janus-recycler/sqlhint/catalog"
	"github.com/wbrown/janus-recycler/sqlhint/executor"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
)

const (
	bytesPerRow = 8
	bytesPerBin = 16
)

// syntheticTable stands in for a hash table; only its size is modelled
type syntheticTable struct {
	rows int64
	bins int64
}

func (t *syntheticTable) MemoryFootprint() int64 {
	return t.rows*bytesPerRow + t.bins*bytesPerBin
}

// syntheticBuilder sizes tables from table generations and shape parameters
type syntheticBuilder struct {
	gens catalog.Generations
}

func (b *syntheticBuilder) Build(ctx context.Context, req executor.BuildRequest) (recycler.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows int64
	for _, r := range req.Site.Plan.Relations {
		gen, err := b.gens.Generation(r.Table)
		if err != nil {
			return nil, err
		}
		rows += gen.TupleCount
	}
	if rows == 0 {
		rows = 1
	}

	bins := rows
	if kpb := req.Params.KeysPerBin; kpb > 0 {
		bins = int64(float64(rows)/kpb) + 1
	}
	if limit := req.Params.MaxSize; limit > 0 && bins > limit {
		bins = limit
	}
	return &syntheticTable{rows: rows, bins: bins}, nil
}
