package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/catalog"
	"github.com/wbrown/janus-recycler/sqlhint/executor"
	"github.com/wbrown/janus-recycler/sqlhint/propagator"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
	"github.com/wbrown/janus-recycler/sqlhint/resolver"
)

const examplePath = "../../examples/statements/overlaps.yaml"

func TestLoadExampleStatement(t *testing.T) {
	stmt, err := loadStatement(examplePath)
	require.NoError(t, err)

	require.Len(t, stmt.source.Blocks, 3)
	assert.Equal(t, propagator.ShapeOf("outer"), stmt.source.Blocks[0].Shape)
	assert.Equal(t, propagator.ShapeOf("overlaps_join"), stmt.source.Blocks[1].Shape)
	assert.Equal(t, stmt.source.Blocks[1].Shape, stmt.source.Blocks[2].Shape)
	require.Len(t, stmt.final, 4)

	require.Len(t, stmt.joins, 2)
	assert.Equal(t, recycler.DeviceID(1), stmt.joins[0].device)
	assert.Equal(t, recycler.OverlapsHashTable, stmt.joins[0].item)
	assert.Equal(t, recycler.CPU, stmt.joins[1].device)
	assert.Equal(t, catalog.TableKey{DBID: 1, TableID: 11}, stmt.joins[0].plan.Relations[1].Table)
	assert.Equal(t, "b", stmt.joins[0].plan.Relations[1].Alias)

	assert.Equal(t, catalog.Generation{TupleCount: 4096}, stmt.generations[catalog.TableKey{DBID: 1, TableID: 12}])
}

func TestParseStatementErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		err  string
	}{
		{"NoBlocks", "blocks: []", "no blocks"},
		{"NoLabel", "blocks: [{directives: x}]", "has no label"},
		{"UnknownJoinBlock", `
blocks: [{label: a}]
joins: [{block: b}]`, `unknown block "b"`},
		{"JoinOnlyInSource", `
blocks: [{label: a}, {label: b}]
final: [{label: a}]
joins: [{block: b}]`, `unknown block "b"`},
		{"BadDevice", `
blocks: [{label: a}]
joins: [{block: a, device: tpu}]`, "join 0"},
		{"BadItem", `
blocks: [{label: a}]
joins: [{block: a, item: bloom}]`, "join 0"},
		{"BadTable", `
blocks: [{label: a}]
joins: [{block: a, relations: [{table: users}]}]`, "db.table"},
		{"BadGeneration", `
blocks: [{label: a}]
generations: {"x.1": 3}`, "generations"},
		{"NotYAML", "blocks: [", "decoding statement"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseStatement([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestStatementSites(t *testing.T) {
	stmt, err := loadStatement(examplePath)
	require.NoError(t, err)

	p := propagator.New(resolver.New(sqlhint.Defaults{}, nil), nil)
	hints := p.Propagate(stmt.source, stmt.final)

	sites, err := stmt.sites(hints)
	require.NoError(t, err)
	require.Len(t, sites, 2)

	assert.Equal(t, propagator.BlockID{Shape: propagator.ShapeOf("overlaps_join"), Index: 0}, sites[0].Block)
	// the rewritten block is the third of its shape group and inherits the
	// hints of the group's last source block
	assert.Equal(t, 2, sites[1].Block.Index)
	local, ok := hints.Block(sites[1].Block)
	require.True(t, ok)
	assert.True(t, local.IsRegistered(sqlhint.OverlapsNoCache))

	t.Run("NotInFinalPlan", func(t *testing.T) {
		hints := p.Propagate(stmt.source, []propagator.FinalBlock{{Label: "outer", Shape: propagator.ShapeOf("outer")}})
		_, err := stmt.sites(hints)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in the final plan")
	})
}

func TestSyntheticBuilderSize(t *testing.T) {
	gens := catalog.NewMemoryGenerations()
	a := catalog.TableKey{DBID: 1, TableID: 1}
	b := catalog.TableKey{DBID: 1, TableID: 2}
	require.NoError(t, gens.SetGeneration(a, catalog.Generation{TupleCount: 90}))
	require.NoError(t, gens.SetGeneration(b, catalog.Generation{TupleCount: 10}))

	builder := &syntheticBuilder{gens: gens}
	plan := recycler.JoinPlan{Relations: []recycler.Relation{{Table: a}, {Table: b}}}

	build := func(params recycler.ShapeParams) int64 {
		req := executor.BuildRequest{Site: executor.JoinSite{Plan: plan}, Params: params}
		art, err := builder.Build(context.Background(), req)
		require.NoError(t, err)
		return art.MemoryFootprint()
	}

	assert.Equal(t, int64(100*bytesPerRow+100*bytesPerBin), build(recycler.ShapeParams{}))
	assert.Equal(t, int64(100*bytesPerRow+51*bytesPerBin), build(recycler.ShapeParams{KeysPerBin: 2}))
	assert.Equal(t, int64(100*bytesPerRow+8*bytesPerBin), build(recycler.ShapeParams{KeysPerBin: 2, MaxSize: 8}))

	t.Run("EmptyTables", func(t *testing.T) {
		art, err := builder.Build(context.Background(), executor.BuildRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(bytesPerRow+bytesPerBin), art.MemoryFootprint())
	})
}
