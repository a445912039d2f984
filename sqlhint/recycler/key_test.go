package recycler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/catalog"
	"github.com/wbrown/janus-recycler/sqlhint/resolver"
)

var (
	pointTable   = catalog.TableKey{DBID: 1, TableID: 10}
	polygonTable = catalog.TableKey{DBID: 1, TableID: 11}
)

func overlapsPlan() JoinPlan {
	return JoinPlan{
		Condition: "ST_Intersects(a.poly, b.pt)",
		Relations: []Relation{
			{Table: polygonTable, Alias: "a"},
			{Table: pointTable, Alias: "b"},
		},
	}
}

func hintsOf(t *testing.T, directives string) (local, global *sqlhint.Set) {
	t.Helper()
	res := resolver.New(sqlhint.Defaults{}, nil).ResolveBlock("test", directives)
	return res.Local.Hints, res.Global.Hints
}

func buildKey(t *testing.T, b *KeyBuilder, plan JoinPlan, device DeviceID, item CacheItemType, directives string) Fingerprint {
	t.Helper()
	local, global := hintsOf(t, directives)
	fp, err := b.Build(plan, device, item, local, global)
	require.NoError(t, err)
	return fp
}

func TestCanonicalCondition(t *testing.T) {
	assert.Equal(t, "st_intersects(a.poly, b.pt)", CanonicalCondition("  ST_Intersects(a.poly,\n\t b.pt) "))
}

func TestFingerprintStable(t *testing.T) {
	b := NewKeyBuilder(nil)
	base := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")

	t.Run("CaseAndWhitespace", func(t *testing.T) {
		plan := overlapsPlan()
		plan.Condition = "  st_INTERSECTS(a.poly,\n   b.pt)  "
		other := buildKey(t, b, plan, CPU, OverlapsHashTable, "")
		assert.Equal(t, base.Key, other.Key)
	})

	t.Run("RelationOrder", func(t *testing.T) {
		plan := overlapsPlan()
		plan.Relations[0], plan.Relations[1] = plan.Relations[1], plan.Relations[0]
		other := buildKey(t, b, plan, CPU, OverlapsHashTable, "")
		assert.Equal(t, base.Key, other.Key)
	})

	t.Run("DifferentCondition", func(t *testing.T) {
		plan := overlapsPlan()
		plan.Condition = "ST_Contains(a.poly, b.pt)"
		other := buildKey(t, b, plan, CPU, OverlapsHashTable, "")
		assert.NotEqual(t, base.Key.Hash, other.Key.Hash)
	})

	t.Run("DifferentItem", func(t *testing.T) {
		other := buildKey(t, b, overlapsPlan(), CPU, BaselineHashTable, "")
		assert.NotEqual(t, base.Key.Hash, other.Key.Hash)
		assert.Equal(t, BaselineHashTable, other.Key.Item)
	})
}

func TestFingerprintTracksGenerations(t *testing.T) {
	gens := catalog.NewMemoryGenerations()
	b := NewKeyBuilder(gens)

	require.NoError(t, gens.SetGeneration(pointTable, catalog.Generation{TupleCount: 100}))
	before := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")
	again := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")
	assert.Equal(t, before.Key, again.Key)

	require.NoError(t, gens.SetGeneration(pointTable, catalog.Generation{TupleCount: 101}))
	after := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")
	assert.NotEqual(t, before.Key.Hash, after.Key.Hash)
}

func TestPolicyExcludedFromHash(t *testing.T) {
	b := NewKeyBuilder(nil)
	base := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")

	for _, directives := range []string{
		"/*+ overlaps_no_cache */",
		"/*+ g_overlaps_no_cache */",
		"/*+ overlaps_allow_gpu_build */",
		"/*+ columnar_output, keep_result */",
	} {
		fp := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, directives)
		assert.Equal(t, base.Key, fp.Key, directives)
	}

	fp := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "/*+ overlaps_no_cache, g_overlaps_allow_gpu_build */")
	assert.Equal(t, Policy{NoCache: true, AllowGPUBuild: true}, fp.Policy)
}

func TestShapeParameters(t *testing.T) {
	b := NewKeyBuilder(nil)
	base := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")
	assert.Equal(t, ShapeParams{}, base.Params)

	t.Run("ChangeHash", func(t *testing.T) {
		seen := map[QueryPlanHash]string{base.Key.Hash: ""}
		for _, directives := range []string{
			"/*+ overlaps_bucket_threshold(0.1) */",
			"/*+ overlaps_bucket_threshold(0.2) */",
			"/*+ overlaps_max_size(7777) */",
			"/*+ overlaps_keys_per_bin(0.1) */",
			"/*+ overlaps_max_size(7777), overlaps_keys_per_bin(0.1) */",
		} {
			fp := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, directives)
			prev, dup := seen[fp.Key.Hash]
			assert.False(t, dup, "%s collides with %q", directives, prev)
			seen[fp.Key.Hash] = directives
		}
	})

	t.Run("LocalAndGlobalCombine", func(t *testing.T) {
		fp := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "/*+ g_overlaps_keys_per_bin(0.1), overlaps_max_size(7777) */")
		assert.Equal(t, ShapeParams{MaxSize: 7777, KeysPerBin: 0.1}, fp.Params)

		same := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "/*+ overlaps_keys_per_bin(0.1), g_overlaps_max_size(7777) */")
		assert.Equal(t, fp.Key, same.Key)
	})

	t.Run("LocalWins", func(t *testing.T) {
		fp := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "/*+ g_overlaps_max_size(10), overlaps_max_size(7777) */")
		assert.Equal(t, int64(7777), fp.Params.MaxSize)
	})

	t.Run("OnlyForOverlaps", func(t *testing.T) {
		plain := buildKey(t, b, overlapsPlan(), CPU, PerfectHashTable, "")
		hinted := buildKey(t, b, overlapsPlan(), CPU, PerfectHashTable, "/*+ overlaps_max_size(7777) */")
		assert.Equal(t, plain.Key, hinted.Key)
		assert.Equal(t, ShapeParams{}, hinted.Params)
	})
}

func TestDeviceFolding(t *testing.T) {
	b := NewKeyBuilder(nil)
	gpu := DeviceID(1)

	tests := []struct {
		name       string
		item       CacheItemType
		directives string
		want       DeviceID
	}{
		{"OverlapsWithoutPermission", OverlapsHashTable, "", CPU},
		{"OverlapsLocalPermission", OverlapsHashTable, "/*+ overlaps_allow_gpu_build */", gpu},
		{"OverlapsGlobalPermission", OverlapsHashTable, "/*+ g_overlaps_allow_gpu_build */", gpu},
		{"PerfectStaysOnGPU", PerfectHashTable, "", gpu},
		{"CPUModeLocal", PerfectHashTable, "/*+ cpu_mode */", CPU},
		{"CPUModeGlobal", BaselineHashTable, "/*+ g_cpu_mode */", CPU},
		{"CPUModeBeatsPermission", OverlapsHashTable, "/*+ cpu_mode, overlaps_allow_gpu_build */", CPU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := buildKey(t, b, overlapsPlan(), gpu, tt.item, tt.directives)
			assert.Equal(t, tt.want, fp.Key.Device)
		})
	}

	// A folded request shares the CPU table.
	folded := buildKey(t, b, overlapsPlan(), gpu, OverlapsHashTable, "")
	onCPU := buildKey(t, b, overlapsPlan(), CPU, OverlapsHashTable, "")
	assert.Equal(t, onCPU.Key, folded.Key)
}

func TestKeyStrings(t *testing.T) {
	k := Key{Hash: 0xff, Device: DeviceID(2), Item: OverlapsHashTable}
	assert.Equal(t, "overlaps_hashtable/gpu2/00000000000000ff", k.String())
	assert.Equal(t, "cpu", CPU.String())
}

func TestParseDevice(t *testing.T) {
	for in, want := range map[string]DeviceID{"": CPU, "cpu": CPU, "GPU1": DeviceID(1), "gpu3": DeviceID(3)} {
		got, err := ParseDevice(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"gpu", "gpu0", "tpu1"} {
		_, err := ParseDevice(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseCacheItemType(t *testing.T) {
	for in, want := range map[string]CacheItemType{
		"overlaps":           OverlapsHashTable,
		"perfect_hashtable":  PerfectHashTable,
		"Baseline":           BaselineHashTable,
		"overlaps_hashtable": OverlapsHashTable,
	} {
		got, err := ParseCacheItemType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want, mustParseItem(t, got.String()))
	}
	_, err := ParseCacheItemType("bloom")
	assert.Error(t, err)
}

func mustParseItem(t *testing.T, s string) CacheItemType {
	t.Helper()
	it, err := ParseCacheItemType(s)
	require.NoError(t, err)
	return it
}
