package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/propagator"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
	"github.com/wbrown/janus-recycler/sqlhint/resolver"
)

func TestTableFormatter(t *testing.T) {
	formatter := NewTableFormatter()

	t.Run("FormatHints", func(t *testing.T) {
		f := newFixture(DefaultOptions())
		hints := f.run(t, recycler.CPU, "/*+ g_overlaps_keys_per_bin(0.1) */", "/*+ overlaps_max_size(7777) */")

		result := formatter.FormatHints(hints)
		assert.Contains(t, result, "label")
		assert.Contains(t, result, "T1")
		assert.Contains(t, result, "overlaps_max_size(7777)")
		assert.Contains(t, result, "_global: overlaps_keys_per_bin(0.1)_")
	})

	t.Run("FormatEntries", func(t *testing.T) {
		f := newFixture(DefaultOptions())
		f.run(t, recycler.CPU, "", "/*+ overlaps_max_size(7777) */")

		result := formatter.FormatEntries(f.store.Entries(recycler.OverlapsHashTable, recycler.CPU))
		assert.Contains(t, result, "overlaps_hashtable")
		assert.Contains(t, result, "4.0 KiB")
		assert.Contains(t, result, "cpu")
		assert.Contains(t, result, "_1 entries_")
	})

	t.Run("FormatEmpty", func(t *testing.T) {
		assert.Equal(t, "_No cached hash tables_", formatter.FormatEntries(nil))
		empty := propagator.New(nil, nil).Propagate(propagator.Statement{}, []propagator.FinalBlock{})
		assert.Equal(t, "_No blocks_", formatter.FormatHints(empty))
	})

	t.Run("FormatResolution", func(t *testing.T) {
		res := resolver.New(sqlhint.Defaults{}, nil).ResolveBlock("T1", "/*+ cpu_mode, rowwise_output, g_overlaps_max_size(7777), hash_join */")
		result := formatter.FormatResolution(res)
		assert.Contains(t, result, "cpu_mode")
		assert.Contains(t, result, "registered")
		assert.Contains(t, result, "redundant")
		assert.Contains(t, result, "overlaps_max_size(7777)")
		assert.Contains(t, result, "hash_join")
		assert.Contains(t, result, "unknown hint")

		empty := resolver.New(sqlhint.Defaults{}, nil).ResolveBlock("T1", "")
		assert.Equal(t, "_No directives_", formatter.FormatResolution(empty))
	})

	t.Run("FormatStats", func(t *testing.T) {
		result := formatter.FormatStats(recycler.Stats{Hits: 12345, Builds: 2})
		assert.Contains(t, result, "hits")
		assert.Contains(t, result, "12,345")
		assert.Contains(t, result, "evictions")
	})

	t.Run("Truncate", func(t *testing.T) {
		tf := &TableFormatter{MaxWidth: 10, TruncateString: "..."}
		assert.Equal(t, "short", tf.truncate("short"))
		got := tf.truncate(strings.Repeat("x", 20))
		assert.Len(t, got, 10)
		assert.True(t, strings.HasSuffix(got, "..."))
	})

	t.Run("AfterExecution", func(t *testing.T) {
		f := newFixture(DefaultOptions())
		hints := f.run(t, recycler.CPU, "", "")
		id, ok := hints.Lookup("T1")
		require.True(t, ok)
		_, err := f.exec.BuildOrFetchHashtable(context.Background(), hints, JoinSite{Block: id, Plan: containsPlan})
		require.NoError(t, err)
		assert.Contains(t, formatter.FormatStats(f.store.Stats()), "misses")
	})
}
