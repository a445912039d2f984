package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerations(t *testing.T, g Generations) {
	t1 := TableKey{DBID: 1, TableID: 10}
	t2 := TableKey{DBID: 1, TableID: 11}
	other := TableKey{DBID: 2, TableID: 10}

	gen, err := g.Generation(t1)
	require.NoError(t, err)
	assert.Equal(t, Generation{}, gen, "unknown tables report the zero generation")

	require.NoError(t, g.SetGeneration(t1, Generation{TupleCount: 100}))
	require.NoError(t, g.SetGeneration(t2, Generation{TupleCount: 5, StartRowID: 3}))
	require.NoError(t, g.SetGeneration(other, Generation{TupleCount: 7}))

	gen, err = g.Generation(t2)
	require.NoError(t, err)
	assert.Equal(t, Generation{TupleCount: 5, StartRowID: 3}, gen)

	require.NoError(t, g.SetGeneration(t1, Generation{TupleCount: 101}))
	gen, err = g.Generation(t1)
	require.NoError(t, err)
	assert.Equal(t, int64(101), gen.TupleCount)

	require.NoError(t, g.Clear(1))
	gen, err = g.Generation(t1)
	require.NoError(t, err)
	assert.Equal(t, Generation{}, gen)
	gen, err = g.Generation(other)
	require.NoError(t, err)
	assert.Equal(t, int64(7), gen.TupleCount)
}

func TestMemoryGenerations(t *testing.T) {
	g := NewMemoryGenerations()
	defer g.Close()
	testGenerations(t, g)
}

func TestBadgerGenerations(t *testing.T) {
	t.Run("InMemory", func(t *testing.T) {
		g, err := OpenBadgerGenerations("")
		require.NoError(t, err)
		defer g.Close()
		testGenerations(t, g)
	})

	t.Run("Persistent", func(t *testing.T) {
		dir := t.TempDir()
		key := TableKey{DBID: 3, TableID: 4}

		g, err := OpenBadgerGenerations(dir)
		require.NoError(t, err)
		require.NoError(t, g.SetGeneration(key, Generation{TupleCount: 42, StartRowID: 1}))
		require.NoError(t, g.Close())

		g, err = OpenBadgerGenerations(dir)
		require.NoError(t, err)
		defer g.Close()
		gen, err := g.Generation(key)
		require.NoError(t, err)
		assert.Equal(t, Generation{TupleCount: 42, StartRowID: 1}, gen)
	})
}

func TestDecodeGenerationRejectsShortValues(t *testing.T) {
	_, err := decodeGeneration([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTableKeyOrder(t *testing.T) {
	assert.True(t, TableKey{DBID: 1, TableID: 9}.Less(TableKey{DBID: 2, TableID: 1}))
	assert.True(t, TableKey{DBID: 1, TableID: 1}.Less(TableKey{DBID: 1, TableID: 2}))
	assert.False(t, TableKey{DBID: 1, TableID: 2}.Less(TableKey{DBID: 1, TableID: 2}))
	assert.Equal(t, "1.2", TableKey{DBID: 1, TableID: 2}.String())
}

func TestParseTableKey(t *testing.T) {
	key, err := ParseTableKey(" 3.14 ")
	require.NoError(t, err)
	assert.Equal(t, TableKey{DBID: 3, TableID: 14}, key)

	for _, bad := range []string{"", "3", "a.1", "1.b", "1.99999999999"} {
		_, err := ParseTableKey(bad)
		assert.Error(t, err, bad)
	}
}
