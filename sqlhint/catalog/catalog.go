// Package catalog tracks table generations. A generation changes whenever a
// table's contents change, so hash tables built over the old contents stop
// matching new lookups.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// TableKey identifies a table within a database
type TableKey struct {
	DBID    int32
	TableID int32
}

func (k TableKey) String() string {
	return fmt.Sprintf("%d.%d", k.DBID, k.TableID)
}

// ParseTableKey parses the "db.table" form produced by String
func ParseTableKey(s string) (TableKey, error) {
	db, table, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return TableKey{}, errors.Newf("table key %q is not of the form db.table", s)
	}
	dbID, err := strconv.ParseInt(db, 10, 32)
	if err != nil {
		return TableKey{}, errors.Wrapf(err, "database id of %q", s)
	}
	tableID, err := strconv.ParseInt(table, 10, 32)
	if err != nil {
		return TableKey{}, errors.Wrapf(err, "table id of %q", s)
	}
	return TableKey{DBID: int32(dbID), TableID: int32(tableID)}, nil
}

// Less orders table keys by database, then table
func (k TableKey) Less(o TableKey) bool {
	if k.DBID != o.DBID {
		return k.DBID < o.DBID
	}
	return k.TableID < o.TableID
}

// Generation is the version of a table's contents
type Generation struct {
	TupleCount int64
	StartRowID int64
}

// Generations stores table generations
type Generations interface {
	// Generation returns the current generation of a table. Unknown tables
	// report the zero generation.
	Generation(key TableKey) (Generation, error)
	SetGeneration(key TableKey, gen Generation) error
	// Clear forgets every generation of one database
	Clear(dbID int32) error
	Close() error
}

// MemoryGenerations keeps generations in a map
type MemoryGenerations struct {
	mu   sync.RWMutex
	gens map[TableKey]Generation
}

// NewMemoryGenerations creates an empty in-memory registry
func NewMemoryGenerations() *MemoryGenerations {
	return &MemoryGenerations{gens: make(map[TableKey]Generation)}
}

func (m *MemoryGenerations) Generation(key TableKey) (Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[key], nil
}

func (m *MemoryGenerations) SetGeneration(key TableKey, gen Generation) error {
	m.mu.Lock()
	m.gens[key] = gen
	m.mu.Unlock()
	return nil
}

func (m *MemoryGenerations) Clear(dbID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.gens {
		if k.DBID == dbID {
			delete(m.gens, k)
		}
	}
	return nil
}

func (m *MemoryGenerations) Close() error {
	return nil
}
