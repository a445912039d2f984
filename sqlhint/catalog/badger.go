package catalog

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

var generationPrefix = []byte("gen/")

// BadgerGenerations persists generations in BadgerDB
type BadgerGenerations struct {
	db *badger.DB
}

// OpenBadgerGenerations opens a registry at path. An empty path keeps the
// registry in memory.
func OpenBadgerGenerations(path string) (*BadgerGenerations, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening generations at %q", path)
	}
	return &BadgerGenerations{db: db}, nil
}

func generationKey(key TableKey) []byte {
	buf := make([]byte, len(generationPrefix)+8)
	n := copy(buf, generationPrefix)
	binary.BigEndian.PutUint32(buf[n:], uint32(key.DBID))
	binary.BigEndian.PutUint32(buf[n+4:], uint32(key.TableID))
	return buf
}

func databasePrefix(dbID int32) []byte {
	buf := make([]byte, len(generationPrefix)+4)
	n := copy(buf, generationPrefix)
	binary.BigEndian.PutUint32(buf[n:], uint32(dbID))
	return buf
}

func encodeGeneration(gen Generation) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(gen.TupleCount))
	binary.BigEndian.PutUint64(buf[8:], uint64(gen.StartRowID))
	return buf
}

func decodeGeneration(val []byte) (Generation, error) {
	if len(val) != 16 {
		return Generation{}, errors.Newf("generation value has %d bytes, want 16", len(val))
	}
	return Generation{
		TupleCount: int64(binary.BigEndian.Uint64(val)),
		StartRowID: int64(binary.BigEndian.Uint64(val[8:])),
	}, nil
}

func (b *BadgerGenerations) Generation(key TableKey) (Generation, error) {
	var gen Generation
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(generationKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			gen, err = decodeGeneration(val)
			return err
		})
	})
	if err != nil {
		return Generation{}, errors.Wrapf(err, "reading generation of table %s", key)
	}
	return gen, nil
}

func (b *BadgerGenerations) SetGeneration(key TableKey, gen Generation) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(generationKey(key), encodeGeneration(gen))
	})
	return errors.Wrapf(err, "writing generation of table %s", key)
}

func (b *BadgerGenerations) Clear(dbID int32) error {
	prefix := databasePrefix(dbID)
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "clearing generations of database %d", dbID)
}

func (b *BadgerGenerations) Close() error {
	return b.db.Close()
}
