package shamap

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleFamily is the production-quality Family implementation: a
// PebbleDB keyspace keyed directly by SHAMap node hash. Grounded on
// internal/storage/nodestore/pebble.go's Open/Get/Set(..., pebble.Sync)
// usage of github.com/cockroachdb/pebble — the same library and pattern
// internal/core/consensus/objectstore uses for the ledger/node stores
// one layer up. Deliberately does not depend on internal/storage/
// nodestore itself: that package imports a top-level internal/types
// package that was never part of this tree (only internal/types/
// interfaces exists), a pre-existing dangling import. shamap sits below
// rcl/objectstore in the dependency graph, so it owns its own minimal
// pebble adapter rather than reaching sideways into either of them.
//
// For tests: NewPebbleFamily with t.TempDir() — disk-backed, bounded by
// whatever the OS page cache does. For production: a persistent path.
type PebbleFamily struct {
	db *pebble.DB
}

// NewPebbleFamily opens (or creates) a PebbleDB-backed Family at path.
func NewPebbleFamily(path string) (*PebbleFamily, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleFamily{db: db}, nil
}

// Fetch retrieves a node's serialized data (prefix format) by its SHAMap
// hash. Returns nil, nil if the node is not found, matching the Family
// contract.
func (f *PebbleFamily) Fetch(hash [32]byte) ([]byte, error) {
	v, closer, err := f.db.Get(hash[:])
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// StoreBatch persists a batch of serialized nodes in a single pebble
// batch commit.
func (f *PebbleFamily) StoreBatch(entries []FlushEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := f.db.NewBatch()
	for _, e := range entries {
		if err := batch.Set(e.Hash[:], e.Data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Close releases the underlying PebbleDB handle.
func (f *PebbleFamily) Close() error {
	return f.db.Close()
}
