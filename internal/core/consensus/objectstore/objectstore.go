// Package objectstore is a PebbleDB-backed implementation of the
// consensus core's NodeStore and LedgerStore collaborators (see
// rcl.Environment). It is a thin, self-contained adapter: the core
// only ever calls through the two narrow interfaces in
// internal/core/consensus/rcl/env.go, so this package owns its own
// encoding rather than depending on internal/storage/nodestore's
// broader (and, for this exercise, unrelated) object model.
package objectstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/rcl"
)

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("objectstore: store is closed")

const (
	nodePrefix   byte = 'n'
	ledgerPrefix byte = 'l'
)

// Store is a single PebbleDB keyspace split into a hashed-object
// region (SHAMap nodes, keyed by content hash) and a ledger-header
// region (keyed by ledger hash), grounded on
// internal/storage/nodestore/pebble.go's Open/Get/Set usage of
// github.com/cockroachdb/pebble.
type Store struct {
	db *pebble.DB
}

// Open creates or opens a PebbleDB store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("objectstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying PebbleDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nodeKey(hash [32]byte) []byte {
	key := make([]byte, 0, 1+32)
	key = append(key, nodePrefix)
	key = append(key, hash[:]...)
	return key
}

func ledgerKey(hash consensus.LedgerID) []byte {
	key := make([]byte, 0, 1+32)
	key = append(key, ledgerPrefix)
	key = append(key, hash[:]...)
	return key
}

// FetchNode satisfies rcl.NodeStore.
func (s *Store) FetchNode(hash [32]byte) ([]byte, bool) {
	value, closer, err := s.db.Get(nodeKey(hash))
	if err != nil {
		return nil, false
	}
	defer closer.Close()

	data, ok := decodeNodeRecord(value)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// StoreNode satisfies rcl.NodeStore. The stored record carries
// nodeType and ledgerSeq alongside the body so a future compaction or
// audit pass can distinguish transaction, account-state, and ledger
// nodes without a second lookup.
func (s *Store) StoreNode(hash [32]byte, nodeType string, ledgerSeq uint32, data []byte) error {
	return s.db.Set(nodeKey(hash), encodeNodeRecord(nodeType, ledgerSeq, data), pebble.Sync)
}

// FetchLedgerHeader satisfies rcl.LedgerStore.
func (s *Store) FetchLedgerHeader(hash consensus.LedgerID) (rcl.Header, bool) {
	value, closer, err := s.db.Get(ledgerKey(hash))
	if err != nil {
		return rcl.Header{}, false
	}
	defer closer.Close()

	h, err := rcl.Decode(value)
	if err != nil {
		return rcl.Header{}, false
	}
	return h, true
}

// StoreLedger satisfies rcl.LedgerStore, persisting the closed
// ledger's header under its own hash.
func (s *Store) StoreLedger(l *rcl.Ledger) error {
	return s.db.Set(ledgerKey(l.Hash()), l.Header.Encode(), pebble.Sync)
}

// encodeNodeRecord lays out nodeType (length-prefixed string),
// ledgerSeq (u32), then the raw body.
func encodeNodeRecord(nodeType string, ledgerSeq uint32, data []byte) []byte {
	buf := make([]byte, 0, 2+len(nodeType)+4+len(data))
	var typeLen [2]byte
	binary.BigEndian.PutUint16(typeLen[:], uint16(len(nodeType)))
	buf = append(buf, typeLen[:]...)
	buf = append(buf, nodeType...)
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], ledgerSeq)
	buf = append(buf, seq[:]...)
	buf = append(buf, data...)
	return buf
}

func decodeNodeRecord(record []byte) ([]byte, bool) {
	if len(record) < 2 {
		return nil, false
	}
	typeLen := int(binary.BigEndian.Uint16(record[:2]))
	offset := 2 + typeLen + 4
	if len(record) < offset {
		return nil, false
	}
	return record[offset:], true
}
