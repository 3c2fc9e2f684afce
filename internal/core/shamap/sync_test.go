package shamap

import (
	"errors"
	"testing"
)

// TestSyncFilterBasic exercises the default and caching SyncFilter adapters.
func TestSyncFilterBasic(t *testing.T) {
	def := &DefaultSyncFilter{}
	if !def.ShouldFetch([32]byte{1}) {
		t.Error("DefaultSyncFilter should always fetch")
	}

	calls := 0
	counting := &countingFilter{fn: func([32]byte) bool { calls++; return calls == 1 }}
	cached := NewCachingSyncFilter(counting, 0)

	h := [32]byte{9, 9, 9}
	if !cached.ShouldFetch(h) {
		t.Error("expected first call to return true")
	}
	if cached.ShouldFetch(h) == false {
		t.Error("expected cached result to stay true on repeat lookups")
	}
	if calls != 1 {
		t.Errorf("expected inner filter called once, got %d", calls)
	}
}

type countingFilter struct {
	fn func([32]byte) bool
}

func (c *countingFilter) ShouldFetch(h [32]byte) bool { return c.fn(h) }

// TestSyncStates tests sync state management.
func TestSyncStates(t *testing.T) {
	sMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create SHAMap: %v", err)
	}

	if sMap.State() != StateModifying {
		t.Errorf("Expected StateModifying, got %v", sMap.State())
	}
	if sMap.IsSyncing() {
		t.Error("Should not be syncing initially")
	}

	if err := sMap.SetSyncing(); err != nil {
		t.Fatalf("Failed to set syncing: %v", err)
	}
	if sMap.State() != StateSyncing {
		t.Errorf("Expected StateSyncing, got %v", sMap.State())
	}
	if !sMap.IsSyncing() {
		t.Error("Should be syncing after SetSyncing")
	}

	if err := sMap.SetSyncing(); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got %v", err)
	}

	if err := sMap.ClearSyncing(); err != nil {
		t.Fatalf("Failed to clear syncing: %v", err)
	}
	if sMap.State() != StateModifying {
		t.Errorf("Expected StateModifying after clear, got %v", sMap.State())
	}
	if sMap.IsSyncing() {
		t.Error("Should not be syncing after clear")
	}

	if err := sMap.ClearSyncing(); !errors.Is(err, ErrNotSyncing) {
		t.Errorf("Expected ErrNotSyncing, got %v", err)
	}
}

// TestAddRootNode installs a source map's root on a fresh destination map
// and checks that a second AddRootNode call is rejected.
func TestAddRootNode(t *testing.T) {
	sourceMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create source SHAMap: %v", err)
	}
	for i := 0; i < 3; i++ {
		key := [32]byte{}
		key[0] = byte(i)
		if err := sourceMap.Put(key, []byte{byte(i * 10)}); err != nil {
			t.Fatalf("Failed to put item %d: %v", i, err)
		}
	}

	sourceHash, err := sourceMap.Hash()
	if err != nil {
		t.Fatalf("Failed to get source hash: %v", err)
	}
	sourceRootData, err := sourceMap.root.SerializeForWire()
	if err != nil {
		t.Fatalf("Failed to serialize source root: %v", err)
	}

	destMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create dest SHAMap: %v", err)
	}

	if err := destMap.AddRootNode(sourceHash, sourceRootData); err != nil {
		t.Fatalf("AddRootNode failed: %v", err)
	}

	destHash, err := destMap.Hash()
	if err != nil {
		t.Fatalf("Failed to get dest hash: %v", err)
	}
	if destHash != sourceHash {
		t.Error("destination hash should match source after AddRootNode")
	}

	// A second call must be rejected: the root already has children.
	if err := destMap.AddRootNode(sourceHash, sourceRootData); err == nil {
		t.Error("expected AddRootNode to reject a root that already has content")
	}
}

// TestGetMissingNodes exercises missing-node discovery against a map still
// in the syncing state with an empty root.
func TestGetMissingNodes(t *testing.T) {
	sMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create SHAMap: %v", err)
	}

	// Not syncing: GetMissingNodes reports nothing regardless of content.
	if got := sMap.GetMissingNodes(10, nil); got != nil {
		t.Errorf("expected nil missing nodes outside sync state, got %v", got)
	}

	if err := sMap.SetSyncing(); err != nil {
		t.Fatalf("Failed to set syncing: %v", err)
	}
	// A tree whose root is present but empty has nothing missing either.
	if got := sMap.GetMissingNodes(10, nil); len(got) != 0 {
		t.Errorf("expected no missing nodes for an empty map, got %d", len(got))
	}
}

// TestSyncWorkflow drives the state transitions a ledger acquisition would
// go through: start, populate the root, finish.
func TestSyncWorkflow(t *testing.T) {
	sourceMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create source map: %v", err)
	}
	key := [32]byte{0xaa, 0xbb, 0xcc}
	if err := sourceMap.Put(key, []byte("test transaction data")); err != nil {
		t.Fatalf("Failed to put item: %v", err)
	}

	sourceHash, err := sourceMap.Hash()
	if err != nil {
		t.Fatalf("Failed to get source hash: %v", err)
	}
	sourceRootData, err := sourceMap.root.SerializeForWire()
	if err != nil {
		t.Fatalf("Failed to serialize source root: %v", err)
	}

	destMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create dest map: %v", err)
	}

	if err := destMap.StartSync(); err != nil {
		t.Fatalf("Failed to start sync: %v", err)
	}
	if err := destMap.AddRootNode(sourceHash, sourceRootData); err != nil {
		t.Fatalf("Failed to add root node: %v", err)
	}
	if err := destMap.FinishSync(); err != nil {
		t.Fatalf("Failed to finish sync: %v", err)
	}

	destHash, err := destMap.Hash()
	if err != nil {
		t.Fatalf("Failed to get dest hash: %v", err)
	}
	if destHash != sourceHash {
		t.Error("final destination hash should match source")
	}
	if !destMap.IsComplete() {
		t.Error("map should report complete after FinishSync")
	}
}

// TestSyncProgress checks the present/total accounting on a freshly rooted map.
func TestSyncProgress(t *testing.T) {
	sMap, err := New(TypeTransaction)
	if err != nil {
		t.Fatalf("Failed to create SHAMap: %v", err)
	}
	if err := sMap.Put([32]byte{1}, []byte("a")); err != nil {
		t.Fatalf("Failed to put item: %v", err)
	}

	present, total := sMap.SyncProgress()
	if present == 0 || total == 0 {
		t.Errorf("expected nonzero present/total, got present=%d total=%d", present, total)
	}
}
