package rcl

import (
	"sync"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	lru "github.com/hashicorp/golang-lru/v2"
)

// TrustPredicate reports whether a NodeID is in our UNL. Supplied by the
// caller rather than owned by the collection, per spec §4.7.
type TrustPredicate func(consensus.NodeID) bool

// deadLedgerCacheSize bounds the soft-blacklist FIFO; eviction policy is
// unspecified upstream, so spec.md pins it to 256 (see SPEC_FULL.md §5).
const deadLedgerCacheSize = 256

// ValidationCollection tracks current and superseded validations, per
// spec §4.7: two indices (by signer, by ledger hash) plus a bounded
// soft-blacklist of ledgers known bad.
type ValidationCollection struct {
	mu sync.RWMutex

	current  map[consensus.NodeID]*consensus.Validation
	stale    map[consensus.NodeID][]consensus.LedgerID
	byLedger map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation

	dead *lru.Cache[consensus.LedgerID, struct{}]
}

// NewValidationCollection creates an empty ValidationCollection.
func NewValidationCollection() *ValidationCollection {
	dead, _ := lru.New[consensus.LedgerID, struct{}](deadLedgerCacheSize)
	return &ValidationCollection{
		current:  make(map[consensus.NodeID]*consensus.Validation),
		stale:    make(map[consensus.NodeID][]consensus.LedgerID),
		byLedger: make(map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation),
		dead:     dead,
	}
}

// Add inserts a validation. Returns false if the signer already has an
// equal-or-newer validation on record. On success, any prior validation
// from that signer moves to stale and the new one is indexed by ledger.
func (vc *ValidationCollection) Add(v *consensus.Validation) bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if existing, ok := vc.current[v.NodeID]; ok {
		if !v.SignTime.After(existing.SignTime) {
			return false
		}
		vc.stale[v.NodeID] = append(vc.stale[v.NodeID], existing.LedgerID)
		vc.removeFromLedgerIndex(existing)
	}

	vc.current[v.NodeID] = v
	ledgerVals, ok := vc.byLedger[v.LedgerID]
	if !ok {
		ledgerVals = make(map[consensus.NodeID]*consensus.Validation)
		vc.byLedger[v.LedgerID] = ledgerVals
	}
	ledgerVals[v.NodeID] = v
	return true
}

func (vc *ValidationCollection) removeFromLedgerIndex(v *consensus.Validation) {
	ledgerVals, ok := vc.byLedger[v.LedgerID]
	if !ok {
		return
	}
	delete(ledgerVals, v.NodeID)
	if len(ledgerVals) == 0 {
		delete(vc.byLedger, v.LedgerID)
	}
}

// GetCurrentValidations returns the count of current validations per
// ledger hash.
func (vc *ValidationCollection) GetCurrentValidations() map[consensus.LedgerID]int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	counts := make(map[consensus.LedgerID]int, len(vc.byLedger))
	for ledgerID, vals := range vc.byLedger {
		counts[ledgerID] = len(vals)
	}
	return counts
}

// GetTrustedValidationCount returns the count of validations for h whose
// signer is trusted, per the caller-supplied predicate.
func (vc *ValidationCollection) GetTrustedValidationCount(h consensus.LedgerID, trusted TrustPredicate) int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	vals, ok := vc.byLedger[h]
	if !ok {
		return 0
	}
	count := 0
	for nodeID := range vals {
		if trusted(nodeID) {
			count++
		}
	}
	return count
}

// GetCurrentValidationCount returns the count of current validations
// signed after afterTime.
func (vc *ValidationCollection) GetCurrentValidationCount(afterTime func(v *consensus.Validation) bool) int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	count := 0
	for _, v := range vc.current {
		if afterTime(v) {
			count++
		}
	}
	return count
}

// AddDeadLedger soft-blacklists a ledger known bad. The oldest entry is
// evicted once the bounded FIFO is full.
func (vc *ValidationCollection) AddDeadLedger(h consensus.LedgerID) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.dead.Add(h, struct{}{})
}

// IsDeadLedger reports whether h is soft-blacklisted.
func (vc *ValidationCollection) IsDeadLedger(h consensus.LedgerID) bool {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.dead.Contains(h)
}

// ValidationsFor returns a copy of the current validations recorded
// for ledger h, keyed by signer, for callers that need to inspect
// individual signers (e.g. NetworkOPs tallying trusted vs. untrusted
// weight and the highest signer pubkey for its tie-break).
func (vc *ValidationCollection) ValidationsFor(h consensus.LedgerID) map[consensus.NodeID]*consensus.Validation {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	vals, ok := vc.byLedger[h]
	if !ok {
		return nil
	}
	out := make(map[consensus.NodeID]*consensus.Validation, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}

// CurrentValidationFor returns the current validation recorded for
// signer, if any.
func (vc *ValidationCollection) CurrentValidationFor(signer consensus.NodeID) (*consensus.Validation, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	v, ok := vc.current[signer]
	return v, ok
}
