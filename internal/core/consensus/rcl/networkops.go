package rcl

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
)

// NetworkMode mirrors the operating-mode ladder from spec §4.10:
// Disconnected -> Connected -> Tracking -> Full. Demotions are allowed
// from any state on the next tick's re-evaluation.
type NetworkMode int

const (
	NetworkDisconnected NetworkMode = iota
	NetworkConnected
	NetworkTracking
	NetworkFull
)

func (m NetworkMode) String() string {
	switch m {
	case NetworkDisconnected:
		return "disconnected"
	case NetworkConnected:
		return "connected"
	case NetworkTracking:
		return "tracking"
	case NetworkFull:
		return "full"
	default:
		return "unknown"
	}
}

// networkOpsWobbleTime is how far ahead of a ledger's scheduled close
// NetworkOPs arms the next round, matching the original's pre-close
// "wobble" allowance.
const networkOpsWobbleTime = 2 * time.Second

// ValidationCount tallies, for one candidate ledger hash, the evidence
// NetworkOPs uses to pick the network's dominant LCL. Comparison is
// lexicographic: trusted validations, then untrusted, then the count of
// distinct nodes reporting it, then the highest signer pubkey as a
// final deterministic tie-break (spec §4.10 step 2).
type ValidationCount struct {
	Trusted        int
	Untrusted      int
	NodesUsing     int
	HighNodePubKey consensus.NodeID
}

func (a ValidationCount) greaterThan(b ValidationCount) bool {
	if a.Trusted != b.Trusted {
		return a.Trusted > b.Trusted
	}
	if a.Untrusted != b.Untrusted {
		return a.Untrusted > b.Untrusted
	}
	if a.NodesUsing != b.NodesUsing {
		return a.NodesUsing > b.NodesUsing
	}
	return bytes.Compare(a.HighNodePubKey[:], b.HighNodePubKey[:]) > 0
}

// NetworkOPs selects the last-closed ledger and arms each consensus
// round (spec §4.10). It owns the single active Round, if any, and is
// the only component that constructs one.
type NetworkOPs struct {
	mu sync.Mutex

	env     *Environment
	lam     *LedgerAcquireMaster
	tam     *TransactionAcquireMaster
	trusted TrustPredicate

	mode   NetworkMode
	quorum int

	current         *Ledger
	openLedgerTxSet *shamap.SHAMap
	round           *Round

	sessionID uuid.UUID
}

// NewNetworkOPs creates a NetworkOPs bound to env, starting Disconnected
// with no current ledger. genesis is the ledger to adopt once the first
// tick confirms the network agrees with it (pass nil if none is known
// locally yet; it will be acquired from peers).
func NewNetworkOPs(env *Environment, lam *LedgerAcquireMaster, tam *TransactionAcquireMaster, trusted TrustPredicate, genesis *Ledger) *NetworkOPs {
	quorum := int(env.Options.NetworkQuorum)
	if quorum <= 0 {
		quorum = 1
	}
	return &NetworkOPs{
		env:             env,
		lam:             lam,
		tam:             tam,
		trusted:         trusted,
		quorum:          quorum,
		current:         genesis,
		sessionID:       uuid.New(),
		openLedgerTxSet: newEmptyTxSet(),
	}
}

func newEmptyTxSet() *shamap.SHAMap {
	m, _ := shamap.New(shamap.TypeTransaction)
	return m
}

// Mode reports the current operating mode.
func (n *NetworkOPs) Mode() NetworkMode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

// CurrentLedger returns the node's current last-closed ledger, or nil
// before the first one is adopted.
func (n *NetworkOPs) CurrentLedger() *Ledger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// SessionID identifies this NetworkOPs instance's lifetime for logging
// and external correlation (e.g. tagging RPC responses with which node
// process produced them).
func (n *NetworkOPs) SessionID() uuid.UUID {
	return n.sessionID
}

// ActiveRound returns the in-progress round, if any.
func (n *NetworkOPs) ActiveRound() *Round {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.round
}

func (n *NetworkOPs) setModeLocked(m NetworkMode) {
	if m == n.mode {
		return
	}
	n.env.logf("networkops: mode %s -> %s", n.mode, m)
	n.mode = m
}

// Tick runs one state-timer evaluation (spec §4.10 steps 1-5). It
// should be called on a fixed cadence (5-10s, shorter near close per
// the spec; the caller is expected to tighten the interval itself
// when a round is active and close is near).
func (n *NetworkOPs) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	peerCount := 0
	if n.env.Peers != nil {
		peerCount = len(n.env.Peers.KnownPeers())
	}
	if peerCount < n.quorum {
		n.setModeLocked(NetworkDisconnected)
		return
	}
	if n.mode == NetworkDisconnected {
		n.setModeLocked(NetworkConnected)
	}

	tally := n.tallyValidationsLocked()
	dominant, dominantCount, haveDominant := bestLedgerLocked(tally)

	midAccept := n.round != nil && n.round.Phase() == consensus.PhaseFinished
	if haveDominant && dominantCount.Trusted+dominantCount.Untrusted > 0 && !midAccept {
		if n.current == nil || dominant != n.current.Hash() {
			n.switchLastClosedLedgerLocked(dominant)
		}
	}

	if n.current != nil && haveDominant && dominant == n.current.Hash() {
		if n.mode == NetworkConnected {
			n.setModeLocked(NetworkTracking)
		}
		if n.mode == NetworkTracking && n.holdImmediateParentLocked() {
			n.setModeLocked(NetworkFull)
		}
	}

	if n.round != nil && n.round.Phase() == consensus.PhaseAccepted {
		n.round = nil
	}

	if n.round == nil && n.current != nil {
		nextClose := n.current.Header.CloseTime.Add(LedgerIdleInterval)
		if n.env.now().Add(networkOpsWobbleTime).After(nextClose) {
			n.startRoundLocked()
		}
	}
}

// holdImmediateParentLocked reports whether we have the dominant
// ledger's immediate parent available locally, the extra bar for
// Tracking -> Full (spec §4.10 step 4).
func (n *NetworkOPs) holdImmediateParentLocked() bool {
	if n.current == nil || n.env.Ledgers == nil {
		return false
	}
	_, ok := n.env.Ledgers.FetchLedgerHeader(n.current.Header.ParentHash)
	return ok
}

// tallyValidationsLocked scores each ledger hash with current
// validations a ValidationCollection has on file. NodesUsing is
// approximated as the total validator count for that hash: this core
// has no separate peer-advertised-ledger-hash channel (that lives in
// the overlay/network layer, out of scope per spec §1), so validation
// evidence is the only signal available here.
func (n *NetworkOPs) tallyValidationsLocked() map[consensus.LedgerID]ValidationCount {
	tally := make(map[consensus.LedgerID]ValidationCount)
	if n.env.Validations == nil {
		return tally
	}
	for ledgerID := range n.env.Validations.GetCurrentValidations() {
		vc := ValidationCount{}
		for nodeID, v := range n.env.Validations.ValidationsFor(ledgerID) {
			if n.trusted != nil && n.trusted(nodeID) {
				vc.Trusted++
			} else {
				vc.Untrusted++
			}
			vc.NodesUsing++
			if bytes.Compare(nodeID[:], vc.HighNodePubKey[:]) > 0 {
				vc.HighNodePubKey = v.NodeID
			}
		}
		tally[ledgerID] = vc
	}
	return tally
}

func bestLedgerLocked(tally map[consensus.LedgerID]ValidationCount) (consensus.LedgerID, ValidationCount, bool) {
	var best consensus.LedgerID
	var bestCount ValidationCount
	found := false
	for id, vc := range tally {
		if !found || vc.greaterThan(bestCount) {
			best, bestCount, found = id, vc, true
		}
	}
	return best, bestCount, found
}

// switchLastClosedLedgerLocked adopts hash as the new LCL, acquiring it
// from peers if we don't already have it, demoting to Tracking while
// the switch is in flight, and forking a fresh open ledger from it
// (spec §4.10 step 3, the "jump" case). It briefly drops n.mu around
// the acquire-registry call since LedgerAcquire.OnComplete invokes its
// callback inline when the job is already complete, and that callback
// re-locks n.mu itself.
func (n *NetworkOPs) switchLastClosedLedgerLocked(hash consensus.LedgerID) {
	n.setModeLocked(NetworkTracking)
	n.round = nil

	// A header alone isn't enough: NewOpenLedger needs the actual state
	// tree to carry forward, so even a ledger whose header we already
	// have locally goes through the acquire path, which reconstructs
	// both maps from the node store (and falls back to peers for
	// anything missing).
	n.mu.Unlock()
	job := n.lam.FindCreate(hash)
	job.OnComplete(func(l *Ledger) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.current = l
		n.openLedgerTxSet = newEmptyTxSet()
	})
	n.mu.Lock()
}

// startRoundLocked constructs a new Round against the current LCL and
// wires its end-of-round callback back into this NetworkOPs so the
// next tick sees PhaseAccepted and releases it.
func (n *NetworkOPs) startRoundLocked() {
	prevHash := consensus.LedgerID{}
	if n.current != nil {
		prevHash = n.current.Hash()
	}
	r := NewRound(n.env, n.lam, n.tam, prevHash, n.openLedgerTxSet, n.current)
	r.SetOnRoundEnd(func(l *Ledger) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.current = l
		n.openLedgerTxSet = newEmptyTxSet()
	})
	n.round = r
}
