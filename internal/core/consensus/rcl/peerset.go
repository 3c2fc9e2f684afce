package rcl

import (
	"sync"
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
)

// PeerSetCallbacks is the content-specific behavior a PeerSet driver is
// parameterized by, replacing the teacher's virtual-subclass pattern
// with composition: PeerSet holds the shared timeout/retry logic, the
// callbacks hold whatever is specific to what's being acquired.
type PeerSetCallbacks struct {
	// OnTimer is invoked on each timer fire; madeProgress reports whether
	// the progress flag was set since the last fire.
	OnTimer func(madeProgress bool)

	// NewPeer is invoked when a peer is added, to issue an immediate
	// request to it.
	NewPeer func(peer consensus.NodeID)
}

// PeerSet coordinates retrying requests to a rotating set of peers for a
// single target hash until content is obtained or the attempt is
// abandoned. See spec §4.1.
type PeerSet struct {
	mu sync.Mutex

	targetHash consensus.LedgerID
	callbacks  PeerSetCallbacks

	peers       map[consensus.NodeID]int // retry count
	timeoutMs   int
	timeoutCount int
	progress    bool
	complete    bool
	failed      bool

	timer *time.Timer
}

// NewPeerSet creates a PeerSet for targetHash. timeoutMs must satisfy
// 10 < timeoutMs < 30000.
func NewPeerSet(targetHash consensus.LedgerID, timeoutMs int, callbacks PeerSetCallbacks) *PeerSet {
	if timeoutMs <= 10 || timeoutMs >= 30000 {
		timeoutMs = 1000
	}
	return &PeerSet{
		targetHash: targetHash,
		callbacks:  callbacks,
		peers:      make(map[consensus.NodeID]int),
		timeoutMs:  timeoutMs,
	}
}

// PeerHas adds peer if not already present, inserting with retryCount=0
// and invoking NewPeer. No-op if peer is already tracked.
func (ps *PeerSet) PeerHas(peer consensus.NodeID) {
	ps.mu.Lock()
	if _, ok := ps.peers[peer]; ok {
		ps.mu.Unlock()
		return
	}
	ps.peers[peer] = 0
	ps.mu.Unlock()

	if ps.callbacks.NewPeer != nil {
		ps.callbacks.NewPeer(peer)
	}
}

// BadPeer removes peer from the set.
func (ps *PeerSet) BadPeer(peer consensus.NodeID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, peer)
}

// Progress flags that new useful data arrived; consumed by the next
// timer tick.
func (ps *PeerSet) Progress() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.progress = true
}

// Peers returns a snapshot of currently tracked peer IDs.
func (ps *PeerSet) Peers() []consensus.NodeID {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]consensus.NodeID, 0, len(ps.peers))
	for p := range ps.peers {
		out = append(out, p)
	}
	return out
}

// IsEmpty reports whether the peer set is empty.
func (ps *PeerSet) IsEmpty() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.peers) == 0
}

// TimeoutCount returns how many timer fires have found no progress; a
// later fire that finds progress does not reset it.
func (ps *PeerSet) TimeoutCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.timeoutCount
}

// ResetTimer arms a single-shot timer of timeoutMs. Safe to call
// repeatedly; the previous timer, if any, is stopped first.
func (ps *PeerSet) ResetTimer() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.resetTimerLocked()
}

func (ps *PeerSet) resetTimerLocked() {
	if ps.timer != nil {
		ps.timer.Stop()
	}
	if ps.complete || ps.failed {
		return
	}
	ps.timer = time.AfterFunc(time.Duration(ps.timeoutMs)*time.Millisecond, ps.onTimerFire)
}

func (ps *PeerSet) onTimerFire() {
	ps.mu.Lock()
	if ps.complete || ps.failed {
		ps.mu.Unlock()
		return
	}

	madeProgress := ps.progress
	if madeProgress {
		ps.progress = false
	} else {
		ps.timeoutCount++
	}
	cb := ps.callbacks.OnTimer
	ps.mu.Unlock()

	if cb != nil {
		cb(madeProgress)
	}
}

// SetComplete marks the job terminally complete. After this, all
// subsequent timer fires are no-ops.
func (ps *PeerSet) SetComplete() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.complete = true
	if ps.timer != nil {
		ps.timer.Stop()
	}
}

// SetFailed marks the job terminally failed. After this, all subsequent
// timer fires are no-ops.
func (ps *PeerSet) SetFailed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failed = true
	if ps.timer != nil {
		ps.timer.Stop()
	}
}

// Complete reports whether SetComplete has been called.
func (ps *PeerSet) Complete() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.complete
}

// Failed reports whether SetFailed has been called.
func (ps *PeerSet) Failed() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.failed
}
