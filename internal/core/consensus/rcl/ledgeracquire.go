package rcl

import (
	"sync"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
)

// requestKind mirrors the wire GetLedger query types this core issues,
// generalized from the teacher's ledgersync LedgerDataType.
type requestKind int

const (
	requestBase requestKind = iota
	requestTxNode
	requestASNode
)

const (
	ledgerAcquireTimeoutMs        = 1000
	ledgerAcquireMaxTimeouts      = 6
	ledgerAcquireMaxNodesPerBatch = 128
)

// LedgerAcquire drives acquisition of a single ledger's header,
// transaction set, and account-state map from peers. haveBase, haveTxSet
// and haveState form a monotone lattice: once set, never cleared. See
// spec §4.2.
type LedgerAcquire struct {
	mu sync.Mutex

	env   *Environment
	hash  consensus.LedgerID
	peers *PeerSet

	header   Header
	txMap    *shamap.SHAMap
	stateMap *shamap.SHAMap

	txRootReceived, stateRootReceived bool
	haveBase, haveTxSet, haveState    bool
	complete, failed                 bool

	onComplete []func(*Ledger)
	result     *Ledger
}

// newLedgerAcquire constructs a job for hash. It does not start work;
// callers go through LedgerAcquireMaster.FindCreate.
func newLedgerAcquire(env *Environment, hash consensus.LedgerID) *LedgerAcquire {
	la := &LedgerAcquire{env: env, hash: hash}
	la.peers = NewPeerSet(hash, ledgerAcquireTimeoutMs, PeerSetCallbacks{
		OnTimer: la.onTimer,
		NewPeer: la.onNewPeer,
	})
	return la
}

// start attempts a local fetch of the base header; if that fails, it
// requests the base from whatever peers are already seeded, then arms
// the retry timer.
func (la *LedgerAcquire) start() {
	la.mu.Lock()
	defer la.mu.Unlock()

	la.tryLocalBaseLocked()
	if !la.complete && !la.failed {
		var zero consensus.NodeID
		la.requestMissingLocked(zero)
	}
	la.peers.ResetTimer()
}

func (la *LedgerAcquire) tryLocalBaseLocked() {
	if la.env.Nodes == nil {
		return
	}
	data, ok := la.env.Nodes.FetchNode(la.hash)
	if !ok {
		return
	}
	la.applyBaseLocked(data)
}

// applyBaseLocked parses a candidate base header. A hash mismatch aborts
// the job outright, per spec §4.2 guarantee 3.
func (la *LedgerAcquire) applyBaseLocked(data []byte) {
	if la.haveBase {
		return
	}
	hdr, err := Decode(data)
	if err != nil {
		la.failLocked()
		return
	}
	if hdr.Hash() != la.hash {
		la.failLocked()
		return
	}

	txMap, err := shamap.New(shamap.TypeTransaction)
	if err != nil {
		la.failLocked()
		return
	}
	stateMap, err := shamap.New(shamap.TypeState)
	if err != nil {
		la.failLocked()
		return
	}

	la.header = hdr
	la.txMap = txMap
	la.stateMap = stateMap
	la.haveBase = true
	la.peers.Progress()

	var zeroTxSet consensus.TxSetID
	if hdr.TxSetHash == zeroTxSet {
		la.haveTxSet = true
	} else {
		la.txMap.StartSync()
		la.tryLocalMapRootLocked(la.txMap, &la.txRootReceived, hdr.TxSetHash)
	}

	var zeroState [32]byte
	if hdr.StateHash == zeroState {
		la.haveState = true
	} else {
		la.stateMap.StartSync()
		la.tryLocalMapRootLocked(la.stateMap, &la.stateRootReceived, hdr.StateHash)
	}

	la.checkCompleteLocked()
}

func (la *LedgerAcquire) tryLocalMapRootLocked(m *shamap.SHAMap, rootReceived *bool, rootHash [32]byte) {
	if la.env.Nodes == nil {
		return
	}
	data, ok := la.env.Nodes.FetchNode(rootHash)
	if !ok {
		return
	}
	if err := m.AddRootNode(rootHash, data); err == nil {
		*rootReceived = true
	}
}

// GotNodeData applies a single node body received from a peer in
// response to a request of the given kind. nodeHash is the content hash
// the node was requested under (the root hash, for the first node of
// each map).
func (la *LedgerAcquire) GotNodeData(kind requestKind, nodeHash [32]byte, data []byte) Status {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.complete || la.failed {
		return StatusOk
	}

	switch kind {
	case requestBase:
		la.applyBaseLocked(data)
		return StatusOk
	case requestTxNode:
		return la.applyMapNodeLocked(la.txMap, &la.txRootReceived, &la.haveTxSet, la.header.TxSetHash, nodeHash, data, "tx")
	case requestASNode:
		return la.applyMapNodeLocked(la.stateMap, &la.stateRootReceived, &la.haveState, la.header.StateHash, nodeHash, data, "account")
	}
	return StatusOk
}

func (la *LedgerAcquire) applyMapNodeLocked(m *shamap.SHAMap, rootReceived, haveFlag *bool, rootHash, nodeHash [32]byte, data []byte, tag string) Status {
	if m == nil || *haveFlag {
		return StatusOk
	}

	var err error
	if !*rootReceived {
		err = m.AddRootNode(rootHash, data)
		if err == nil {
			*rootReceived = true
		}
	} else {
		err = m.AddKnownNode(nodeHash, data)
	}
	if err != nil {
		return StatusMissingNode
	}

	if la.env.Nodes != nil {
		la.env.Nodes.StoreNode(nodeHash, tag, la.header.Seq, data)
	}
	la.peers.Progress()

	if len(m.GetMissingNodes(1, nil)) == 0 {
		if err := m.FinishSync(); err == nil {
			*haveFlag = true
		}
	}
	la.checkCompleteLocked()
	return StatusOk
}

func (la *LedgerAcquire) checkCompleteLocked() {
	if la.complete || la.failed {
		return
	}
	if !(la.haveBase && la.haveTxSet && la.haveState) {
		return
	}

	la.result = &Ledger{
		Header:   la.header,
		TxMap:    la.txMap,
		StateMap: la.stateMap,
	}
	la.complete = true
	la.peers.SetComplete()

	if la.env.Ledgers != nil {
		la.env.Ledgers.StoreLedger(la.result)
	}

	callbacks := la.onComplete
	la.onComplete = nil
	result := la.result
	la.mu.Unlock()
	for _, cb := range callbacks {
		cb(result)
	}
	la.mu.Lock()
}

func (la *LedgerAcquire) failLocked() {
	if la.complete || la.failed {
		return
	}
	la.failed = true
	la.peers.SetFailed()
}

// OnComplete registers a callback to run once the ledger is fully
// acquired. If acquisition has already completed, fn is invoked inline
// immediately rather than queued, per spec §4.2 guarantee 2.
func (la *LedgerAcquire) OnComplete(fn func(*Ledger)) {
	la.mu.Lock()
	if la.complete {
		result := la.result
		la.mu.Unlock()
		fn(result)
		return
	}
	la.onComplete = append(la.onComplete, fn)
	la.mu.Unlock()
}

// IsComplete reports whether the ledger has been fully acquired.
func (la *LedgerAcquire) IsComplete() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.complete
}

// IsFailed reports whether the job was abandoned.
func (la *LedgerAcquire) IsFailed() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.failed
}

// Hash returns the ledger hash this job is acquiring.
func (la *LedgerAcquire) Hash() consensus.LedgerID {
	return la.hash
}

// AddPeer registers peer as a source for this job, triggering an
// immediate request to it.
func (la *LedgerAcquire) AddPeer(peer consensus.NodeID) {
	la.peers.PeerHas(peer)
}

func (la *LedgerAcquire) onNewPeer(peer consensus.NodeID) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.complete || la.failed {
		return
	}
	la.requestMissingLocked(peer)
}

func (la *LedgerAcquire) onTimer(madeProgress bool) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.complete || la.failed {
		return
	}

	if !madeProgress && la.peers.TimeoutCount() > ledgerAcquireMaxTimeouts {
		la.failLocked()
		return
	}

	if la.peers.IsEmpty() && la.env.Peers != nil {
		for _, p := range la.env.Peers.PeersWithLedger(la.hash) {
			la.peers.PeerHas(p)
		}
	}

	var zero consensus.NodeID
	la.requestMissingLocked(zero)
	la.peers.ResetTimer()
}

// requestMissingLocked issues whatever request would make progress next:
// the base header if it is still missing, otherwise the tx/state map
// roots or their missing nodes. A zero peer value means "let the
// directory choose" (broadcast or peer-selection is its concern).
func (la *LedgerAcquire) requestMissingLocked(peer consensus.NodeID) {
	if la.env.Peers == nil {
		return
	}
	if !la.haveBase {
		la.env.Peers.RequestLedger(peer, la.hash, int(requestBase), nil)
		return
	}
	if !la.haveTxSet && la.txMap != nil {
		la.requestMapNodesLocked(la.txRootReceived, la.header.TxSetHash, requestTxNode, peer)
	}
	if !la.haveState && la.stateMap != nil {
		la.requestMapNodesLocked(la.stateRootReceived, la.header.StateHash, requestASNode, peer)
	}
}

func (la *LedgerAcquire) requestMapNodesLocked(rootReceived bool, rootHash [32]byte, kind requestKind, peer consensus.NodeID) {
	if !rootReceived {
		la.env.Peers.RequestLedger(peer, la.hash, int(kind), [][]byte{append([]byte{}, rootHash[:]...)})
		return
	}

	m := la.txMap
	if kind == requestASNode {
		m = la.stateMap
	}
	missing := m.GetMissingNodes(ledgerAcquireMaxNodesPerBatch, nil)
	if len(missing) == 0 {
		return
	}
	ids := make([][]byte, len(missing))
	for i, mn := range missing {
		h := mn.Hash
		ids[i] = append([]byte{}, h[:]...)
	}
	la.env.Peers.RequestLedger(peer, la.hash, int(kind), ids)
}

// LedgerAcquireMaster is the dedup registry mapping ledger hash to the
// single in-flight LedgerAcquire for it. See spec §4.3.
type LedgerAcquireMaster struct {
	mu        sync.Mutex
	env       *Environment
	acquiring map[consensus.LedgerID]*LedgerAcquire
}

// NewLedgerAcquireMaster creates an empty registry bound to env.
func NewLedgerAcquireMaster(env *Environment) *LedgerAcquireMaster {
	return &LedgerAcquireMaster{
		env:       env,
		acquiring: make(map[consensus.LedgerID]*LedgerAcquire),
	}
}

// FindCreate returns the existing job for hash, or constructs, seeds,
// and starts a new one. At most one job per hash is ever in flight.
func (m *LedgerAcquireMaster) FindCreate(hash consensus.LedgerID) *LedgerAcquire {
	m.mu.Lock()
	if job, ok := m.acquiring[hash]; ok {
		m.mu.Unlock()
		return job
	}
	job := newLedgerAcquire(m.env, hash)
	m.acquiring[hash] = job
	m.mu.Unlock()

	if m.env.Peers != nil {
		for _, p := range m.env.Peers.PeersWithLedger(hash) {
			job.AddPeer(p)
		}
	}
	job.start()
	return job
}

// Find returns the job for hash without creating one.
func (m *LedgerAcquireMaster) Find(hash consensus.LedgerID) (*LedgerAcquire, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.acquiring[hash]
	return job, ok
}

// DropLedger removes the job for hash, if any.
func (m *LedgerAcquireMaster) DropLedger(hash consensus.LedgerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.acquiring, hash)
}

// GotLedgerData routes a node-data reply for hash, received from peer,
// to the corresponding job. Returns false if no such job is active.
func (m *LedgerAcquireMaster) GotLedgerData(hash consensus.LedgerID, peer consensus.NodeID, kind int, nodeHash [32]byte, data []byte) bool {
	job, ok := m.Find(hash)
	if !ok {
		return false
	}
	job.peers.PeerHas(peer)
	job.GotNodeData(requestKind(kind), nodeHash, data)
	return true
}
