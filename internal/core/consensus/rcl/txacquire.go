package rcl

import (
	"sync"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
)

const (
	txAcquireTimeoutMs        = 250
	txAcquireMaxTimeouts      = 20
	txAcquireMaxNodesPerBatch = 256
)

// TransactionAcquire specializes PeerSet for a single proposed
// transaction set: same missing-node pull as LedgerAcquire but with a
// larger batch cap and a much shorter timeout, since disagreement over
// a transaction set blocks the whole round. See spec §4.4.
type TransactionAcquire struct {
	mu sync.Mutex

	env   *Environment
	hash  consensus.TxSetID
	peers *PeerSet

	txMap          *shamap.SHAMap
	rootReceived   bool
	complete       bool
	failed         bool

	onComplete []func(*shamap.SHAMap)
}

func newTransactionAcquire(env *Environment, hash consensus.TxSetID) *TransactionAcquire {
	m, _ := shamap.New(shamap.TypeTransaction)
	m.StartSync()

	ta := &TransactionAcquire{env: env, hash: hash, txMap: m}
	ta.peers = NewPeerSet(consensus.LedgerID(hash), txAcquireTimeoutMs, PeerSetCallbacks{
		OnTimer: ta.onTimer,
		NewPeer: ta.onNewPeer,
	})
	return ta
}

// start attempts a local fetch of the set's root node before falling
// back to peers.
func (ta *TransactionAcquire) start() {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	if ta.env.Nodes != nil {
		if data, ok := ta.env.Nodes.FetchNode(ta.hash); ok {
			if err := ta.txMap.AddRootNode(ta.hash, data); err == nil {
				ta.rootReceived = true
				ta.peers.Progress()
				ta.checkCompleteLocked()
			}
		}
	}
	if !ta.complete && !ta.failed {
		var zero consensus.NodeID
		ta.requestMissingLocked(zero)
	}
	ta.peers.ResetTimer()
}

// AddPeer registers peer as a source, triggering an immediate request.
func (ta *TransactionAcquire) AddPeer(peer consensus.NodeID) {
	ta.peers.PeerHas(peer)
}

// GotNodeData applies a node body received from a peer, identified by
// the hash it was requested under (the set hash itself, for the root).
func (ta *TransactionAcquire) GotNodeData(nodeHash consensus.TxSetID, data []byte) Status {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	if ta.complete || ta.failed {
		return StatusOk
	}

	var err error
	if !ta.rootReceived {
		err = ta.txMap.AddRootNode(ta.hash, data)
		if err == nil {
			ta.rootReceived = true
		}
	} else {
		err = ta.txMap.AddKnownNode(nodeHash, data)
	}
	if err != nil {
		return StatusMissingNode
	}

	if ta.env.Nodes != nil {
		ta.env.Nodes.StoreNode(nodeHash, "tx", 0, data)
	}
	ta.peers.Progress()
	ta.checkCompleteLocked()
	return StatusOk
}

func (ta *TransactionAcquire) checkCompleteLocked() {
	if ta.complete || ta.failed || !ta.rootReceived {
		return
	}
	if len(ta.txMap.GetMissingNodes(1, nil)) != 0 {
		return
	}
	if err := ta.txMap.FinishSync(); err != nil {
		return
	}

	ta.complete = true
	ta.peers.SetComplete()

	callbacks := ta.onComplete
	ta.onComplete = nil
	m := ta.txMap
	ta.mu.Unlock()
	for _, cb := range callbacks {
		cb(m)
	}
	ta.mu.Lock()
}

// OnComplete registers fn to run once the transaction set is fully
// assembled. Already-complete jobs invoke fn inline, matching
// LedgerAcquire's callback-drain contract.
func (ta *TransactionAcquire) OnComplete(fn func(*shamap.SHAMap)) {
	ta.mu.Lock()
	if ta.complete {
		m := ta.txMap
		ta.mu.Unlock()
		fn(m)
		return
	}
	ta.onComplete = append(ta.onComplete, fn)
	ta.mu.Unlock()
}

// IsComplete reports whether the transaction set has been fully assembled.
func (ta *TransactionAcquire) IsComplete() bool {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	return ta.complete
}

func (ta *TransactionAcquire) onNewPeer(peer consensus.NodeID) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	if ta.complete || ta.failed {
		return
	}
	ta.requestMissingLocked(peer)
}

func (ta *TransactionAcquire) onTimer(madeProgress bool) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	if ta.complete || ta.failed {
		return
	}

	if !madeProgress && ta.peers.TimeoutCount() > txAcquireMaxTimeouts {
		ta.failed = true
		ta.peers.SetFailed()
		return
	}

	if ta.peers.IsEmpty() && ta.env.Peers != nil {
		for _, p := range ta.env.Peers.KnownPeers() {
			ta.peers.PeerHas(p)
		}
	}

	var zero consensus.NodeID
	ta.requestMissingLocked(zero)
	ta.peers.ResetTimer()
}

func (ta *TransactionAcquire) requestMissingLocked(peer consensus.NodeID) {
	if ta.env.Peers == nil {
		return
	}
	if !ta.rootReceived {
		ta.env.Peers.RequestTxNodes(peer, ta.hash, [][]byte{append([]byte{}, ta.hash[:]...)})
		return
	}
	missing := ta.txMap.GetMissingNodes(txAcquireMaxNodesPerBatch, nil)
	if len(missing) == 0 {
		return
	}
	ids := make([][]byte, len(missing))
	for i, mn := range missing {
		h := mn.Hash
		ids[i] = append([]byte{}, h[:]...)
	}
	ta.env.Peers.RequestTxNodes(peer, ta.hash, ids)
}

// TransactionAcquireMaster is the dedup registry mapping tx-set hash to
// the single in-flight TransactionAcquire for it, mirroring
// LedgerAcquireMaster's role for full ledgers.
type TransactionAcquireMaster struct {
	mu        sync.Mutex
	env       *Environment
	acquiring map[consensus.TxSetID]*TransactionAcquire
}

// NewTransactionAcquireMaster creates an empty registry bound to env.
func NewTransactionAcquireMaster(env *Environment) *TransactionAcquireMaster {
	return &TransactionAcquireMaster{
		env:       env,
		acquiring: make(map[consensus.TxSetID]*TransactionAcquire),
	}
}

// FindCreate returns the existing job for hash, or constructs, seeds,
// and starts a new one.
func (m *TransactionAcquireMaster) FindCreate(hash consensus.TxSetID) *TransactionAcquire {
	m.mu.Lock()
	if job, ok := m.acquiring[hash]; ok {
		m.mu.Unlock()
		return job
	}
	job := newTransactionAcquire(m.env, hash)
	m.acquiring[hash] = job
	m.mu.Unlock()

	if m.env.Peers != nil {
		for _, p := range m.env.Peers.KnownPeers() {
			job.AddPeer(p)
		}
	}
	job.start()
	return job
}

// Find returns the job for hash without creating one.
func (m *TransactionAcquireMaster) Find(hash consensus.TxSetID) (*TransactionAcquire, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.acquiring[hash]
	return job, ok
}

// DropSet removes the job for hash, if any.
func (m *TransactionAcquireMaster) DropSet(hash consensus.TxSetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.acquiring, hash)
}

// GotTxSetData routes a node-data reply for hash, received from peer,
// to the corresponding job. Returns false if no such job is active.
func (m *TransactionAcquireMaster) GotTxSetData(hash consensus.TxSetID, peer consensus.NodeID, nodeHash consensus.TxSetID, data []byte) bool {
	job, ok := m.Find(hash)
	if !ok {
		return false
	}
	job.peers.PeerHas(peer)
	job.GotNodeData(nodeHash, data)
	return true
}
