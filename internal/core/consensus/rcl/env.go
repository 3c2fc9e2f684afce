package rcl

import (
	"log"
	"time"

	"github.com/LeJamon/goXRPLd/internal/config"
	"github.com/LeJamon/goXRPLd/internal/core/consensus"
)

// Status is a tagged result returned by collaborators instead of an
// exception, per the "corrupt internal key" / "missing node" cases this
// core must distinguish without throwing across component boundaries.
type Status int

const (
	// StatusOk means the operation succeeded.
	StatusOk Status = iota
	// StatusCorruption means an internal key or structure was broken;
	// fails the enclosing operation and aborts the round.
	StatusCorruption
	// StatusMissingNode means a SHAMap node referenced by hash is not
	// locally available; the caller should request it from peers.
	StatusMissingNode
	// StatusRetry means the operation is transient and should be retried.
	StatusRetry
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusCorruption:
		return "corruption"
	case StatusMissingNode:
		return "missingNode"
	case StatusRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// NodeStore is the hashed-object store collaborator: a content-addressed
// map from node hash to node body, typed by the caller. Storage internals
// are out of core scope; the core only ever calls through this interface.
type NodeStore interface {
	FetchNode(hash [32]byte) ([]byte, bool)
	StoreNode(hash [32]byte, nodeType string, ledgerSeq uint32, data []byte) error
}

// LedgerStore persists and retrieves ledger headers and bodies. Storage
// internals are out of core scope.
type LedgerStore interface {
	FetchLedgerHeader(hash consensus.LedgerID) (Header, bool)
	StoreLedger(l *Ledger) error
}

// PeerDirectory is the narrow view of the peer-management layer the
// core needs: issuing requests and demeriting misbehaving peers.
type PeerDirectory interface {
	RequestLedger(peer consensus.NodeID, hash consensus.LedgerID, kind int, nodeIDs [][]byte)
	RequestTxNodes(peer consensus.NodeID, setHash consensus.TxSetID, nodeIDs [][]byte)
	BroadcastProposal(p *consensus.Proposal)
	BroadcastValidation(v *consensus.Validation)
	BroadcastStatusChange(seq uint32, hash consensus.LedgerID)
	PunishPeer(peer consensus.NodeID, reason string)
	KnownPeers() []consensus.NodeID
	PeersWithLedger(hash consensus.LedgerID) []consensus.NodeID
}

// TxEngine applies a transaction to an open ledger. Business semantics
// live outside the core; this is the opaque seam it is applied through.
type TxEngine interface {
	// Apply applies tx to the open ledger. TER_RETRY is signaled by the
	// second return value so the accept routine can re-attempt it in a
	// fixed-point loop.
	Apply(ledger *Ledger, tx []byte) (applied bool, retry bool, err error)
}

// TxIndexWriter records the txId -> accountId -> ledgerSeq index after a
// ledger is accepted. Storage is out of core scope; this is a narrow
// write-only seam the accept routine calls post-close.
type TxIndexWriter interface {
	RecordTransaction(txID consensus.TxID, ledgerSeq uint32)
}

// Signer produces and verifies proposal/validation signatures.
type Signer interface {
	NodeID() consensus.NodeID
	SignProposal(p *consensus.Proposal) error
	SignValidation(v *consensus.Validation) error
	VerifyProposal(p *consensus.Proposal) bool
	VerifyValidation(v *consensus.Validation) bool
}

// Environment is the explicit, constructor-injected set of collaborators
// a round needs, replacing a global singleton. Every component that
// needs one of these takes it as a constructor parameter rather than
// reaching for a shared instance.
type Environment struct {
	Peers      PeerDirectory
	Nodes      NodeStore
	Ledgers    LedgerStore
	Validations *ValidationCollection
	TxEngine   TxEngine
	TxIndex    TxIndexWriter
	Signer     Signer
	Options    config.ConsensusOptions
	Logger     *log.Logger
	Now        func() time.Time
}

// now returns Environment.Now() if set, else wall-clock time. Kept as a
// method so round/timing code never has to nil-check at each call site.
func (e *Environment) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Environment) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
