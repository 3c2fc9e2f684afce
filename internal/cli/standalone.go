package cli

import (
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/rcl"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
)

// genesisLedger builds the seed ledger a standalone node starts from:
// sequence zero, an empty transaction set, an empty state map, and a
// close time fixed so every node computes the same hash.
func genesisLedger() (*rcl.Ledger, error) {
	txMap, err := shamap.New(shamap.TypeTransaction)
	if err != nil {
		return nil, err
	}
	stateMap, err := shamap.New(shamap.TypeState)
	if err != nil {
		return nil, err
	}
	closeTime := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &rcl.Ledger{
		Header: rcl.Header{
			Seq:             0,
			CloseTime:       closeTime,
			ParentCloseTime: closeTime,
			CloseResolution: 10,
		},
		TxMap:    txMap,
		StateMap: stateMap,
	}
	l.Accept()
	l.MarkValidated()
	return l, nil
}

// noopPeerDirectory satisfies rcl.PeerDirectory for a node running with
// no overlay connections. KnownPeers reports a single synthetic entry so
// NetworkOPs (whose quorum floor is always at least 1) can leave
// Disconnected and drive rounds against itself, matching the teacher
// CLI's --standalone behavior.
type noopPeerDirectory struct {
	self consensus.NodeID
}

func (p *noopPeerDirectory) RequestLedger(consensus.NodeID, consensus.LedgerID, int, [][]byte) {}
func (p *noopPeerDirectory) RequestTxNodes(consensus.NodeID, consensus.TxSetID, [][]byte)       {}
func (p *noopPeerDirectory) BroadcastProposal(*consensus.Proposal)                              {}
func (p *noopPeerDirectory) BroadcastValidation(*consensus.Validation)                          {}
func (p *noopPeerDirectory) BroadcastStatusChange(uint32, consensus.LedgerID)                    {}
func (p *noopPeerDirectory) PunishPeer(consensus.NodeID, string)                                {}

func (p *noopPeerDirectory) KnownPeers() []consensus.NodeID {
	return []consensus.NodeID{p.self}
}

func (p *noopPeerDirectory) PeersWithLedger(consensus.LedgerID) []consensus.NodeID {
	return nil
}

// noopTxEngine applies nothing: a standalone driver has no transaction
// source of its own, so its open ledger tx set is always empty and the
// accept routine's fixed-point loop never iterates.
type noopTxEngine struct{}

func (noopTxEngine) Apply(*rcl.Ledger, []byte) (applied bool, retry bool, err error) {
	return true, false, nil
}

// noopTxIndexWriter discards the post-accept txId -> ledgerSeq index;
// a real deployment wires this to a durable index instead.
type noopTxIndexWriter struct{}

func (noopTxIndexWriter) RecordTransaction(consensus.TxID, uint32) {}
