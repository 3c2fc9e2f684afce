package rcl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/shamap"
	crypto "github.com/LeJamon/goXRPLd/internal/crypto/common"
)

// ledgerHashPrefix is prepended to the canonical encoding before hashing,
// "LGR\0" per the wire format.
var ledgerHashPrefix = [4]byte{0x4C, 0x57, 0x52, 0x00}

// headerSize is the fixed size of the canonical ledger-header encoding
// used for hashing: seq, totalCoins, three 32-byte hashes, two close
// times, resolution, and flags.
const headerSize = 4 + 8 + 32 + 32 + 32 + 4 + 4 + 1 + 1

// Header is a ledger header: the fixed-size, content-addressed summary
// of a ledger's identity. It owns no SHAMap state directly; txSet and
// state live in Ledger alongside it.
type Header struct {
	Seq             uint32
	TotalCoins      uint64
	ParentHash      consensus.LedgerID
	TxSetHash       consensus.TxSetID
	StateHash       [32]byte
	CloseTime       time.Time
	ParentCloseTime time.Time
	CloseResolution uint8
	CloseFlags      uint8
}

// closeAgreeFlag marks a ledger whose close time did not reach consensus;
// the bit mirrors the teacher's LCFNoConsensusTime.
const closeAgreeFlag uint8 = 0x01

// CloseAgree reports whether the network agreed on this ledger's close time.
func (h Header) CloseAgree() bool {
	return h.CloseFlags&closeAgreeFlag == 0
}

// Encode produces the canonical 118-byte encoding used for hashing.
func (h Header) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize))
	binary.Write(buf, binary.BigEndian, h.Seq)
	binary.Write(buf, binary.BigEndian, h.TotalCoins)
	buf.Write(h.ParentHash[:])
	buf.Write(h.TxSetHash[:])
	buf.Write(h.StateHash[:])
	binary.Write(buf, binary.BigEndian, uint32(h.CloseTime.Unix()))
	binary.Write(buf, binary.BigEndian, uint32(h.ParentCloseTime.Unix()))
	binary.Write(buf, binary.BigEndian, h.CloseResolution)
	binary.Write(buf, binary.BigEndian, h.CloseFlags)
	return buf.Bytes()
}

// Decode parses a canonical 118-byte header encoding.
func Decode(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, errors.New("rcl: short ledger header")
	}
	r := bytes.NewReader(data)
	var h Header
	binary.Read(r, binary.BigEndian, &h.Seq)
	binary.Read(r, binary.BigEndian, &h.TotalCoins)
	r.Read(h.ParentHash[:])
	r.Read(h.TxSetHash[:])
	r.Read(h.StateHash[:])
	var closeTime, parentCloseTime uint32
	binary.Read(r, binary.BigEndian, &closeTime)
	binary.Read(r, binary.BigEndian, &parentCloseTime)
	h.CloseTime = time.Unix(int64(closeTime), 0)
	h.ParentCloseTime = time.Unix(int64(parentCloseTime), 0)
	binary.Read(r, binary.BigEndian, &h.CloseResolution)
	binary.Read(r, binary.BigEndian, &h.CloseFlags)
	return h, nil
}

// Hash computes the ledger hash: SHA512-half of the prefix followed by
// the canonical encoding.
func (h Header) Hash() consensus.LedgerID {
	buf := make([]byte, 0, 4+headerSize)
	buf = append(buf, ledgerHashPrefix[:]...)
	buf = append(buf, h.Encode()...)
	return crypto.Sha512Half(buf)
}

// Ledger is the core's working representation of a ledger: the header
// plus its two authenticated maps. Closed ledgers are immutable; open
// ledgers may still be mutated by their exclusive owner.
type Ledger struct {
	Header   Header
	TxMap    *shamap.SHAMap
	StateMap *shamap.SHAMap

	closed    bool
	accepted  bool
	validated bool
}

// NewOpenLedger constructs a child ledger of parent, open for new
// transactions, carrying forward parent's state map as a mutable snapshot.
func NewOpenLedger(parent *Ledger) (*Ledger, error) {
	stateSnap, err := parent.StateMap.Snapshot(true)
	if err != nil {
		return nil, err
	}
	txMap, err := shamap.New(shamap.TypeTransaction)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		Header: Header{
			Seq:             parent.Header.Seq + 1,
			TotalCoins:      parent.Header.TotalCoins,
			ParentHash:      parent.Hash(),
			CloseResolution: parent.Header.CloseResolution,
			ParentCloseTime: parent.Header.CloseTime,
		},
		TxMap:    txMap,
		StateMap: stateSnap,
	}, nil
}

// Hash returns the ledger's identity hash.
func (l *Ledger) Hash() consensus.LedgerID {
	return l.Header.Hash()
}

// Seq returns the ledger sequence number.
func (l *Ledger) Seq() uint32 {
	return l.Header.Seq
}

// ParentID returns the parent ledger's hash.
func (l *Ledger) ParentID() consensus.LedgerID {
	return l.Header.ParentHash
}

// Closed reports whether the transaction set is frozen.
func (l *Ledger) Closed() bool {
	return l.closed
}

// Close freezes the ledger's maps at the given close time and resolution,
// computing final hashes. closeAgree false marks a ledger whose
// close-time bucket received no consensus.
func (l *Ledger) Close(closeTime time.Time, resolution uint8, closeAgree bool) error {
	if err := l.TxMap.SetImmutable(); err != nil {
		return err
	}
	if err := l.StateMap.SetImmutable(); err != nil {
		return err
	}
	txHash, err := l.TxMap.Hash()
	if err != nil {
		return err
	}
	stateHash, err := l.StateMap.Hash()
	if err != nil {
		return err
	}
	l.Header.TxSetHash = txHash
	l.Header.StateHash = stateHash
	l.Header.CloseTime = closeTime
	l.Header.CloseResolution = resolution
	if !closeAgree {
		l.Header.CloseFlags |= closeAgreeFlag
	} else {
		l.Header.CloseFlags &^= closeAgreeFlag
	}
	l.closed = true
	return nil
}

// Accept marks the ledger as the node's new last-closed ledger.
func (l *Ledger) Accept() {
	l.accepted = true
}

// Accepted reports whether Accept has been called.
func (l *Ledger) Accepted() bool {
	return l.accepted
}

// MarkValidated records that the network has validated this ledger.
// Once true, it is never reset to false.
func (l *Ledger) MarkValidated() {
	l.validated = true
}

// Validated reports whether this ledger has been validated.
func (l *Ledger) Validated() bool {
	return l.validated
}
