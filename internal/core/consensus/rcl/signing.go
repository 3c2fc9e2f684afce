package rcl

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/crypto"
	secp256k1 "github.com/LeJamon/goXRPLd/internal/crypto/algorithms/secp256k1"
	crypto2 "github.com/LeJamon/goXRPLd/internal/crypto/common"
)

// signingPrefix is the "LGR\0" family prefix shared with the ledger hash,
// prepended before hashing anything this core signs.
var signingPrefix = [4]byte{0x4C, 0x57, 0x52, 0x00}

// localSigner is the Signer implementation backed by a single validator
// keypair derived from config's VALIDATION_SEED, wrapping the teacher's
// secp256k1 CryptoWrapper.
type localSigner struct {
	wrapper    *crypto.CryptoWrapper
	privateKey string
	publicKey  string
	nodeID     consensus.NodeID
}

// newLocalSigner derives a secp256k1 validator keypair from seed. An
// empty seed yields an observing-only signer whose signing methods
// return an error; it is always wrapped in a directoryBoundSigner by
// NewSigner before verification is exercised.
func newLocalSigner(seed []byte) (*localSigner, error) {
	wrapper := crypto.NewSECP256K1Wrapper(secp256k1.SECP256K1())

	s := &localSigner{wrapper: wrapper}
	if len(seed) == 0 {
		return s, nil
	}

	priv, pub, err := wrapper.GenerateKeypair(seed, true)
	if err != nil {
		return nil, fmt.Errorf("rcl: derive validator keypair: %w", err)
	}
	s.privateKey = priv
	s.publicKey = pub

	pubBytes, err := hex.DecodeString(pub)
	if err != nil {
		return nil, fmt.Errorf("rcl: decode derived public key: %w", err)
	}
	s.nodeID = consensus.NodeID(crypto.CalcNodeID(pubBytes))
	return s, nil
}

func (s *localSigner) NodeID() consensus.NodeID {
	return s.nodeID
}

func (s *localSigner) canSign() bool {
	return s.privateKey != ""
}

// proposalSigningBytes returns the canonical bytes a proposal's signature
// covers: prevLedger, txSetHash, closeTime, seq. pubKey and signature
// itself are excluded.
func proposalSigningBytes(p *consensus.Proposal) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 32+32+4+4))
	buf.Write(p.PreviousLedger[:])
	buf.Write(p.TxSet[:])
	binary.Write(buf, binary.BigEndian, uint32(p.CloseTime.Unix()))
	binary.Write(buf, binary.BigEndian, p.Position)
	return buf.Bytes()
}

// validationSigningBytes returns the canonical bytes a validation's
// signature covers, per spec: SHA512-half of the prefix followed by the
// validation's canonical serialization excluding the signature.
func validationSigningBytes(v *consensus.Validation) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 32+4+4+1))
	buf.Write(v.LedgerID[:])
	binary.Write(buf, binary.BigEndian, uint32(v.SignTime.Unix()))
	binary.Write(buf, binary.BigEndian, v.LedgerSeq)
	flags := uint8(0)
	if v.Full {
		flags = 1
	}
	binary.Write(buf, binary.BigEndian, flags)
	return buf.Bytes()
}

func signingHash(canonical []byte) [32]byte {
	full := make([]byte, 0, len(signingPrefix)+len(canonical))
	full = append(full, signingPrefix[:]...)
	full = append(full, canonical...)
	return crypto2.Sha512Half(full)
}

func (s *localSigner) SignProposal(p *consensus.Proposal) error {
	if !s.canSign() {
		return fmt.Errorf("rcl: signer has no validator key configured")
	}
	hash := signingHash(proposalSigningBytes(p))
	sigHex, err := s.wrapper.SignMessage(string(hash[:]), s.privateKey)
	if err != nil {
		return fmt.Errorf("rcl: sign proposal: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("rcl: decode proposal signature: %w", err)
	}
	p.Signature = sig
	p.NodeID = s.nodeID
	return nil
}

func (s *localSigner) SignValidation(v *consensus.Validation) error {
	if !s.canSign() {
		return fmt.Errorf("rcl: signer has no validator key configured")
	}
	hash := signingHash(validationSigningBytes(v))
	sigHex, err := s.wrapper.SignMessage(string(hash[:]), s.privateKey)
	if err != nil {
		return fmt.Errorf("rcl: sign validation: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("rcl: decode validation signature: %w", err)
	}
	v.Signature = sig
	v.NodeID = s.nodeID
	return nil
}

// pubKeyDirectory resolves a NodeID to the hex-encoded public key needed
// to verify its signatures. In production this is backed by the peer
// manifest cache; tests and the standalone CLI may use a static map.
type pubKeyDirectory interface {
	PublicKeyFor(id consensus.NodeID) (string, bool)
}

func (s *localSigner) verify(dir pubKeyDirectory, nodeID consensus.NodeID, canonical, sig []byte) bool {
	pub, ok := dir.PublicKeyFor(nodeID)
	if !ok {
		return false
	}
	hash := signingHash(canonical)
	return s.wrapper.VerifySignature(string(hash[:]), pub, hexEncode(sig))
}

func hexEncode(b []byte) string {
	return fmt.Sprintf("%X", b)
}

// directoryBoundSigner wraps a localSigner with a concrete public-key
// directory so VerifyProposal/VerifyValidation can resolve peer keys.
// Splitting this from localSigner keeps key derivation independent of
// how peer keys happen to be published on a given deployment.
type directoryBoundSigner struct {
	*localSigner
	dir pubKeyDirectory
}

// NewSigner builds the Signer the round uses, binding key derivation to
// a peer public-key directory for verification.
func NewSigner(seed []byte, dir pubKeyDirectory) (Signer, error) {
	base, err := newLocalSigner(seed)
	if err != nil {
		return nil, err
	}
	return &directoryBoundSigner{localSigner: base, dir: dir}, nil
}

func (s *directoryBoundSigner) VerifyProposal(p *consensus.Proposal) bool {
	return s.verify(s.dir, p.NodeID, proposalSigningBytes(p), p.Signature)
}

func (s *directoryBoundSigner) VerifyValidation(v *consensus.Validation) bool {
	return s.verify(s.dir, v.NodeID, validationSigningBytes(v), v.Signature)
}

// staticPubKeyDirectory is a pubKeyDirectory backed by a fixed map,
// suitable for tests and the standalone CLI driver.
type staticPubKeyDirectory struct {
	keys map[consensus.NodeID]string
}

// NewStaticPubKeyDirectory builds a pubKeyDirectory from a fixed NodeID
// to hex-encoded public key map.
func NewStaticPubKeyDirectory(keys map[consensus.NodeID]string) *staticPubKeyDirectory {
	return &staticPubKeyDirectory{keys: keys}
}

func (d *staticPubKeyDirectory) PublicKeyFor(id consensus.NodeID) (string, bool) {
	k, ok := d.keys[id]
	return k, ok
}
