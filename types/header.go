package types

import (
	cid "github.com/ipfs/go-cid"
)

// BlockHeader is an immutable record identifying a single block in a
// tipset. Every field is a plain, reflection-friendly type so that
// go-ipld-cbor's Atlas-based codec (cbor.DumpObject/DecodeInto) can encode
// and decode it without custom marshal code; cid.Cid fields are encoded as
// IPLD links by go-ipld-cbor itself.
//
// A header's own CID is computed, never stored, to avoid the header
// referencing itself.
type BlockHeader struct {
	// Parents is the parent tipset's CIDs (spec: "parent tipset key").
	Parents []cid.Cid
	// Height is the header's epoch.
	Height uint64
	// Miner is the address payload of the block's producer.
	Miner []byte
	// ParentWeight is the decimal encoding of the parent tipset's
	// consensus weight, an arbitrary-precision non-negative integer.
	ParentWeight string
	// Messages is the CID of this block's TxMeta (the message root).
	Messages cid.Cid
	// ParentMessageReceipts is the receipts-root CID.
	ParentMessageReceipts cid.Cid
	// ParentStateRoot is the state-root CID resulting from applying this
	// block's parent tipset.
	ParentStateRoot cid.Cid
	// ElectionProofVRF is the raw VRF output backing the election proof;
	// verifying it is delegated to an external collaborator.
	ElectionProofVRF []byte
	// WinCount is the election proof's win count.
	WinCount int64
	// BeaconEntries are the ordered randomness samples this block draws
	// on.
	BeaconEntries []BeaconEntry
	// Ticket is the raw ticket bytes used to order blocks within a
	// tipset.
	Ticket []byte
	// Signature is the miner's signature over the header, verified by an
	// external collaborator against Miner's public key.
	Signature []byte
	// Timestamp is the block's unix-seconds production time.
	Timestamp uint64
}

// Cid computes the header's content identifier.
func (h *BlockHeader) Cid() (cid.Cid, error) {
	return ObjectCid(h)
}

// ParentsKey normalizes Parents into a canonical TipSetKey.
func (h *BlockHeader) ParentsKey() TipSetKey {
	return NewTipSetKey(h.Parents...)
}

// MinerAddress wraps Miner as an Address.
func (h *BlockHeader) MinerAddress() Address {
	return NewAddress(h.Miner)
}

// Weight parses ParentWeight into a BigInt.
func (h *BlockHeader) Weight() (BigInt, error) {
	return ParseBigInt(h.ParentWeight)
}
