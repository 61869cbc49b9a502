package types

import (
	cid "github.com/ipfs/go-cid"
)

// TxMeta is the pair of content-addressed message-array roots a block's
// Messages field points to (spec §3). TxMeta is itself content-addressed;
// its own CID is what the header's Messages field stores.
type TxMeta struct {
	BLSRoot  cid.Cid
	SECPRoot cid.Cid
}

// Cid computes the TxMeta's own content identifier.
func (t *TxMeta) Cid() (cid.Cid, error) {
	return ObjectCid(t)
}

// MessageArray is a content-addressed array of message CIDs. A production
// implementation backs this with an AMT (array-mapped trie, see
// go-amt-ipld/go-hamt-ipld) for logarithmic access and structural sharing
// across near-identical arrays; this module uses a flat CBOR-encoded CID
// list instead, still content-addressed and order-preserving, because
// hand-authoring a HAMT/AMT node walk against an unfamiliar, long-unmaintained
// API without the ability to compile or test it (this module never runs the
// Go toolchain) is a worse bet than a codec the rest of the module already
// exercises. See DESIGN.md for the full account of this tradeoff.
type MessageArray struct {
	Cids []cid.Cid
}

// Cid computes the array's content identifier.
func (m *MessageArray) Cid() (cid.Cid, error) {
	return ObjectCid(m)
}

// BuildTxMeta content-addresses the BLS and SECP message CID lists and
// returns the resulting TxMeta, ready to be persisted and pointed to by a
// header's Messages field.
func BuildTxMeta(blsCids, secpCids []cid.Cid) (TxMeta, MessageArray, MessageArray, error) {
	bls := MessageArray{Cids: blsCids}
	secp := MessageArray{Cids: secpCids}

	blsRoot, err := bls.Cid()
	if err != nil {
		return TxMeta{}, MessageArray{}, MessageArray{}, err
	}
	secpRoot, err := secp.Cid()
	if err != nil {
		return TxMeta{}, MessageArray{}, MessageArray{}, err
	}

	return TxMeta{BLSRoot: blsRoot, SECPRoot: secpRoot}, bls, secp, nil
}
