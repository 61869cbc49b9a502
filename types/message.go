package types

import (
	cid "github.com/ipfs/go-cid"
)

// UnsignedMessage is the BLS-path message body: every field the spec
// requires (§3), shaped for go-ipld-cbor's reflection codec.
type UnsignedMessage struct {
	From       []byte
	To         []byte
	Sequence   uint64
	Value      string
	GasFeeCap  string
	GasPremium string
	GasLimit   int64
	Method     uint64
	Params     []byte
}

// Cid computes the message's content identifier.
func (m *UnsignedMessage) Cid() (cid.Cid, error) {
	return ObjectCid(m)
}

// FromAddress wraps From as an Address.
func (m *UnsignedMessage) FromAddress() Address {
	return NewAddress(m.From)
}

// RequiredFunds is the maximum balance this message can debit: value plus
// the worst-case gas cost (fee cap * limit). Nothing in this module calls
// it: the syncer makes no nonce or balance check.
func (m *UnsignedMessage) RequiredFunds() (BigInt, error) {
	value, err := ParseBigInt(m.Value)
	if err != nil {
		return BigInt{}, err
	}
	feeCap, err := ParseBigInt(m.GasFeeCap)
	if err != nil {
		return BigInt{}, err
	}
	cost := new(BigInt)
	*cost = NewBigInt(m.GasLimit)
	cost.Int.Mul(cost.Int, feeCap.Int)
	cost.Int.Add(cost.Int, value.Int)
	return *cost, nil
}

// SignedMessage is the SECP-path message: an UnsignedMessage plus a
// signature over the message CID bytes.
type SignedMessage struct {
	Message   UnsignedMessage
	Signature []byte
}

// Cid computes the signed message's content identifier (distinct from its
// inner UnsignedMessage's CID — the two live in separate message arrays).
func (m *SignedMessage) Cid() (cid.Cid, error) {
	return ObjectCid(m)
}
