package types

// FullBlock pairs a header with its materialized BLS and SECP message
// lists.
type FullBlock struct {
	Header       *BlockHeader
	BLSMessages  []*UnsignedMessage
	SECPMessages []*SignedMessage
}

// FullTipSet is a tipset plus, per header, its materialized message lists
// (spec §3).
type FullTipSet struct {
	TipSet TipSet
	Blocks []*FullBlock
}

// Defined reports whether fts wraps a real tipset.
func (fts FullTipSet) Defined() bool {
	return fts.TipSet.Defined()
}

// Key returns the underlying tipset's key.
func (fts FullTipSet) Key() TipSetKey {
	return fts.TipSet.Key()
}
