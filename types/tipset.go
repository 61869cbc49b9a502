package types

import (
	"bytes"
	"sort"

	cid "github.com/ipfs/go-cid"
	"github.com/pkg/errors"
)

// TipSet is an ordered collection of one or more block headers sharing the
// same epoch and parent tipset key (spec §3). Blocks are ordered
// lexicographically by ticket; the tipset's identity is its key, the
// normalized set of block CIDs, independent of this ordering.
type TipSet struct {
	key    TipSetKey
	blocks []*BlockHeader
}

// UndefTipSet is the zero value, representing "no tipset" in places the
// spec calls for an optional tipset (e.g. a genesis block's missing
// grandparent).
var UndefTipSet = TipSet{}

// NewTipSet validates and constructs a TipSet from headers. All headers
// must share epoch and parents, and no header may repeat; violations
// return ErrInvalidTipSet per the error taxonomy.
func NewTipSet(headers ...*BlockHeader) (TipSet, error) {
	if len(headers) == 0 {
		return UndefTipSet, errors.Wrap(ErrInvalidTipSet, "no headers")
	}
	height := headers[0].Height
	parents := headers[0].ParentsKey()
	seen := make(map[string]struct{}, len(headers))
	ordered := make([]*BlockHeader, len(headers))
	copy(ordered, headers)

	for _, h := range ordered {
		if h.Height != height {
			return UndefTipSet, errors.Wrapf(ErrInvalidTipSet, "mismatched epoch %d != %d", h.Height, height)
		}
		if !h.ParentsKey().Equals(parents) {
			return UndefTipSet, errors.Wrap(ErrInvalidTipSet, "mismatched parents")
		}
		c, err := h.Cid()
		if err != nil {
			return UndefTipSet, errors.Wrap(err, "computing header cid")
		}
		k := c.String()
		if _, dup := seen[k]; dup {
			return UndefTipSet, errors.Wrapf(ErrInvalidTipSet, "duplicate block %s", k)
		}
		seen[k] = struct{}{}
	}

	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].Ticket, ordered[j].Ticket) < 0
	})

	cids := make([]cid.Cid, 0, len(ordered))
	for _, h := range ordered {
		c, err := h.Cid()
		if err != nil {
			return UndefTipSet, err
		}
		cids = append(cids, c)
	}

	key := NewTipSetKey(cids...)

	return TipSet{key: key, blocks: ordered}, nil
}

// Defined reports whether ts is a real, non-zero tipset.
func (ts TipSet) Defined() bool {
	return len(ts.blocks) > 0
}

// Key returns the tipset's canonical key.
func (ts TipSet) Key() TipSetKey {
	return ts.key
}

// Len returns the number of blocks in the tipset.
func (ts TipSet) Len() int {
	return len(ts.blocks)
}

// At returns the i'th block in ticket order.
func (ts TipSet) At(i int) *BlockHeader {
	return ts.blocks[i]
}

// Blocks returns the tipset's headers in ticket order.
func (ts TipSet) Blocks() []*BlockHeader {
	out := make([]*BlockHeader, len(ts.blocks))
	copy(out, ts.blocks)
	return out
}

// Height returns the tipset's shared epoch. Panics on an undefined tipset,
// matching the precondition every caller in this module already enforces
// before asking for height.
func (ts TipSet) Height() uint64 {
	return ts.blocks[0].Height
}

// Parents returns the tipset's shared parent key.
func (ts TipSet) Parents() TipSetKey {
	return ts.blocks[0].ParentsKey()
}

// ParentWeight returns the shared parent weight recorded by this tipset's
// blocks.
func (ts TipSet) ParentWeight() (BigInt, error) {
	return ts.blocks[0].Weight()
}

// Equals compares two tipsets by key.
func (ts TipSet) Equals(o TipSet) bool {
	return ts.key.Equals(o.key)
}

// String renders the tipset's key.
func (ts TipSet) String() string {
	return ts.key.String()
}
