package types

import (
	"bytes"
	"sort"
	"strings"

	cid "github.com/ipfs/go-cid"
)

// TipSetKey is the canonical ordered list of a tipset's block CIDs. Two
// tipset keys are equal iff they identify byte-identical sets of CIDs;
// construction always normalizes to a sorted, deduplicated order so that
// the key uniquely determines the tipset regardless of the order headers
// were supplied in (spec §3: "the tipset key uniquely determines the
// tipset").
type TipSetKey struct {
	cids []cid.Cid
}

// NewTipSetKey normalizes cids into a canonical TipSetKey: sorted by raw
// bytes and deduplicated.
func NewTipSetKey(cids ...cid.Cid) TipSetKey {
	cp := make([]cid.Cid, len(cids))
	copy(cp, cids)
	sort.Slice(cp, func(i, j int) bool {
		return bytes.Compare(cp[i].Bytes(), cp[j].Bytes()) < 0
	})
	out := cp[:0]
	var prev *cid.Cid
	for i := range cp {
		if prev != nil && prev.Equals(cp[i]) {
			continue
		}
		out = append(out, cp[i])
		c := cp[i]
		prev = &c
	}
	return TipSetKey{cids: out}
}

// Empty reports whether the key carries no CIDs (the parent key of
// genesis).
func (k TipSetKey) Empty() bool {
	return len(k.cids) == 0
}

// Len returns the number of distinct block CIDs in the key.
func (k TipSetKey) Len() int {
	return len(k.cids)
}

// ToSlice returns a copy of the key's CIDs in canonical order.
func (k TipSetKey) ToSlice() []cid.Cid {
	out := make([]cid.Cid, len(k.cids))
	copy(out, k.cids)
	return out
}

// Has reports whether c is a member of the key.
func (k TipSetKey) Has(c cid.Cid) bool {
	for _, x := range k.cids {
		if x.Equals(c) {
			return true
		}
	}
	return false
}

// Equals compares two tipset keys by their normalized CID sets.
func (k TipSetKey) Equals(o TipSetKey) bool {
	if len(k.cids) != len(o.cids) {
		return false
	}
	for i := range k.cids {
		if !k.cids[i].Equals(o.cids[i]) {
			return false
		}
	}
	return true
}

// String renders a stable, comparable string form used as a map/cache key
// throughout the chain store, tipset cache and chain index.
func (k TipSetKey) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range k.cids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c.String())
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON renders the key as a JSON array of CID strings.
func (k TipSetKey) MarshalJSON() ([]byte, error) {
	return cidSliceToJSON(k.cids)
}

// UnmarshalJSON parses the CID list form written by MarshalJSON.
func (k *TipSetKey) UnmarshalJSON(data []byte) error {
	cids, err := cidSliceFromJSON(data)
	if err != nil {
		return err
	}
	*k = NewTipSetKey(cids...)
	return nil
}
