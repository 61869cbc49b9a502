package types

import (
	cid "github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
)

// DefaultHashFunction is the multihash function used for every
// content-addressed object this module produces: blocks, tipset keys,
// TxMeta records and message arrays alike. Matches the hash family used
// across the Filecoin object graph; kept as a single constant so switching
// it is a one line change.
const DefaultHashFunction = mh.BLAKE2B_MIN + 31

// cidPrefix is the canonical CIDv1/DagCBOR prefix for every object this
// module content-addresses.
var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   DefaultHashFunction,
	MhLength: -1,
}

// ObjectCid computes the canonical CID of obj by CBOR-encoding it the same
// way store.Store.PutObj persists it. Used wherever a value needs to know its
// own CID before (or without) a round trip through a blockstore, e.g. to
// compute a tipset key from a set of already-built headers.
func ObjectCid(obj interface{}) (cid.Cid, error) {
	raw, err := cbor.DumpObject(obj)
	if err != nil {
		return cid.Undef, err
	}
	return cidPrefix.Sum(raw)
}
