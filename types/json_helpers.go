package types

import (
	"encoding/json"

	cid "github.com/ipfs/go-cid"
)

// cidSliceToJSON renders a CID slice as a plain JSON array of CID
// strings, TipSetKey's JSON form, so it does not depend on whatever
// json.Marshaler behavior a given release of go-cid happens to expose.
// The durable cells do not use it: HEAD and GENESIS are CBOR-encoded
// records of CID strings (see chain/store.go).
func cidSliceToJSON(cids []cid.Cid) ([]byte, error) {
	strs := make([]string, len(cids))
	for i, c := range cids {
		strs[i] = c.String()
	}
	return json.Marshal(strs)
}

func cidSliceFromJSON(data []byte) ([]cid.Cid, error) {
	var strs []string
	if err := json.Unmarshal(data, &strs); err != nil {
		return nil, err
	}
	out := make([]cid.Cid, len(strs))
	for i, s := range strs {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
