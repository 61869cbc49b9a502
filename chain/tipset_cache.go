package chain

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/filecoin-project/ember-chain/types"
)

// tipsetCacheSize bounds the number of fully-materialized TipSets kept in
// memory. 8192 tipsets covers several days of chain history at a 30s
// epoch, which is the range most reads (recent ancestor walks, RPC
// lookups) fall into; anything older reconstructs from the block store.
const tipsetCacheSize = 8192

// tipsetCache is an LRU of TipSetKey.String() -> types.TipSet, sparing
// repeat callers (the chain index, the syncer's ancestor walk) the cost of
// re-reading and re-validating the same headers from the block store.
type tipsetCache struct {
	lru *lru.Cache[string, types.TipSet]
}

func newTipsetCache() *tipsetCache {
	c, err := lru.New[string, types.TipSet](tipsetCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// tipsetCacheSize never is.
		panic(err)
	}
	return &tipsetCache{lru: c}
}

func (c *tipsetCache) get(key types.TipSetKey) (types.TipSet, bool) {
	return c.lru.Get(key.String())
}

func (c *tipsetCache) add(ts types.TipSet) {
	c.lru.Add(ts.Key().String(), ts)
}

func (c *tipsetCache) remove(key types.TipSetKey) {
	c.lru.Remove(key.String())
}
