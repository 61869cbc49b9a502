// Package sync implements the reverse header-sync state machine: given a
// peer's claimed chain head, walk backward to a point the local chain
// store already trusts, validate forward, and update the head if the
// result is heavier. Generalizes the teacher's chain/syncer.go (the same
// HandleNewTipSet/syncOne/widen shape) onto this module's bounded caches
// and durable chain store.
package sync

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/types"
)

// badBlockCacheSize bounds the quarantine set, replacing the teacher's
// unbounded badTipSetCache map with an LRU so a sustained attack offering
// many distinct invalid chains cannot grow this structure without bound.
const badBlockCacheSize = 1 << 15

// badBlockCache remembers block CIDs that have failed validation, so the
// syncer can reject any chain containing them without re-validating.
type badBlockCache struct {
	lru *lru.Cache[cid.Cid, string]
}

func newBadBlockCache() *badBlockCache {
	c, err := lru.New[cid.Cid, string](badBlockCacheSize)
	if err != nil {
		panic(err)
	}
	return &badBlockCache{lru: c}
}

// add quarantines c with reason.
func (b *badBlockCache) add(c cid.Cid, reason string) {
	b.lru.Add(c, reason)
}

// addChain quarantines every block in every tipset of chain, using reason
// for all of them; mirrors the teacher's badTipSets.AddChain call when a
// chain fails syncOne partway through.
func (b *badBlockCache) addChain(chain []types.TipSet, reason string) error {
	for _, ts := range chain {
		for _, h := range ts.Blocks() {
			c, err := h.Cid()
			if err != nil {
				return errors.Wrap(err, "computing header cid while quarantining chain")
			}
			b.add(c, reason)
		}
	}
	return nil
}

// get reports whether c is quarantined, and if so why.
func (b *badBlockCache) get(c cid.Cid) (string, bool) {
	return b.lru.Get(c)
}

// chainHasBadBlock reports whether any block in chain is currently
// quarantined, and if so, the index within chain of the tipset it was
// found in, so the caller can poison whatever in chain sits between the
// bad block and the chain's head.
func (b *badBlockCache) chainHasBadBlock(chain []types.TipSet) (c cid.Cid, reason string, index int, bad bool) {
	for i, ts := range chain {
		for _, h := range ts.Blocks() {
			hc, err := h.Cid()
			if err != nil {
				continue
			}
			if r, ok := b.get(hc); ok {
				return hc, r, i, true
			}
		}
	}
	return cid.Undef, "", -1, false
}
