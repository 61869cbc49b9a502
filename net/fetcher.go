// Package net defines the chain syncer's networked-block-fetching
// collaborator and an implementation of it that resolves tipsets from the
// local chain store, mirroring
// the teacher's net.Fetcher interface consumed by chain/syncer.go's
// HandleNewTipSet.
package net

import (
	"context"

	"github.com/ipfs/go-blockservice"
	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/types"
)

// PeerID identifies the remote peer a ChainInfo/fetch request concerns.
// Kept as a bare string rather than pulling in libp2p's peer.ID, since
// this module never actually dials a libp2p host (see DESIGN.md).
type PeerID string

// ChainInfo describes a peer's claimed chain head, the payload the
// syncer's InformNewHead entry point receives.
type ChainInfo struct {
	Peer   PeerID
	Head   types.TipSetKey
	Height uint64
}

// Fetcher retrieves the chain of tipsets between the syncer's current
// frontier and a peer-claimed head. done is called with each tipset as it
// is discovered, in traversal (head-to-tail) order; it returns true once
// the fetch can stop (typically because the store already has the
// tipset's parent), mirroring the teacher's FetchTipSets callback.
type Fetcher interface {
	FetchTipSets(ctx context.Context, head types.TipSetKey, peer PeerID, done func(types.TipSet) (bool, error)) ([]types.TipSet, error)
}

// headerLoader is the subset of the chain store a Fetcher needs to turn
// a TipSetKey into materialized block headers.
type headerLoader interface {
	TipsetFromKeys(key types.TipSetKey) (types.TipSet, error)
}

// BlockServiceFetcher holds a go-blockservice handle but does not read
// blocks through it: every tipset is resolved through loader (typically
// the chain store), so only tipsets already present locally can be
// fetched, and nothing is requested from peers.
type BlockServiceFetcher struct {
	bsv    blockservice.BlockService
	loader headerLoader
}

// NewBlockServiceFetcher builds a Fetcher backed by bsv, resolving
// tipsets through loader (typically the chain store itself).
func NewBlockServiceFetcher(bsv blockservice.BlockService, loader headerLoader) *BlockServiceFetcher {
	return &BlockServiceFetcher{bsv: bsv, loader: loader}
}

// FetchTipSets walks backward from head until done reports true or a
// block cannot be resolved, returning the traversed tipsets in the order
// encountered (head first).
func (f *BlockServiceFetcher) FetchTipSets(ctx context.Context, head types.TipSetKey, peer PeerID, done func(types.TipSet) (bool, error)) ([]types.TipSet, error) {
	var out []types.TipSet
	key := head
	for {
		ts, err := f.loader.TipsetFromKeys(key)
		if err != nil {
			return nil, errors.Wrapf(types.ErrPeerTimeout, "fetching tipset %s from peer %s: %s", key, peer, err)
		}
		out = append(out, ts)

		stop, err := done(ts)
		if err != nil {
			return nil, err
		}
		if stop || ts.Parents().Empty() {
			return out, nil
		}
		key = ts.Parents()
	}
}
