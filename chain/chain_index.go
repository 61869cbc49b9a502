package chain

import (
	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/types"
)

// checkpointInterval is how often (in tipsets walked back from the head)
// the index records a height->key checkpoint, bounding how far a
// height-indexed lookup ever has to walk parent links unassisted.
const checkpointInterval = 20

// tipsetLoader is the subset of the store the index needs to walk parent
// links; satisfied by *Store.
type tipsetLoader interface {
	tipsetByKey(key types.TipSetKey) (types.TipSet, error)
}

// chainIndex resolves height -> TipSetKey along one particular chain
// (the one ending at whatever tipset was current when the index's
// checkpoints were built). It does not attempt to serve heights on a
// chain it hasn't indexed; reindexTo rebuilds it against a new head
// after a reorg.
type chainIndex struct {
	loader tipsetLoader

	// checkpoints maps height -> key for every checkpointInterval'th
	// tipset back from the head the index was built against, plus the
	// head itself.
	checkpoints map[uint64]types.TipSetKey
	headHeight  uint64
}

func newChainIndex(loader tipsetLoader) *chainIndex {
	return &chainIndex{loader: loader, checkpoints: make(map[uint64]types.TipSetKey)}
}

// reindexTo rebuilds the index's checkpoints by walking back from head,
// recording a checkpoint every checkpointInterval tipsets.
func (ci *chainIndex) reindexTo(head types.TipSet) error {
	checkpoints := make(map[uint64]types.TipSetKey)
	cur := head
	steps := 0
	for {
		if steps%checkpointInterval == 0 {
			checkpoints[cur.Height()] = cur.Key()
		}
		if cur.Parents().Empty() {
			break
		}
		parent, err := ci.loader.tipsetByKey(cur.Parents())
		if err != nil {
			return errors.Wrapf(err, "walking chain index back from %s", cur.Key())
		}
		cur = parent
		steps++
	}
	checkpoints[cur.Height()] = cur.Key()

	ci.checkpoints = checkpoints
	ci.headHeight = head.Height()
	return nil
}

// GetTipsetByHeight returns the tipset at height, walking ancestors of
// start. If start sits on the chain the index was last built against
// (start.Height() == the indexed head's height), the walk begins from the
// nearest checkpoint at or above height instead of start itself, skipping
// however many tipsets separate them; otherwise it falls back to the same
// linear walk GetTipsetByHeightWithoutCache performs, since the index's
// checkpoints are only valid shortcuts along the chain they were built
// from.
//
// If height falls on a null round (no block was produced at that exact
// height), the tipset immediately below it is returned, matching the
// spec's null-round lookup policy, unless noPrev is true, in which case
// the tipset immediately ABOVE the gap (the child that skipped over the
// null round) is returned instead — never an undefined tipset.
func (ci *chainIndex) GetTipsetByHeight(height uint64, start types.TipSet, noPrev bool) (types.TipSet, error) {
	if height > start.Height() {
		return types.UndefTipSet, errors.Wrapf(types.ErrInvalidRequest, "height %d is above start tipset's epoch %d", height, start.Height())
	}
	if height == start.Height() {
		return start, nil
	}
	if start.Height() != ci.headHeight {
		return ci.GetTipsetByHeightWithoutCache(height, start, noPrev)
	}

	// Find the nearest checkpoint at or above height.
	var nearest types.TipSetKey
	nearestHeight := uint64(0)
	found := false
	for h, key := range ci.checkpoints {
		if h >= height && (!found || h < nearestHeight) {
			nearest = key
			nearestHeight = h
			found = true
		}
	}
	if !found {
		return types.UndefTipSet, errors.Errorf("no checkpoint covers height %d", height)
	}

	cur, err := ci.loader.tipsetByKey(nearest)
	if err != nil {
		return types.UndefTipSet, err
	}
	return ci.walkDownTo(cur, height, noPrev)
}

// GetTipsetByHeightWithoutCache is the slow path: a plain linear walk of
// parent links from start down to height, ignoring the index's
// checkpoints entirely. Used whenever start isn't known to lie on the
// indexed chain, and available directly for callers that want to bypass
// the cache (e.g. to validate it).
func (ci *chainIndex) GetTipsetByHeightWithoutCache(height uint64, start types.TipSet, noPrev bool) (types.TipSet, error) {
	if height > start.Height() {
		return types.UndefTipSet, errors.Wrapf(types.ErrInvalidRequest, "height %d is above start tipset's epoch %d", height, start.Height())
	}
	if height == start.Height() {
		return start, nil
	}
	return ci.walkDownTo(start, height, noPrev)
}

// walkDownTo walks parent links from cur down to height (cur.Height() >=
// height on entry), resolving null-round gaps per noPrev.
func (ci *chainIndex) walkDownTo(cur types.TipSet, height uint64, noPrev bool) (types.TipSet, error) {
	// child tracks the tipset one step above cur in the walk, i.e. the
	// tipset that referenced cur as its parent; it is the "other side" of
	// a null-round gap once the walk overshoots height.
	var child types.TipSet
	for cur.Height() > height {
		if cur.Parents().Empty() {
			break
		}
		parent, err := ci.loader.tipsetByKey(cur.Parents())
		if err != nil {
			return types.UndefTipSet, errors.Wrapf(err, "walking down to height %d", height)
		}
		child = cur
		cur = parent
	}

	if cur.Height() == height {
		return cur, nil
	}
	// Null round: cur.Height() < height.
	if noPrev {
		if !child.Defined() {
			return types.UndefTipSet, errors.Errorf("no tipset above null round at height %d", height)
		}
		return child, nil
	}
	return cur, nil
}
