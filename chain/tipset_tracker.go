package chain

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/types"
)

// tipsetTracker buckets every block header the syncer has validated by
// (height, parent key), so that a new block arriving for an
// already-partially-seen tipset can be folded into the widest tipset seen
// so far at that height rather than only ever syncing singleton blocks.
// This generalizes the teacher's Syncer.widen, which performed the same
// lookup directly against the chain store's persisted tipset index; here
// it is a standalone structure the store composes in; tracked headers are
// never removed from it.
type tipsetTracker struct {
	mu      sync.Mutex
	buckets map[string][]*types.BlockHeader
}

func newTipsetTracker() *tipsetTracker {
	return &tipsetTracker{buckets: make(map[string][]*types.BlockHeader)}
}

func bucketKey(height uint64, parents types.TipSetKey) string {
	return fmt.Sprintf("%s/%d", parents.String(), height)
}

// add records header in its (height, parents) bucket, ignoring a header
// whose CID is already present.
func (t *tipsetTracker) add(header *types.BlockHeader) error {
	c, err := header.Cid()
	if err != nil {
		return errors.Wrap(err, "computing header cid")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := bucketKey(header.Height, header.ParentsKey())
	bucket := t.buckets[key]
	for _, existing := range bucket {
		ec, err := existing.Cid()
		if err != nil {
			return errors.Wrap(err, "computing existing header cid")
		}
		if ec.Equals(c) {
			return nil
		}
	}
	t.buckets[key] = append(bucket, header)
	return nil
}

// expand widens ts into the union of ts and every beacon-compatible
// tracked header sharing its height and parents, de-duplicated by block
// CID. It returns an undefined tipset (ok=false) if no wider tipset is
// available, matching the teacher's widen's "nothing better found" return
// of an undefined tipset.
func (t *tipsetTracker) expand(ts types.TipSet) (wider types.TipSet, ok bool, err error) {
	t.mu.Lock()
	bucket := append([]*types.BlockHeader(nil), t.buckets[bucketKey(ts.Height(), ts.Parents())]...)
	t.mu.Unlock()

	if len(bucket) == 0 {
		return types.UndefTipSet, false, nil
	}

	seen := make(map[string]struct{}, ts.Len())
	merged := make([]*types.BlockHeader, 0, ts.Len()+len(bucket))
	for _, h := range ts.Blocks() {
		c, err := h.Cid()
		if err != nil {
			return types.UndefTipSet, false, err
		}
		seen[c.String()] = struct{}{}
		merged = append(merged, h)
	}
	reference := ts.At(0)
	for _, h := range bucket {
		if !beaconCompatible(reference, h) {
			continue
		}
		c, err := h.Cid()
		if err != nil {
			return types.UndefTipSet, false, err
		}
		if _, dup := seen[c.String()]; dup {
			continue
		}
		seen[c.String()] = struct{}{}
		merged = append(merged, h)
	}

	if len(merged) == ts.Len() {
		return types.UndefTipSet, false, nil
	}

	wts, err := types.NewTipSet(merged...)
	if err != nil {
		return types.UndefTipSet, false, err
	}
	if wts.Equals(ts) {
		return types.UndefTipSet, false, nil
	}
	return wts, true, nil
}

// beaconCompatible reports whether candidate can legally be folded into
// the same tipset as reference: they must share a ticket epoch (height)
// and the same beacon round, the consensus-level compatibility check
// expand applies on top of the (height, parents) bucketing before
// merging two headers into one tipset. Two headers can otherwise land in
// the same bucket (same height, same parents) while drawing on different
// beacon rounds, which would make them distinct tipsets despite the
// coincidental bucket match.
func beaconCompatible(reference, candidate *types.BlockHeader) bool {
	if reference.Height != candidate.Height {
		return false
	}
	return lastBeaconRound(reference) == lastBeaconRound(candidate)
}

func lastBeaconRound(h *types.BlockHeader) uint64 {
	if len(h.BeaconEntries) == 0 {
		return 0
	}
	return h.BeaconEntries[len(h.BeaconEntries)-1].Round
}

// compatible reports whether candidate could legally extend onto base:
// candidate's parent key must equal base's key, and it must sit exactly
// one epoch higher unless it contains a null-round gap, which callers
// resolve via the chain index rather than here. This mirrors Forest's
// tipset_tracker compatibility check used before accepting a block into a
// bucket.
func compatible(base, candidate types.TipSet) bool {
	return bytes.Equal([]byte(candidate.Parents().String()), []byte(base.Key().String())) &&
		candidate.Height() > base.Height()
}
