package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/ember-chain/types"
)

func newHeader(t *testing.T, height uint64, parents []*types.BlockHeader, miner, ticket byte) *types.BlockHeader {
	t.Helper()

	h := &types.BlockHeader{
		Height:       height,
		Miner:        []byte{miner},
		ParentWeight: "0",
		Ticket:       []byte{ticket},
	}
	if len(parents) > 0 {
		pts, err := types.NewTipSet(parents...)
		require.NoError(t, err)
		h.Parents = pts.Key().ToSlice()
	}
	return h
}

func TestTrackerExpandWidensTipset(t *testing.T) {
	gen := newHeader(t, 0, nil, 0, 0)

	parentSet, err := types.NewTipSet(gen)
	require.NoError(t, err)

	a := newHeader(t, 1, []*types.BlockHeader{gen}, 1, 1)
	b := newHeader(t, 1, []*types.BlockHeader{gen}, 2, 2)

	tracker := newTipsetTracker()
	require.NoError(t, tracker.add(a))
	require.NoError(t, tracker.add(b))

	single, err := types.NewTipSet(a)
	require.NoError(t, err)
	assert.True(t, single.Parents().Equals(parentSet.Key()))

	wider, ok, err := tracker.expand(single)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, wider.Len())
}

func TestTrackerExpandNoWiderCandidate(t *testing.T) {
	gen := newHeader(t, 0, nil, 0, 0)
	a := newHeader(t, 1, []*types.BlockHeader{gen}, 1, 1)

	tracker := newTipsetTracker()
	require.NoError(t, tracker.add(a))

	single, err := types.NewTipSet(a)
	require.NoError(t, err)

	_, ok, err := tracker.expand(single)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrackerAddIgnoresDuplicateHeader(t *testing.T) {
	gen := newHeader(t, 0, nil, 0, 0)
	a := newHeader(t, 1, []*types.BlockHeader{gen}, 1, 1)

	tracker := newTipsetTracker()
	require.NoError(t, tracker.add(a))
	require.NoError(t, tracker.add(a))

	key := bucketKey(a.Height, a.ParentsKey())
	assert.Equal(t, 1, len(tracker.buckets[key]))
}

func TestCompatibleChecksParentAndHeight(t *testing.T) {
	gen := newHeader(t, 0, nil, 0, 0)
	base, err := types.NewTipSet(gen)
	require.NoError(t, err)

	a := newHeader(t, 1, []*types.BlockHeader{gen}, 1, 1)
	candidate, err := types.NewTipSet(a)
	require.NoError(t, err)

	assert.True(t, compatible(base, candidate))
	assert.False(t, compatible(candidate, base))
}
