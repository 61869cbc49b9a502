package sync

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/ember-chain/chain"
	"github.com/filecoin-project/ember-chain/clock"
	"github.com/filecoin-project/ember-chain/journal"
	"github.com/filecoin-project/ember-chain/net"
	bstore "github.com/filecoin-project/ember-chain/store"
	"github.com/filecoin-project/ember-chain/types"
)

type heightWeigher struct{}

func (heightWeigher) Weight(ctx context.Context, ts types.TipSet) (types.BigInt, error) {
	return types.NewBigInt(int64(ts.Height())), nil
}

func newTestBlockstore() *bstore.Store {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	return bstore.NewStore(ds)
}

// buildEmptyHeader writes a header with an empty (but valid) TxMeta to bs
// and returns it.
func buildEmptyHeader(t *testing.T, bs *bstore.Store, height uint64, parent types.TipSet, miner byte) *types.BlockHeader {
	t.Helper()
	ctx := context.Background()

	meta, blsArr, secpArr, err := types.BuildTxMeta(nil, nil)
	require.NoError(t, err)
	_, err = bs.PutObj(ctx, &blsArr)
	require.NoError(t, err)
	_, err = bs.PutObj(ctx, &secpArr)
	require.NoError(t, err)
	metaCid, err := bs.PutObj(ctx, &meta)
	require.NoError(t, err)

	h := &types.BlockHeader{
		Height:       height,
		Miner:        []byte{miner},
		ParentWeight: "0",
		Ticket:       []byte{miner, byte(height)},
		Messages:     metaCid,
	}
	if parent.Defined() {
		h.Parents = parent.Key().ToSlice()
	}
	_, err = bs.PutObj(ctx, h)
	require.NoError(t, err)
	return h
}

func newTestStore(t *testing.T, bs *bstore.Store, genesis types.TipSet) *chain.Store {
	t.Helper()
	dir, err := ioutil.TempDir("", "sync-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := chain.Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)
	return s
}

func TestInformNewHeadAdvancesStore(t *testing.T) {
	bs := newTestBlockstore()
	genHeader := buildEmptyHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	store := newTestStore(t, bs, genesis)

	h1 := buildEmptyHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)

	fetcher := net.NewBlockServiceFetcher(bs.BlockService(), store)
	syncer := NewSyncer(store, store, DefaultValidator{}, fetcher, clock.NewFake(time.Unix(0, 0)))

	err = syncer.InformNewHead(context.Background(), &net.ChainInfo{
		Peer:   "peer-1",
		Head:   ts1.Key(),
		Height: ts1.Height(),
	}, true)
	require.NoError(t, err)

	require.True(t, store.GetHead().Equals(ts1))
	require.Equal(t, Follow, syncer.State())
}

func TestInformNewHeadCatchesUpOverMultipleGaps(t *testing.T) {
	bs := newTestBlockstore()
	genHeader := buildEmptyHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	store := newTestStore(t, bs, genesis)

	h1 := buildEmptyHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)
	require.NoError(t, store.PutTipset(context.Background(), ts1))
	applied, err := store.UpdateHeaviest(context.Background(), ts1)
	require.NoError(t, err)
	require.True(t, applied)

	// The peer's chain continues three more tipsets past the local head,
	// none of which the local store has seen yet.
	h2 := buildEmptyHeader(t, bs, 2, ts1, 1)
	ts2, err := types.NewTipSet(h2)
	require.NoError(t, err)
	h3 := buildEmptyHeader(t, bs, 3, ts2, 1)
	ts3, err := types.NewTipSet(h3)
	require.NoError(t, err)
	h4 := buildEmptyHeader(t, bs, 4, ts3, 1)
	ts4, err := types.NewTipSet(h4)
	require.NoError(t, err)

	fetcher := net.NewBlockServiceFetcher(bs.BlockService(), store)
	syncer := NewSyncer(store, store, DefaultValidator{}, fetcher, clock.NewFake(time.Unix(0, 0)))

	err = syncer.InformNewHead(context.Background(), &net.ChainInfo{
		Peer:   "peer-1",
		Head:   ts4.Key(),
		Height: ts4.Height(),
	}, true)
	require.NoError(t, err)

	require.True(t, store.GetHead().Equals(ts4))

	// Every intermediate tipset is now materializable from the store, not
	// just the endpoints.
	got, err := store.TipsetFromKeys(ts2.Key())
	require.NoError(t, err)
	require.True(t, got.Equals(ts2))
}

// TestInformNewHeadPoisonsDescendantsOfBadBlock mirrors the bad-block
// poisoning scenario directly: a CID already known bad (inserted with its
// own reason, as if an earlier validation failure had quarantined it)
// turns up partway down a peer's offered chain. The sync must fail with
// BadBlock for that CID, and every tipset between it and the peer's head
// must be quarantined too, with reason "chain contained <cid>".
func TestInformNewHeadPoisonsDescendantsOfBadBlock(t *testing.T) {
	bs := newTestBlockstore()
	genHeader := buildEmptyHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	store := newTestStore(t, bs, genesis)

	h1 := buildEmptyHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)
	require.NoError(t, store.PutTipset(context.Background(), ts1))
	applied, err := store.UpdateHeaviest(context.Background(), ts1)
	require.NoError(t, err)
	require.True(t, applied)

	bad := buildEmptyHeader(t, bs, 2, ts1, 1)
	tsBad, err := types.NewTipSet(bad)
	require.NoError(t, err)
	badCid, err := bad.Cid()
	require.NoError(t, err)

	h3 := buildEmptyHeader(t, bs, 3, tsBad, 1)
	ts3, err := types.NewTipSet(h3)
	require.NoError(t, err)
	h3Cid, err := h3.Cid()
	require.NoError(t, err)

	fetcher := net.NewBlockServiceFetcher(bs.BlockService(), store)
	syncer := NewSyncer(store, store, DefaultValidator{}, fetcher, clock.NewFake(time.Unix(0, 0)))
	syncer.badBlocks.add(badCid, "proof-invalid")

	err = syncer.InformNewHead(context.Background(), &net.ChainInfo{
		Peer:   "peer-1",
		Head:   ts3.Key(),
		Height: ts3.Height(),
	}, true)
	require.Error(t, err)
	var badBlockErr *types.BadBlockError
	require.ErrorAs(t, err, &badBlockErr)
	require.True(t, badBlockErr.Cid.Equals(badCid))
	require.Equal(t, "proof-invalid", badBlockErr.Reason)

	require.True(t, store.GetHead().Equals(ts1))

	reason, quarantined := syncer.badBlocks.get(h3Cid)
	require.True(t, quarantined)
	require.Equal(t, "chain contained "+badCid.String(), reason)

	// A second sync attempt against the same peer head must fail fast off
	// the quarantine cache rather than re-validating.
	err = syncer.InformNewHead(context.Background(), &net.ChainInfo{
		Peer:   "peer-1",
		Head:   ts3.Key(),
		Height: ts3.Height(),
	}, true)
	require.Error(t, err)
	require.ErrorAs(t, err, &badBlockErr)
}

func TestInformNewHeadRejectsChainTooLong(t *testing.T) {
	bs := newTestBlockstore()
	genHeader := buildEmptyHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	store := newTestStore(t, bs, genesis)

	far := buildEmptyHeader(t, bs, untrustedChainHeightLimit+10, types.UndefTipSet, 1)
	farTs, err := types.NewTipSet(far)
	require.NoError(t, err)

	fetcher := net.NewBlockServiceFetcher(bs.BlockService(), store)
	syncer := NewSyncer(store, store, DefaultValidator{}, fetcher, clock.NewFake(time.Unix(0, 0)))

	err = syncer.InformNewHead(context.Background(), &net.ChainInfo{
		Peer:   "peer-1",
		Head:   farTs.Key(),
		Height: farTs.Height(),
	}, false)
	require.ErrorIs(t, err, ErrNewChainTooLong)
}
