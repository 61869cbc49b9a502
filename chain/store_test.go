package chain

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/ember-chain/clock"
	"github.com/filecoin-project/ember-chain/journal"
	bstore "github.com/filecoin-project/ember-chain/store"
	"github.com/filecoin-project/ember-chain/types"
)

// heightWeigher assigns every tipset a weight equal to its height, which
// is enough to exercise heaviest-head selection without any real
// consensus logic.
type heightWeigher struct{}

func (heightWeigher) Weight(ctx context.Context, ts types.TipSet) (types.BigInt, error) {
	return types.NewBigInt(int64(ts.Height())), nil
}

func newTestBlockstore() *bstore.Store {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	return bstore.NewStore(ds)
}

func buildHeader(t *testing.T, bs *bstore.Store, height uint64, parent types.TipSet, miner byte) *types.BlockHeader {
	t.Helper()
	h := &types.BlockHeader{
		Height:       height,
		Miner:        []byte{miner},
		ParentWeight: "0",
		Ticket:       []byte{miner, byte(height)},
	}
	if parent.Defined() {
		h.Parents = parent.Key().ToSlice()
	}
	_, err := bs.PutObj(context.Background(), h)
	require.NoError(t, err)
	return h
}

func TestOpenInitializesAtGenesis(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	assert := require.New(t)
	assert.True(s.GetHead().Equals(genesis))
}

func TestUpdateHeaviestAdvancesHead(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	h1 := buildHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)
	require.NoError(t, s.PutTipset(context.Background(), ts1))

	applied, err := s.UpdateHeaviest(context.Background(), ts1)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, s.GetHead().Equals(ts1))

	got, err := s.TipsetByHeight(1, s.GetHead(), false)
	require.NoError(t, err)
	require.True(t, got.Equals(ts1))
}

func TestUpdateHeaviestRejectsLighterTipset(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	h1 := buildHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)
	applied, err := s.UpdateHeaviest(context.Background(), ts1)
	require.NoError(t, err)
	require.True(t, applied)

	// genesis is lighter than the current head (ts1); must be rejected.
	applied, err = s.UpdateHeaviest(context.Background(), genesis)
	require.NoError(t, err)
	require.False(t, applied)
	require.True(t, s.GetHead().Equals(ts1))
}

func TestMarkAndUnmarkBlockValidated(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	c, err := genHeader.Cid()
	require.NoError(t, err)

	require.False(t, s.IsBlockValidated(c))
	require.NoError(t, s.MarkBlockAsValidated(c))
	require.True(t, s.IsBlockValidated(c))
	require.NoError(t, s.UnmarkBlockAsValidated(c))
	require.False(t, s.IsBlockValidated(c))
}

func TestHeadPersistsAcrossReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	h1 := buildHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)
	require.NoError(t, s.PutTipset(context.Background(), ts1))
	applied, err := s.UpdateHeaviest(context.Background(), ts1)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, s.GetHead().Equals(ts1))

	reopened, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)
	require.True(t, reopened.GetHead().Equals(ts1))
}

func TestMarkBlockAsValidatedPersistsAcrossReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	c, err := genHeader.Cid()
	require.NoError(t, err)
	require.NoError(t, s.MarkBlockAsValidated(c))

	reopened, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)
	require.True(t, reopened.IsBlockValidated(c))
}

func TestMessagesForTipsetDedupsAcrossBlocks(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	ctx := context.Background()
	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	shared := &types.UnsignedMessage{From: []byte{9}, To: []byte{8}, Sequence: 1, Value: "0", GasFeeCap: "0", GasPremium: "0"}
	sharedCid, err := bs.PutObj(ctx, shared)
	require.NoError(t, err)

	// Two blocks at the same height/parents, each claiming the same BLS
	// message. MessagesForTipset must return it only once.
	buildBlockWithMessages := func(miner byte, blsCids []cid.Cid) *types.BlockHeader {
		meta, blsArr, secpArr, err := types.BuildTxMeta(blsCids, nil)
		require.NoError(t, err)
		_, err = bs.PutObj(ctx, &blsArr)
		require.NoError(t, err)
		_, err = bs.PutObj(ctx, &secpArr)
		require.NoError(t, err)
		metaCid, err := bs.PutObj(ctx, &meta)
		require.NoError(t, err)

		h := &types.BlockHeader{
			Height:       1,
			Miner:        []byte{miner},
			ParentWeight: "0",
			Ticket:       []byte{miner, 1},
			Parents:      genesis.Key().ToSlice(),
			Messages:     metaCid,
		}
		_, err = bs.PutObj(ctx, h)
		require.NoError(t, err)
		return h
	}

	h1 := buildBlockWithMessages(1, []cid.Cid{sharedCid})
	h2 := buildBlockWithMessages(2, []cid.Cid{sharedCid})
	ts, err := types.NewTipSet(h1, h2)
	require.NoError(t, err)
	require.NoError(t, s.PutTipset(ctx, ts))

	bls, secp, err := s.MessagesForTipset(ctx, ts)
	require.NoError(t, err)
	require.Len(t, bls, 1)
	require.Empty(t, secp)
	require.Equal(t, shared.Sequence, bls[0].Sequence)
}

func TestPublisherReceivesCurrentThenApply(t *testing.T) {
	dir, err := ioutil.TempDir("", "chain-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bs := newTestBlockstore()
	genHeader := buildHeader(t, bs, 0, types.UndefTipSet, 0)
	genesis, err := types.NewTipSet(genHeader)
	require.NoError(t, err)

	s, err := Open(dir, bs, genesis, heightWeigher{}, journal.NewNoopJournal(), clock.NewFake(time.Unix(0, 0)))
	require.NoError(t, err)

	sub := s.Publisher()
	first := <-sub
	require.Equal(t, HCCurrent, first.Type)
	require.True(t, first.Val.Equals(genesis))

	h1 := buildHeader(t, bs, 1, genesis, 1)
	ts1, err := types.NewTipSet(h1)
	require.NoError(t, err)
	require.NoError(t, s.PutTipset(context.Background(), ts1))
	_, err = s.UpdateHeaviest(context.Background(), ts1)
	require.NoError(t, err)

	second := <-sub
	require.Equal(t, HCApply, second.Type)
	require.True(t, second.Val.Equals(ts1))
}
