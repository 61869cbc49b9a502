package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	bstore "github.com/filecoin-project/ember-chain/store"
	"github.com/filecoin-project/ember-chain/types"
)

func newTestStore(t *testing.T) *bstore.Store {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	return bstore.NewStore(ds)
}

// buildChain persists a genesis header and n descendants, each carrying a
// non-empty TxMeta, and returns the chain's headers oldest-first along
// with the number of distinct objects written (every object reachable
// from the tip is put exactly once per call, but content-addressing may
// still collapse e.g. two headers' identical empty message arrays onto
// the same CID, so this is tracked rather than hand-computed).
func buildChain(t *testing.T, bs *bstore.Store, n int) ([]*types.BlockHeader, int) {
	t.Helper()
	ctx := context.Background()

	seen := make(map[cid.Cid]struct{})
	put := func(obj interface{}) cid.Cid {
		c, err := bs.PutObj(ctx, obj)
		require.NoError(t, err)
		seen[c] = struct{}{}
		return c
	}

	headers := make([]*types.BlockHeader, 0, n+1)
	var parent *types.BlockHeader

	for i := 0; i <= n; i++ {
		var bls []cid.Cid
		if i > 0 {
			msg := &types.UnsignedMessage{From: []byte{1}, To: []byte{2}, Sequence: uint64(i), Value: "0", GasFeeCap: "0", GasPremium: "0"}
			bls = append(bls, put(msg))
		}

		meta, blsArr, secpArr, err := types.BuildTxMeta(bls, nil)
		require.NoError(t, err)
		put(&blsArr)
		put(&secpArr)
		metaCid := put(&meta)

		h := &types.BlockHeader{
			Height:       uint64(i),
			Miner:        []byte{byte(i)},
			ParentWeight: "0",
			Ticket:       []byte{byte(i)},
			Messages:     metaCid,
		}
		if parent != nil {
			pc, err := parent.Cid()
			require.NoError(t, err)
			h.Parents = []cid.Cid{pc}
		}
		put(h)

		headers = append(headers, h)
		parent = h
	}
	return headers, len(seen)
}

func TestExportWritesEveryReachableObject(t *testing.T) {
	bs := newTestStore(t)
	headers, distinctObjects := buildChain(t, bs, 3)
	tip := headers[len(headers)-1]
	tipCid, err := tip.Cid()
	require.NoError(t, err)

	var buf bytes.Buffer
	count, err := Export(context.Background(), []cid.Cid{tipCid}, bs, &buf, Options{})
	require.NoError(t, err)

	require.Equal(t, uint64(distinctObjects), count)
	require.True(t, buf.Len() > 0)
}

func TestExportFailsOnMissingObject(t *testing.T) {
	bs := newTestStore(t)
	headers, _ := buildChain(t, bs, 1)
	tip := headers[len(headers)-1]
	tipCid, err := tip.Cid()
	require.NoError(t, err)

	// Remove the tip's message meta so the walk finds a dangling link.
	require.NoError(t, bs.Blockstore().DeleteBlock(tip.Messages))

	var buf bytes.Buffer
	_, err = Export(context.Background(), []cid.Cid{tipCid}, bs, &buf, Options{})
	require.Error(t, err)
	var missing *types.MissingObjectError
	require.ErrorAs(t, err, &missing)
}

func TestExportCompressedOutputDiffersFromPlain(t *testing.T) {
	bs := newTestStore(t)
	headers, _ := buildChain(t, bs, 2)
	tip := headers[len(headers)-1]
	tipCid, err := tip.Cid()
	require.NoError(t, err)

	var plain, compressed bytes.Buffer
	_, err = Export(context.Background(), []cid.Cid{tipCid}, bs, &plain, Options{})
	require.NoError(t, err)
	_, err = Export(context.Background(), []cid.Cid{tipCid}, bs, &compressed, Options{Compressed: true})
	require.NoError(t, err)

	require.NotEqual(t, plain.Bytes(), compressed.Bytes())
}

type recordingMeta struct {
	objectCount, byteCount uint64
}

func (m *recordingMeta) RecordExport(objectCount, byteCount uint64) error {
	m.objectCount = objectCount
	m.byteCount = byteCount
	return nil
}

// recordingSource wraps an ObjectSource and remembers every CID it was
// asked to resolve, so a test can assert on exactly what the walk visited
// without hand-parsing the archive format.
type recordingSource struct {
	src     ObjectSource
	visited map[cid.Cid]struct{}
}

func (r *recordingSource) GetRaw(ctx context.Context, c cid.Cid) ([]byte, error) {
	r.visited[c] = struct{}{}
	return r.src.GetRaw(ctx, c)
}

func TestExportRecentRootsBoundsParentWalk(t *testing.T) {
	bs := newTestStore(t)
	headers, _ := buildChain(t, bs, 5)
	tip := headers[len(headers)-1]
	tipCid, err := tip.Cid()
	require.NoError(t, err)
	genesisCid, err := headers[0].Cid()
	require.NoError(t, err)

	rec := &recordingSource{src: bs, visited: make(map[cid.Cid]struct{})}

	var buf bytes.Buffer
	_, err = Export(context.Background(), []cid.Cid{tipCid}, rec, &buf, Options{RecentRoots: 2})
	require.NoError(t, err)

	_, sawGenesis := rec.visited[genesisCid]
	require.False(t, sawGenesis, "export bounded to 2 epochs must not walk back to genesis")

	// The tip's own payload (its message root) is still visited in full
	// regardless of the bound, since that's the tip's own epoch, not a
	// cross-epoch parent link.
	_, sawTipMessages := rec.visited[tip.Messages]
	require.True(t, sawTipMessages)
}

func TestExportRecordsMeta(t *testing.T) {
	bs := newTestStore(t)
	headers, _ := buildChain(t, bs, 1)
	tip := headers[len(headers)-1]
	tipCid, err := tip.Cid()
	require.NoError(t, err)

	meta := &recordingMeta{}
	var buf bytes.Buffer
	count, err := Export(context.Background(), []cid.Cid{tipCid}, bs, &buf, Options{Meta: meta})
	require.NoError(t, err)
	require.Equal(t, count, meta.objectCount)
	require.True(t, meta.byteCount > 0)
}
