// Package chain implements the content-addressed chain store: the
// durable record of which tipset is the current head, which blocks have
// been validated, and how to resolve a height to a tipset along the
// current chain. It generalizes the teacher's chain.Store (bsPriv, ds,
// genesis, head, headEvents, tipIndex) onto this module's durable-cell
// (package cell) and bounded-cache primitives.
package chain

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/filecoin-project/ember-chain/cell"
	"github.com/filecoin-project/ember-chain/clock"
	"github.com/filecoin-project/ember-chain/journal"
	"github.com/filecoin-project/ember-chain/metrics/tracing"
	"github.com/filecoin-project/ember-chain/store"
	"github.com/filecoin-project/ember-chain/types"
)

var log = logging.Logger("chain.store")

// beaconLookbackLimit bounds how many ancestors LatestBeaconEntry walks
// before giving up, matching Forest's 20-ancestor beacon scan.
const beaconLookbackLimit = 20

// ignoreDrandVar is the environment override causing LatestBeaconEntry to
// short-circuit to the fixed sentinel entry, for beacon-less test
// networks. Named after Forest's IGNORE_DRAND_VAR.
const ignoreDrandVar = "IGNORE_DRAND"

// Weigher computes a tipset's chain weight. Kept as a pluggable interface
// rather than embedded consensus logic, matching the teacher's
// syncChainSelector interface in chain/syncer.go.
type Weigher interface {
	Weight(ctx context.Context, ts types.TipSet) (types.BigInt, error)
}

type genesisRecord struct {
	Cid string
}

type headRecord struct {
	Keys []string
}

// validatedRecord persists the validated-block set as a plain string
// slice rather than a map, keeping it a reflection-friendly shape for the
// CBOR codec (see cell.WithCBOREncoding); Cids is rebuilt into a set in
// memory wherever membership is queried.
type validatedRecord struct {
	Cids []string
}

type metaRecord struct {
	LastBeaconRound uint64
}

// Store is the chain store.
type Store struct {
	bs      *store.Store
	weigher Weigher
	jw      journal.Writer
	clk     clock.Clock

	genesisCell   *cell.Cell[genesisRecord]
	headCell      *cell.Cell[headRecord]
	validatedCell *cell.Cell[validatedRecord]
	metaCell      *cell.Cell[metaRecord]

	mu         sync.RWMutex
	head       types.TipSet
	headWeight types.BigInt

	cache   *tipsetCache
	tracker *tipsetTracker
	index   *chainIndex
	feed    *headFeed
}

// Open loads or initializes a Store rooted at dataDir, with genesis as
// the tipset to initialize the chain to if no head has ever been
// written. bs must already contain genesis's block(s).
func Open(dataDir string, bs *store.Store, genesis types.TipSet, weigher Weigher, j journal.Journal, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating data dir %s", dataDir)
	}
	if j == nil {
		j = journal.NewNoopJournal()
	}

	genesisCid, err := genesis.At(0).Cid()
	if err != nil {
		return nil, err
	}

	genesisCell, err := cell.Load(clk, filepath.Join(dataDir, "GENESIS"), genesisRecord{Cid: genesisCid.String()}, cell.WithCBOREncoding[genesisRecord]())
	if err != nil {
		return nil, err
	}
	headCell, err := cell.Load(clk, filepath.Join(dataDir, "HEAD"), headRecord{Keys: keyStrings(genesis.Key())}, cell.WithCBOREncoding[headRecord]())
	if err != nil {
		return nil, err
	}
	validatedCell, err := cell.Load(clk, filepath.Join(dataDir, "VALIDATED_BLOCKS"), validatedRecord{}, cell.WithCBOREncoding[validatedRecord]())
	if err != nil {
		return nil, err
	}
	metaCell, err := cell.Load(clk, filepath.Join(dataDir, "meta.yaml"), metaRecord{})
	if err != nil {
		return nil, err
	}

	s := &Store{
		bs:            bs,
		weigher:       weigher,
		jw:            j.Topic("chain.store"),
		clk:           clk,
		genesisCell:   genesisCell,
		headCell:      headCell,
		validatedCell: validatedCell,
		metaCell:      metaCell,
		cache:         newTipsetCache(),
		tracker:       newTipsetTracker(),
		feed:          newHeadFeed(),
	}
	s.index = newChainIndex(s)

	head, err := s.tipsetFromKeyStrings(headCell.Value().Keys)
	if err != nil {
		// The persisted HEAD references a tipset that can no longer be
		// materialized from the blockstore (e.g. it was pruned, or the
		// blockstore was replaced out from under this data dir). Rather
		// than refuse to open, fall back to genesis and let the syncer
		// catch the store back up from there.
		log.Warningf("persisted head could not be resolved, resetting to genesis: %s", err)
		head = genesis
		if err := headCell.MutateAndSync(func(headRecord) headRecord {
			return headRecord{Keys: keyStrings(genesis.Key())}
		}); err != nil {
			return nil, errors.Wrap(err, "resetting head to genesis")
		}
	}
	weight, err := weigher.Weight(context.Background(), head)
	if err != nil {
		return nil, errors.Wrap(err, "weighing persisted head")
	}

	s.mu.Lock()
	s.head = head
	s.headWeight = weight
	s.mu.Unlock()

	if err := s.index.reindexTo(head); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadGenesis reports whether dataDir already holds a persisted genesis
// record and, if so, resolves it to a TipSet via bs. Lets a caller (the
// chainctl CLI) open an already-initialized store without having to
// reconstruct the genesis tipset itself first.
func LoadGenesis(dataDir string, bs *store.Store, clk clock.Clock) (types.TipSet, bool, error) {
	path := filepath.Join(dataDir, "GENESIS")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return types.UndefTipSet, false, nil
	} else if err != nil {
		return types.UndefTipSet, false, errors.Wrapf(err, "statting %s", path)
	}

	genesisCell, err := cell.Load(clk, path, genesisRecord{}, cell.WithCBOREncoding[genesisRecord]())
	if err != nil {
		return types.UndefTipSet, false, err
	}

	c, err := cid.Decode(genesisCell.Value().Cid)
	if err != nil {
		return types.UndefTipSet, false, errors.Wrap(err, "decoding persisted genesis cid")
	}
	var h types.BlockHeader
	if err := bs.GetObj(context.Background(), c, &h); err != nil {
		return types.UndefTipSet, false, errors.Wrap(err, "loading genesis header")
	}
	ts, err := types.NewTipSet(&h)
	if err != nil {
		return types.UndefTipSet, false, err
	}
	return ts, true, nil
}

// HeightWeigher is the simplest possible Weigher: a tipset's weight is
// just its height. Real consensus weight (power-table-backed, VDF
// ticket chains) is delegated to an external collaborator per the
// Non-goals; this lets the CLI and tests run without one.
type HeightWeigher struct{}

// Weight implements Weigher.
func (HeightWeigher) Weight(_ context.Context, ts types.TipSet) (types.BigInt, error) {
	return types.NewBigInt(int64(ts.Height())), nil
}

func keyStrings(key types.TipSetKey) []string {
	cids := key.ToSlice()
	out := make([]string, len(cids))
	for i, c := range cids {
		out[i] = c.String()
	}
	return out
}

// tipsetByKey satisfies tipsetLoader for the chain index.
func (s *Store) tipsetByKey(key types.TipSetKey) (types.TipSet, error) {
	if ts, ok := s.cache.get(key); ok {
		return ts, nil
	}
	headers := make([]*types.BlockHeader, 0, key.Len())
	for _, c := range key.ToSlice() {
		var h types.BlockHeader
		if err := s.bs.GetObj(context.Background(), c, &h); err != nil {
			return types.UndefTipSet, errors.Wrapf(err, "loading header %s", c)
		}
		headers = append(headers, &h)
	}
	ts, err := types.NewTipSet(headers...)
	if err != nil {
		return types.UndefTipSet, err
	}
	s.cache.add(ts)
	return ts, nil
}

func (s *Store) tipsetFromKeyStrings(keys []string) (types.TipSet, error) {
	cids := make([]cid.Cid, len(keys))
	for i, k := range keys {
		c, err := cid.Decode(k)
		if err != nil {
			return types.UndefTipSet, errors.Wrapf(err, "decoding persisted cid %s", k)
		}
		cids[i] = c
	}
	return s.tipsetByKey(types.NewTipSetKey(cids...))
}

// TipsetFromKeys resolves key to a fully-materialized TipSet, consulting
// the cache before the block store.
func (s *Store) TipsetFromKeys(key types.TipSetKey) (types.TipSet, error) {
	return s.tipsetByKey(key)
}

// GetHead returns the current head tipset.
func (s *Store) GetHead() types.TipSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// PutTipset persists every header in ts (if not already stored), and
// records it in the tipset cache and tracker so later widen/expand calls
// can find it. It does not affect the head.
func (s *Store) PutTipset(ctx context.Context, ts types.TipSet) error {
	for _, h := range ts.Blocks() {
		c, err := h.Cid()
		if err != nil {
			return err
		}
		has, err := s.bs.Has(c)
		if err != nil {
			return err
		}
		if !has {
			if _, err := s.bs.PutObj(ctx, h); err != nil {
				return errors.Wrapf(err, "persisting header %s", c)
			}
		}
		if err := s.tracker.add(h); err != nil {
			return err
		}
	}
	s.cache.add(ts)
	return nil
}

// SetHeaviestTipset forcibly sets ts as the head without a weight
// comparison, for initial load and for tests. It still walks for
// Apply/Revert bookkeeping against whatever head was in effect before.
func (s *Store) SetHeaviestTipset(ctx context.Context, ts types.TipSet) error {
	weight, err := s.weigher.Weight(ctx, ts)
	if err != nil {
		return err
	}
	return s.setHead(ctx, ts, weight)
}

// UpdateHeaviest compares candidate's weight against the current head's
// and, if heavier, installs it as the new head, publishing Revert/Apply
// entries for the tipsets rolled back and applied across the reorg.
//
// Weight is computed before any lock is taken, mirroring the teacher's
// discipline in chain/syncer.go of computing parent weight before
// touching chainStore state, so a slow or reentrant Weigher call can
// never be made while this store's mutex is held.
func (s *Store) UpdateHeaviest(ctx context.Context, candidate types.TipSet) (applied bool, err error) {
	ctx, span := trace.StartSpan(ctx, "Store.UpdateHeaviest")
	defer tracing.AddErrorEndSpan(ctx, span, &err)

	weight, err := s.weigher.Weight(ctx, candidate)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	curWeight := s.headWeight
	s.mu.RUnlock()

	if !weight.GreaterThan(curWeight) {
		return false, nil
	}
	if err := s.setHead(ctx, candidate, weight); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) setHead(ctx context.Context, ts types.TipSet, weight types.BigInt) error {
	s.mu.Lock()
	oldHead := s.head
	s.mu.Unlock()

	var reverts, applies []types.TipSet
	if oldHead.Defined() && !oldHead.Equals(ts) {
		var err error
		reverts, applies, err = s.reorgPath(oldHead, ts)
		if err != nil {
			return errors.Wrap(err, "computing reorg path")
		}
	}

	if err := s.headCell.MutateAndSync(func(headRecord) headRecord {
		return headRecord{Keys: keyStrings(ts.Key())}
	}); err != nil {
		return errors.Wrap(err, "persisting new head")
	}

	s.mu.Lock()
	s.head = ts
	s.headWeight = weight
	s.mu.Unlock()

	if err := s.index.reindexTo(ts); err != nil {
		return err
	}

	for _, r := range reverts {
		s.jw.Write("revert", "tipset", r.Key().String())
		s.feed.publish(HeadChange{Type: HCRevert, Val: r})
	}
	for _, a := range applies {
		s.jw.Write("apply", "tipset", a.Key().String())
		s.feed.publish(HeadChange{Type: HCApply, Val: a})
	}
	if len(reverts) > 0 {
		log.Infof("reorg: reverted %d tipset(s), applied %d, new head %s", len(reverts), len(applies), ts.Key())
	}
	return nil
}

// reorgPath walks both oldHead and newHead back to their common ancestor
// and returns the tipsets to revert (oldHead-side, highest first) and
// apply (newHead-side, lowest first).
func (s *Store) reorgPath(oldHead, newHead types.TipSet) (reverts, applies []types.TipSet, err error) {
	oldChain := []types.TipSet{oldHead}
	newChain := []types.TipSet{newHead}

	oldSeen := map[string]int{oldHead.Key().String(): 0}
	newSeen := map[string]int{newHead.Key().String(): 0}

	cur1, cur2 := oldHead, newHead
	for {
		if idx, ok := newSeen[cur1.Key().String()]; ok {
			return oldChain[:len(oldChain)-1], reverseTipsets(newChain[:idx]), nil
		}
		if idx, ok := oldSeen[cur2.Key().String()]; ok {
			return oldChain[:idx], reverseTipsets(newChain[:len(newChain)-1]), nil
		}

		advanced := false
		if !cur1.Parents().Empty() {
			p, err := s.tipsetByKey(cur1.Parents())
			if err != nil {
				return nil, nil, err
			}
			cur1 = p
			oldChain = append(oldChain, p)
			oldSeen[p.Key().String()] = len(oldChain) - 1
			advanced = true
		}
		if !cur2.Parents().Empty() {
			p, err := s.tipsetByKey(cur2.Parents())
			if err != nil {
				return nil, nil, err
			}
			cur2 = p
			newChain = append(newChain, p)
			newSeen[p.Key().String()] = len(newChain) - 1
			advanced = true
		}
		if !advanced {
			return nil, nil, errors.New("reorg path: chains share no common ancestor")
		}
	}
}

func reverseTipsets(in []types.TipSet) []types.TipSet {
	out := make([]types.TipSet, len(in))
	for i, ts := range in {
		out[len(in)-1-i] = ts
	}
	return out
}

// IsBlockValidated reports whether c has previously been marked as
// passing full validation.
func (s *Store) IsBlockValidated(c cid.Cid) bool {
	target := c.String()
	for _, k := range s.validatedCell.Value().Cids {
		if k == target {
			return true
		}
	}
	return false
}

// MarkBlockAsValidated records that c has passed full validation.
func (s *Store) MarkBlockAsValidated(c cid.Cid) error {
	return s.validatedCell.MutateAndSync(func(v validatedRecord) validatedRecord {
		target := c.String()
		for _, k := range v.Cids {
			if k == target {
				return v
			}
		}
		next := make([]string, len(v.Cids), len(v.Cids)+1)
		copy(next, v.Cids)
		next = append(next, target)
		return validatedRecord{Cids: next}
	})
}

// UnmarkBlockAsValidated removes c's validated marker, used when a
// previously-accepted block is later discovered to be part of a bad
// chain.
func (s *Store) UnmarkBlockAsValidated(c cid.Cid) error {
	return s.validatedCell.MutateAndSync(func(v validatedRecord) validatedRecord {
		target := c.String()
		next := make([]string, 0, len(v.Cids))
		for _, k := range v.Cids {
			if k != target {
				next = append(next, k)
			}
		}
		return validatedRecord{Cids: next}
	})
}

// TipsetByHeight resolves height relative to ts: it rejects height above
// ts's own epoch, returns ts directly if they're equal, and otherwise
// walks ts's ancestors (consulting the index's checkpoints when ts is the
// current head) per noPrev's null-round policy.
func (s *Store) TipsetByHeight(height uint64, ts types.TipSet, noPrev bool) (types.TipSet, error) {
	if height > ts.Height() {
		return types.UndefTipSet, errors.Wrapf(types.ErrInvalidRequest, "height %d is above tipset's epoch %d", height, ts.Height())
	}
	if height == ts.Height() {
		return ts, nil
	}
	return s.index.GetTipsetByHeight(height, ts, noPrev)
}

// LatestBeaconEntry returns the most recent beacon entry reachable from
// the head within beaconLookbackLimit ancestors, or the fixed
// IgnoreDrandEntry sentinel if the IGNORE_DRAND environment override is
// set.
func (s *Store) LatestBeaconEntry(ctx context.Context) (types.BeaconEntry, error) {
	if os.Getenv(ignoreDrandVar) != "" {
		return types.IgnoreDrandEntry(), nil
	}

	cur := s.GetHead()
	for i := 0; i < beaconLookbackLimit; i++ {
		for j := cur.Len() - 1; j >= 0; j-- {
			entries := cur.At(j).BeaconEntries
			if len(entries) > 0 {
				return entries[len(entries)-1], nil
			}
		}
		if cur.Parents().Empty() {
			break
		}
		parent, err := s.tipsetByKey(cur.Parents())
		if err != nil {
			return types.BeaconEntry{}, err
		}
		cur = parent
	}
	return types.BeaconEntry{}, errors.Errorf("no beacon entry within %d ancestors of %s", beaconLookbackLimit, s.GetHead().Key())
}

// BlockMsgsForTipset loads each block's BLS and SECP message lists for
// ts, returning one FullBlock per header in ts's ticket order.
func (s *Store) BlockMsgsForTipset(ctx context.Context, ts types.TipSet) ([]*types.FullBlock, error) {
	out := make([]*types.FullBlock, 0, ts.Len())
	for _, h := range ts.Blocks() {
		var meta types.TxMeta
		if err := s.bs.GetObj(ctx, h.Messages, &meta); err != nil {
			return nil, errors.Wrapf(err, "loading tx meta for block %s", h.Messages)
		}

		var blsArr, secpArr types.MessageArray
		if err := s.bs.GetObj(ctx, meta.BLSRoot, &blsArr); err != nil {
			return nil, errors.Wrap(err, "loading bls message array")
		}
		if err := s.bs.GetObj(ctx, meta.SECPRoot, &secpArr); err != nil {
			return nil, errors.Wrap(err, "loading secp message array")
		}

		blsMsgs := make([]*types.UnsignedMessage, 0, len(blsArr.Cids))
		for _, c := range blsArr.Cids {
			var m types.UnsignedMessage
			if err := s.bs.GetObj(ctx, c, &m); err != nil {
				return nil, errors.Wrapf(err, "loading bls message %s", c)
			}
			blsMsgs = append(blsMsgs, &m)
		}
		secpMsgs := make([]*types.SignedMessage, 0, len(secpArr.Cids))
		for _, c := range secpArr.Cids {
			var m types.SignedMessage
			if err := s.bs.GetObj(ctx, c, &m); err != nil {
				return nil, errors.Wrapf(err, "loading secp message %s", c)
			}
			secpMsgs = append(secpMsgs, &m)
		}

		out = append(out, &types.FullBlock{Header: h, BLSMessages: blsMsgs, SECPMessages: secpMsgs})
	}
	return out, nil
}

// MessagesForTipset flattens BlockMsgsForTipset's per-block lists into
// the tipset's distinct message set, deduplicating by (sender, sequence):
// when two blocks in the same tipset carry the same message, it is
// applied only once.
func (s *Store) MessagesForTipset(ctx context.Context, ts types.TipSet) ([]*types.UnsignedMessage, []*types.SignedMessage, error) {
	blocks, err := s.BlockMsgsForTipset(ctx, ts)
	if err != nil {
		return nil, nil, err
	}

	type seenKey struct {
		sender   string
		sequence uint64
	}
	seen := make(map[seenKey]struct{})

	var uniqueBLS []*types.UnsignedMessage
	var uniqueSECP []*types.SignedMessage
	for _, b := range blocks {
		for _, m := range b.BLSMessages {
			k := seenKey{sender: string(m.From), sequence: m.Sequence}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			uniqueBLS = append(uniqueBLS, m)
		}
		for _, m := range b.SECPMessages {
			k := seenKey{sender: string(m.Message.From), sequence: m.Message.Sequence}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			uniqueSECP = append(uniqueSECP, m)
		}
	}
	return uniqueBLS, uniqueSECP, nil
}

// Publisher subscribes to the store's head-change feed, immediately
// receiving an HCCurrent entry for the present head.
func (s *Store) Publisher() <-chan HeadChange {
	return s.feed.Subscribe(s.GetHead())
}

// Unsubscribe removes a channel previously returned by Publisher.
func (s *Store) Unsubscribe(ch <-chan HeadChange) {
	s.feed.Unsubscribe(ch)
}

// ExpandTipset widens ts against every header the tracker has seen at
// ts's height and parents, for use by the syncer before syncing a
// singleton tipset (mirrors the teacher's Syncer.widen).
func (s *Store) ExpandTipset(ts types.TipSet) (types.TipSet, bool, error) {
	return s.tracker.expand(ts)
}
