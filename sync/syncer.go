package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/filecoin-project/ember-chain/chain"
	"github.com/filecoin-project/ember-chain/clock"
	"github.com/filecoin-project/ember-chain/metrics"
	"github.com/filecoin-project/ember-chain/metrics/tracing"
	"github.com/filecoin-project/ember-chain/net"
	"github.com/filecoin-project/ember-chain/types"
)

var log = logging.Logger("chain.sync")

var headAdvanceCnt *metrics.Int64Counter

func init() {
	headAdvanceCnt = metrics.NewInt64Counter("sync/head_advance_count", "The number of times the syncer has advanced the chain store's head.")
}

var syncOneTimer *metrics.Float64Timer

func init() {
	syncOneTimer = metrics.NewTimerMs("sync/sync_one", "Duration of single tipset validation in milliseconds")
}

// reverseSyncWindow batches how many parent tipsets a single reverse-walk
// fetch requests at once, matching the original implementation's
// windowed header fetch (sync.rs).
const reverseSyncWindow = 100

// untrustedChainHeightLimit bounds how far ahead of the local head an
// untrusted peer's claimed height may be before its chain is rejected
// outright, matching the teacher's UntrustedChainHeightLimit.
const untrustedChainHeightLimit = 600

// Sentinel errors for syncer-level failures.
var (
	ErrChainHasBadTipSet = errors.New("input chain contains a cached bad tipset")
	ErrNewChainTooLong   = errors.New("input chain forked from best chain too far in the past")
)

// State is the syncer's coarse progress through a single sync attempt,
// mirroring the reverse header-sync state machine description.
type State int

const (
	// Stalled: no sync in progress and no known peer head ahead of
	// the local chain.
	Stalled State = iota
	// SyncCheckpoint: walking backward from a peer's claimed head to
	// find a tipset the local store already trusts.
	SyncCheckpoint
	// ChainCatchup: validating forward from the checkpoint toward the
	// peer's head.
	ChainCatchup
	// Follow: caught up; processing new tipsets as they arrive.
	Follow
)

// messageProvider loads a tipset's message sets, as needed to recompute
// and check each block's TxMeta root. Satisfied by *chain.Store.
type messageProvider interface {
	BlockMsgsForTipset(ctx context.Context, ts types.TipSet) ([]*types.FullBlock, error)
}

// chainStore is the subset of *chain.Store the syncer depends on.
type chainStore interface {
	GetHead() types.TipSet
	TipsetFromKeys(key types.TipSetKey) (types.TipSet, error)
	PutTipset(ctx context.Context, ts types.TipSet) error
	UpdateHeaviest(ctx context.Context, candidate types.TipSet) (bool, error)
	IsBlockValidated(c cid.Cid) bool
	MarkBlockAsValidated(c cid.Cid) error
	ExpandTipset(ts types.TipSet) (types.TipSet, bool, error)
}

// Validator checks the parts of block validity this module does not
// delegate to an external proof-verification collaborator: that a
// header's declared message roots actually match its messages.
// Election-proof/VRF and state-transition checks are explicitly out of
// scope (Non-goals: no end-to-end proof verification) and are left to
// whatever consensus implementation is plugged in above this package.
type Validator interface {
	// CheckMessageRoots recomputes bls/secp roots from the full block's
	// message lists and compares them against header.Messages.
	CheckMessageRoots(header *types.BlockHeader, full *types.FullBlock) error
}

// DefaultValidator implements Validator by recomputing TxMeta via
// types.BuildTxMeta, the same content-addressing path messages were
// built with.
type DefaultValidator struct{}

// CheckMessageRoots implements Validator.
func (DefaultValidator) CheckMessageRoots(header *types.BlockHeader, full *types.FullBlock) error {
	blsCids := make([]cid.Cid, 0, len(full.BLSMessages))
	for _, m := range full.BLSMessages {
		c, err := m.Cid()
		if err != nil {
			return err
		}
		blsCids = append(blsCids, c)
	}
	secpCids := make([]cid.Cid, 0, len(full.SECPMessages))
	for _, m := range full.SECPMessages {
		c, err := m.Cid()
		if err != nil {
			return err
		}
		secpCids = append(secpCids, c)
	}

	meta, _, _, err := types.BuildTxMeta(blsCids, secpCids)
	if err != nil {
		return err
	}
	metaCid, err := meta.Cid()
	if err != nil {
		return err
	}
	if !metaCid.Equals(header.Messages) {
		return errors.Wrapf(types.ErrInvalidRoots, "header claims messages root %s, recomputed %s", header.Messages, metaCid)
	}
	return nil
}

// Syncer drives a chain.Store toward the heaviest tipset it can fetch and
// validate, consuming a net.Fetcher for block retrieval and a
// badBlockCache to avoid re-validating known-invalid chains. Generalizes
// the teacher's chain.Syncer (same HandleNewTipSet/syncOne/widen shape,
// same "hold syncer.mu across the whole sync attempt" discipline) onto
// this module's chain store and validator abstractions.
type Syncer struct {
	mu sync.Mutex

	fetcher   net.Fetcher
	store     chainStore
	messages  messageProvider
	validator Validator
	badBlocks *badBlockCache
	clk       clock.Clock

	stateMu sync.RWMutex
	state   State
}

// NewSyncer constructs a Syncer ready for use.
func NewSyncer(store chainStore, messages messageProvider, validator Validator, fetcher net.Fetcher, clk clock.Clock) *Syncer {
	return &Syncer{
		fetcher:   fetcher,
		store:     store,
		messages:  messages,
		validator: validator,
		badBlocks: newBadBlockCache(),
		clk:       clk,
		state:     Stalled,
	}
}

// State returns the syncer's current coarse state.
func (s *Syncer) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Syncer) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// InformNewHead processes a peer's claimed chain head: fetches any
// tipsets between the local frontier and ci.Head, validates each, and
// advances the store's head if the result is heavier. Mirrors the
// teacher's HandleNewTipSet.
func (s *Syncer) InformNewHead(ctx context.Context, ci *net.ChainInfo, trusted bool) (err error) {
	ctx, span := trace.StartSpan(ctx, "Syncer.InformNewHead")
	span.AddAttributes(trace.StringAttribute("tipset", ci.Head.String()))
	defer tracing.AddErrorEndSpan(ctx, span, &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	curHead := s.store.GetHead()
	if curHead.Key().Equals(ci.Head) {
		s.setState(Follow)
		return nil
	}

	if !trusted && ci.Height > curHead.Height()+uint64(untrustedChainHeightLimit) {
		return ErrNewChainTooLong
	}

	s.setState(SyncCheckpoint)
	chainTips, err := s.fetchBatch(ctx, ci, curHead)
	if err != nil {
		return err
	}

	if c, reason, idx, bad := s.badBlocks.chainHasBadBlock(chainTips); bad {
		// chainTips is head-to-tail (newest first) at this point; everything
		// before idx is a descendant of the bad block and must be quarantined
		// too, not just the chain whose fetch uncovered it.
		if idx > 0 {
			descendantReason := fmt.Sprintf("chain contained %s", c)
			if err := s.badBlocks.addChain(chainTips[:idx], descendantReason); err != nil {
				log.Warningf("failed to quarantine chain after bad-block hit: %s", err)
			}
		}
		return types.NewBadBlockError(c, reason)
	}

	// chainTips is head-to-tail (newest first); reverse to validate
	// oldest-first.
	reverseTipSets(chainTips)

	s.setState(ChainCatchup)
	for i, ts := range chainTips {
		if curHead.Defined() && ts.Height() <= curHead.Height() {
			continue
		}
		var widened types.TipSet
		if i == len(chainTips)-1 {
			wts, ok, err := s.store.ExpandTipset(ts)
			if err != nil {
				return err
			}
			if ok {
				widened = wts
			}
		}

		toSync := ts
		if widened.Defined() {
			toSync = widened
		}

		if err := s.syncOne(ctx, toSync); err != nil {
			badCid, cidErr := firstBlockCid(ts)
			if cidErr != nil {
				return err
			}
			for _, h := range ts.Blocks() {
				c, herr := h.Cid()
				if herr != nil {
					continue
				}
				s.badBlocks.add(c, err.Error())
			}
			if i+1 < len(chainTips) {
				descendantReason := fmt.Sprintf("chain contained %s", badCid)
				if qerr := s.badBlocks.addChain(chainTips[i+1:], descendantReason); qerr != nil {
					log.Warningf("failed to quarantine chain after sync error: %s", qerr)
				}
			}
			return types.NewBadBlockError(badCid, err.Error())
		}
	}

	s.setState(Follow)
	return nil
}

// fetchBatch retrieves tipsets from ci.Head back to (but not including)
// the local store's frontier, in windows of reverseSyncWindow, matching
// the original implementation's windowed parent-tipset fetch.
func (s *Syncer) fetchBatch(ctx context.Context, ci *net.ChainInfo, localHead types.TipSet) ([]types.TipSet, error) {
	var all []types.TipSet
	next := ci.Head

	for {
		fetched := 0
		batch, err := s.fetcher.FetchTipSets(ctx, next, ci.Peer, func(t types.TipSet) (bool, error) {
			fetched++
			if localHead.Defined() && t.Parents().Equals(localHead.Key()) {
				return true, nil
			}
			return fetched >= reverseSyncWindow, nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) == 0 {
			return all, nil
		}
		last := batch[len(batch)-1]
		if last.Parents().Empty() || (localHead.Defined() && last.Parents().Equals(localHead.Key())) {
			return all, nil
		}
		next = last.Parents()
	}
}

// syncOne validates a single tipset against the store, persists it, and
// (if it turns out heavier than the current head) advances the head.
func (s *Syncer) syncOne(ctx context.Context, ts types.TipSet) error {
	stopwatch := syncOneTimer.Start(ctx)
	defer stopwatch.Stop(ctx)

	for _, h := range ts.Blocks() {
		c, err := h.Cid()
		if err != nil {
			return err
		}
		if s.store.IsBlockValidated(c) {
			continue
		}
		full, err := s.messages.BlockMsgsForTipset(ctx, ts)
		if err != nil {
			return errors.Wrapf(err, "loading messages for tipset %s", ts.Key())
		}
		for _, fb := range full {
			if err := s.validator.CheckMessageRoots(fb.Header, fb); err != nil {
				return err
			}
		}
		if err := s.store.MarkBlockAsValidated(c); err != nil {
			return err
		}
	}

	if err := s.store.PutTipset(ctx, ts); err != nil {
		return err
	}

	applied, err := s.store.UpdateHeaviest(ctx, ts)
	if err != nil {
		return err
	}
	if applied {
		headAdvanceCnt.Inc(ctx, 1)
		log.Debugf("advanced head to %s", ts.Key())
	}
	return nil
}

// firstBlockCid returns the cid of ts's first block, the one attributed
// as "the" bad block when a whole tipset fails validation.
func firstBlockCid(ts types.TipSet) (cid.Cid, error) {
	blocks := ts.Blocks()
	if len(blocks) == 0 {
		return cid.Undef, types.ErrNoBlocks
	}
	return blocks[0].Cid()
}

func reverseTipSets(ts []types.TipSet) {
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
}
