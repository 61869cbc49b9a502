package main

import (
	"path/filepath"

	"github.com/ipfs/go-cid"
	fslock "github.com/ipfs/go-fs-lock"
	"github.com/pkg/errors"

	"github.com/filecoin-project/ember-chain/chain"
	"github.com/filecoin-project/ember-chain/clock"
	"github.com/filecoin-project/ember-chain/journal"
	bstore "github.com/filecoin-project/ember-chain/store"
	"github.com/filecoin-project/ember-chain/types"
)

// headerCids returns the CIDs of every block header in ts, the root set
// a snapshot export or validate-blocks pass walks from.
func headerCids(ts types.TipSet) ([]cid.Cid, error) {
	out := make([]cid.Cid, 0, ts.Len())
	for _, h := range ts.Blocks() {
		c, err := h.Cid()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

const lockFileName = "chainctl.lock"

// openForCommand locks dataDir, opens the blockstore, and (if the store
// has already been initialized via initCmd) opens the chain store too.
// cs is nil when the store has not been initialized and requireInit is
// false. The returned closer releases the lock and must always be
// called.
func openForCommand(requireInit bool) (bs *bstore.Store, cs *chain.Store, closer func(), err error) {
	unlock, err := fslock.Lock(dataDir, lockFileName)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "locking chain data directory")
	}
	closer = func() { _ = unlock.Close() }

	bs, err = bstore.OpenBadger(filepath.Join(dataDir, "blocks"))
	if err != nil {
		closer()
		return nil, nil, nil, err
	}

	clk := clock.NewSystemClock()
	genesis, ok, err := chain.LoadGenesis(dataDir, bs, clk)
	if err != nil {
		closer()
		return nil, nil, nil, err
	}
	if !ok {
		if requireInit {
			closer()
			return nil, nil, nil, errors.New("chain store not initialized: run `chainctl init <genesis-header-file>` first")
		}
		return bs, nil, closer, nil
	}

	cs, err = chain.Open(dataDir, bs, genesis, chain.HeightWeigher{}, journal.NewNoopJournal(), clk)
	if err != nil {
		closer()
		return nil, nil, nil, err
	}
	return bs, cs, closer, nil
}
