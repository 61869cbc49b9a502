package main

import (
	"context"
	"io/ioutil"
	"path/filepath"

	fslock "github.com/ipfs/go-fs-lock"
	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/filecoin-project/ember-chain/chain"
	"github.com/filecoin-project/ember-chain/clock"
	"github.com/filecoin-project/ember-chain/journal"
	bstore "github.com/filecoin-project/ember-chain/store"
	"github.com/filecoin-project/ember-chain/types"
)

var initCmd = &cobra.Command{
	Use:   "init <genesis-header-file>",
	Short: "Bootstrap a new chain store from a CBOR-encoded genesis block header",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := ioutil.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(err, "reading genesis header file")
		}
		var header types.BlockHeader
		if err := cbor.DecodeInto(raw, &header); err != nil {
			return errors.Wrap(err, "decoding genesis header")
		}
		if header.Height != 0 {
			return errors.Errorf("genesis header must be at height 0, got %d", header.Height)
		}

		unlock, err := fslock.Lock(dataDir, lockFileName)
		if err != nil {
			return errors.Wrap(err, "locking chain data directory")
		}
		defer unlock.Close()

		bs, err := bstore.OpenBadger(filepath.Join(dataDir, "blocks"))
		if err != nil {
			return err
		}
		ctx := context.Background()
		if _, err := bs.PutObj(ctx, &header); err != nil {
			return errors.Wrap(err, "persisting genesis header")
		}

		genesis, err := types.NewTipSet(&header)
		if err != nil {
			return err
		}

		cs, err := chain.Open(dataDir, bs, genesis, chain.HeightWeigher{}, journal.NewNoopJournal(), clock.NewSystemClock())
		if err != nil {
			return err
		}
		if err := cs.SetHeaviestTipset(ctx, genesis); err != nil {
			return err
		}

		c, err := header.Cid()
		if err != nil {
			return err
		}
		cmd.Printf("initialized chain store at %s with genesis %s\n", dataDir, c)
		return nil
	},
}
