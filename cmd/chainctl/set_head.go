package main

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/filecoin-project/ember-chain/types"
)

var setHeadCmd = &cobra.Command{
	Use:   "set-head <block-cid>...",
	Short: "Force the chain head to the tipset formed by the given block CIDs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cs, closer, err := openForCommand(true)
		if err != nil {
			return err
		}
		defer closer()

		cids := make([]cid.Cid, 0, len(args))
		for _, a := range args {
			c, err := cid.Decode(a)
			if err != nil {
				return errors.Wrapf(err, "decoding cid %s", a)
			}
			cids = append(cids, c)
		}

		ts, err := cs.TipsetFromKeys(types.NewTipSetKey(cids...))
		if err != nil {
			return errors.Wrap(err, "resolving requested tipset")
		}

		if err := cs.SetHeaviestTipset(context.Background(), ts); err != nil {
			return err
		}
		cmd.Printf("head set to %s (height %d)\n", ts.Key(), ts.Height())
		return nil
	},
}
