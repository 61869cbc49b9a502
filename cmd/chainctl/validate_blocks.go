package main

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/filecoin-project/ember-chain/sync"
	"github.com/filecoin-project/ember-chain/types"
)

var validateBlocksCmd = &cobra.Command{
	Use:   "validate-blocks <block-cid>...",
	Short: "Recompute and check each given block's message roots",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bs, cs, closer, err := openForCommand(true)
		if err != nil {
			return err
		}
		defer closer()

		ctx := context.Background()
		validator := sync.DefaultValidator{}

		for _, a := range args {
			c, err := cid.Decode(a)
			if err != nil {
				return errors.Wrapf(err, "decoding cid %s", a)
			}

			var header types.BlockHeader
			if err := bs.GetObj(ctx, c, &header); err != nil {
				cmd.Printf("%s: FAIL (%s)\n", c, err)
				continue
			}

			ts, err := types.NewTipSet(&header)
			if err != nil {
				cmd.Printf("%s: FAIL (%s)\n", c, err)
				continue
			}

			full, err := cs.BlockMsgsForTipset(ctx, ts)
			if err != nil {
				cmd.Printf("%s: FAIL (%s)\n", c, err)
				continue
			}

			valid := true
			for _, fb := range full {
				if err := validator.CheckMessageRoots(fb.Header, fb); err != nil {
					cmd.Printf("%s: FAIL (%s)\n", c, err)
					valid = false
					break
				}
			}
			if !valid {
				continue
			}

			if err := cs.MarkBlockAsValidated(c); err != nil {
				return err
			}
			cmd.Printf("%s: OK\n", c)
		}
		return nil
	},
}
