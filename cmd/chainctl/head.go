package main

import (
	"github.com/spf13/cobra"
)

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Print the current chain head",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cs, closer, err := openForCommand(true)
		if err != nil {
			return err
		}
		defer closer()

		head := cs.GetHead()
		cmd.Printf("height: %d\n", head.Height())
		cmd.Printf("key:    %s\n", head.Key())
		for _, h := range head.Blocks() {
			c, err := h.Cid()
			if err != nil {
				return err
			}
			cmd.Printf("  block %s (miner %s)\n", c, h.MinerAddress())
		}
		return nil
	},
}
