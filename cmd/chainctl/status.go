package main

import (
	"github.com/spf13/cobra"
	sysinfo "github.com/whyrusleeping/go-sysinfo"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print chain store head and disk usage (no validated-block count)",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cs, closer, err := openForCommand(false)
		if err != nil {
			return err
		}
		defer closer()

		if cs == nil {
			cmd.Println("not initialized")
			return nil
		}

		head := cs.GetHead()
		cmd.Printf("head:   %s\n", head.Key())
		cmd.Printf("height: %d\n", head.Height())

		du, err := sysinfo.DiskUsage(dataDir)
		if err != nil {
			cmd.Printf("disk usage: unavailable (%s)\n", err)
			return nil
		}
		cmd.Printf("disk:   %d/%d bytes free\n", du.Free, du.Total)
		return nil
	},
}
