package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/filecoin-project/ember-chain/export"
)

var (
	exportCompressed   bool
	exportSkipChecksum bool
	exportRecentRoots  int
)

var exportCmd = &cobra.Command{
	Use:   "export <output-file>",
	Short: "Export a snapshot of every object reachable from the current head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bs, cs, closer, err := openForCommand(true)
		if err != nil {
			return err
		}
		defer closer()

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		head := cs.GetHead()
		roots, err := headerCids(head)
		if err != nil {
			return err
		}

		count, err := export.Export(context.Background(), roots, bs, f, export.Options{
			Compressed:   exportCompressed,
			SkipChecksum: exportSkipChecksum,
			RecentRoots:  exportRecentRoots,
		})
		if err != nil {
			return err
		}
		cmd.Printf("exported %d objects from head %s to %s\n", count, head.Key(), args[0])
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportCompressed, "compressed", false, "zstd-compress the archive body")
	exportCmd.Flags().BoolVar(&exportSkipChecksum, "skip-checksum", false, "omit the trailing sha256 digest")
	exportCmd.Flags().IntVar(&exportRecentRoots, "recent-roots", 0, "bound the walk to this many epochs of state-tree depth (0 means unbounded)")
}
