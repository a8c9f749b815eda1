package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the shard index",
		Long:  "Scan every shard file, classify it and overwrite the persisted index. Unreadable shards are skipped and reported.",
		Run:   runRebuild,
	}

	RootCmd.AddCommand(cmd)
}

func runRebuild(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	res, err := a.engine.RebuildIndex(cmd.Context())
	if err != nil {
		exitErr("rebuild", err)
	}

	printJSON(res)
}
