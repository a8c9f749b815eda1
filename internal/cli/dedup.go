package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Find and remove duplicate shards",
		Long:  "Report shards whose conversation content repeats an earlier shard. Nothing is deleted without --apply.",
		Run:   runDedup,
	}

	cmd.Flags().Bool("apply", false, "Delete the duplicates")

	RootCmd.AddCommand(cmd)
}

func runDedup(cmd *cobra.Command, args []string) {
	apply, _ := cmd.Flags().GetBool("apply")

	a := mustOpen(cmd)
	defer a.close()

	res, err := a.engine.Dedup(cmd.Context(), !apply)
	if err != nil {
		exitErr("dedup", err)
	}

	printJSON(res)
}
