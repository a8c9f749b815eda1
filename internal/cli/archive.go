package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a shard",
		Long:  "Mark a shard archived so search and auto-select skip it. Archiving again refreshes archived_at.",
		Args:  cobra.ExactArgs(1),
		Run:   runArchive,
	}

	RootCmd.AddCommand(cmd)
}

func runArchive(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	sh, err := a.engine.Archive(cmd.Context(), args[0])
	if err != nil {
		exitErr("archive", err)
	}

	printJSON(map[string]any{"shard_id": args[0], "meta_tags": sh.Meta})
}
