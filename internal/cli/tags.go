package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "tags <id>",
		Short: "Classify one shard",
		Args:  cobra.ExactArgs(1),
		Run:   runTags,
	}

	RootCmd.AddCommand(cmd)
}

func runTags(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	tags, err := a.engine.Tags(cmd.Context(), args[0])
	if err != nil {
		exitErr("tags", err)
	}

	printJSON(map[string]any{"shard_id": args[0], "tags": tags})
}
