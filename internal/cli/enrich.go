package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Summarize and embed shards",
		Long:  "Attach a summary, topics and an embedding to each shard. Requires enrich.provider and embed.provider.",
		Run:   runEnrich,
	}

	cmd.Flags().Bool("force", false, "Re-enrich shards that already have an embedding")

	RootCmd.AddCommand(cmd)
}

func runEnrich(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	a := mustOpen(cmd)
	defer a.close()

	rep, err := a.engine.Enrich(cmd.Context(), force)
	if err != nil {
		exitErr("enrich", err)
	}

	printJSON(rep)
}
