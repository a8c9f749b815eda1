package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "merge <id> <id>...",
		Short: "Merge shards into a meta-shard",
		Long:  "Combine the histories of two or more shards in timestamp order under a new shard. Sources are kept, and archived with --archive.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runMerge,
	}

	cmd.Flags().StringP("question", "q", "", "Guiding question for the merged shard (required)")
	cmd.Flags().String("theme", "", "Theme for the merged shard (required)")
	cmd.Flags().Bool("archive", false, "Archive the source shards")

	cmd.MarkFlagRequired("question")
	cmd.MarkFlagRequired("theme")

	RootCmd.AddCommand(cmd)
}

func runMerge(cmd *cobra.Command, args []string) {
	question, _ := cmd.Flags().GetString("question")
	theme, _ := cmd.Flags().GetString("theme")
	archive, _ := cmd.Flags().GetBool("archive")

	a := mustOpen(cmd)
	defer a.close()

	sh, err := a.engine.Merge(cmd.Context(), engine.MergeParams{
		IDs:             args,
		GuidingQuestion: question,
		Theme:           theme,
		Archive:         archive,
	})
	if err != nil {
		exitErr("merge", err)
	}

	printJSON(map[string]any{
		"shard_id":    sh.ID,
		"merged_from": sh.Meta.MergedFrom,
		"turns":       len(sh.History),
		"archived":    archive,
	})
}
