package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/engine"
	"github.com/rcliao/shardmem/internal/index"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List index entries",
		Long:  "Rebuild the index, then list entries sorted by id. Filter by status tag, theme or intent.",
		Run:   runList,
	}

	cmd.Flags().StringP("tag", "t", "", "Filter by status tag (recent, stale, frequently_used, archived, enriched)")
	cmd.Flags().String("theme", "", "Filter by theme")
	cmd.Flags().String("intent", "", "Filter by intent")
	cmd.Flags().IntP("limit", "l", index.DefaultListLimit, "Max results")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	tag, _ := cmd.Flags().GetString("tag")
	theme, _ := cmd.Flags().GetString("theme")
	intent, _ := cmd.Flags().GetString("intent")
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpen(cmd)
	defer a.close()

	entries, err := a.engine.List(cmd.Context(), engine.ListParams{
		Tag:    tag,
		Theme:  theme,
		Intent: intent,
		Limit:  limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	printJSON(entries)
}
