package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/engine"
	"github.com/rcliao/shardmem/internal/relevance"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank shards against a query",
		Long:  "Score non-archived shards by token overlap, or by embedding similarity with --mode vector.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("top", "n", 5, "Number of results (1-20)")
	cmd.Flags().StringP("mode", "m", string(relevance.ModeToken), "Scoring mode: token or vector")
	cmd.Flags().Float64("min-score", 0, "Drop results scoring at or below this")
	cmd.Flags().Bool("all", false, "Keep zero-score results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	top, _ := cmd.Flags().GetInt("top")
	mode, _ := cmd.Flags().GetString("mode")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	all, _ := cmd.Flags().GetBool("all")

	a := mustOpen(cmd)
	defer a.close()

	res, err := a.engine.Search(cmd.Context(), engine.SearchParams{
		Query:    strings.Join(args, " "),
		TopN:     top,
		Mode:     relevance.Mode(mode),
		MinScore: minScore,
		HasMin:   !all,
	})
	if err != nil {
		exitErr("search", err)
	}

	printJSON(res)
}
