package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	stats, err := a.engine.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(stats)
}
