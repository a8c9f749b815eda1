package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "lineage <id>",
		Short: "Show merge lineage of a shard",
		Args:  cobra.ExactArgs(1),
		Run:   runLineage,
	}

	RootCmd.AddCommand(cmd)
}

func runLineage(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	l, err := a.engine.Lineage(cmd.Context(), args[0])
	if err != nil {
		exitErr("lineage", err)
	}

	printJSON(l)
}
