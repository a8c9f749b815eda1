package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/relevance"
)

func init() {
	cmd := &cobra.Command{
		Use:   "select [message]",
		Short: "Infer relevant shards for a message",
		Long:  "Return the shards whose relevance clears the floor. An empty list means no match.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSelect,
	}

	RootCmd.AddCommand(cmd)
}

func runSelect(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	results, err := a.engine.AutoSelect(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		exitErr("select", err)
	}

	printJSON(map[string]any{"ids": relevance.IDs(results), "results": results})
}
