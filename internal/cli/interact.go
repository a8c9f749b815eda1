package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "interact [message]",
		Short: "Load shard context for a message",
		Long:  "Load the named shards, or infer them from the message, bump their usage and print their latest fragments.",
		Run:   runInteract,
	}

	cmd.Flags().StringP("ids", "i", "", "Comma-separated shard ids")
	cmd.Flags().Bool("no-auto", false, "Do not infer shards when --ids is empty")

	RootCmd.AddCommand(cmd)
}

func runInteract(cmd *cobra.Command, args []string) {
	ids, _ := cmd.Flags().GetString("ids")
	noAuto, _ := cmd.Flags().GetBool("no-auto")

	a := mustOpen(cmd)
	defer a.close()

	res, err := a.engine.Interact(cmd.Context(), engine.InteractParams{
		IDs:        splitList(ids),
		Message:    strings.Join(args, " "),
		AutoSelect: !noAuto,
	})
	if err != nil {
		exitErr("interact", err)
	}

	printJSON(res)
}
