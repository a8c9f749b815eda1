package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Append an exchange to a shard",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().StringP("user", "u", "", "User message")
	cmd.Flags().StringP("ai", "a", "", "AI response")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	ai, _ := cmd.Flags().GetString("ai")

	a := mustOpen(cmd)
	defer a.close()

	sh, err := a.engine.Append(cmd.Context(), store.AppendParams{ID: args[0], User: user, AI: ai})
	if err != nil {
		exitErr("update", err)
	}

	printJSON(map[string]any{"shard_id": args[0], "turns": len(sh.History), "meta_tags": sh.Meta})
}
