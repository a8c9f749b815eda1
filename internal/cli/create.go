package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a shard",
		Long:  "Create a shard whose id is derived from theme and intent, suffixed when taken.",
		Run:   runCreate,
	}

	cmd.Flags().StringP("question", "q", "", "Guiding question (required)")
	cmd.Flags().String("intent", "reflection", "Intent")
	cmd.Flags().String("theme", "general", "Theme")
	cmd.Flags().StringP("message", "m", "", "Initial user message")

	cmd.MarkFlagRequired("question")

	RootCmd.AddCommand(cmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	question, _ := cmd.Flags().GetString("question")
	intent, _ := cmd.Flags().GetString("intent")
	theme, _ := cmd.Flags().GetString("theme")
	message, _ := cmd.Flags().GetString("message")

	a := mustOpen(cmd)
	defer a.close()

	sh, err := a.engine.Create(cmd.Context(), engine.CreateParams{
		GuidingQuestion: question,
		Intent:          intent,
		Theme:           theme,
		InitialMessage:  message,
	})
	if err != nil {
		exitErr("create", err)
	}

	printJSON(sh)
}
