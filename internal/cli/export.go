package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export shards as JSON",
		Long:  "Export every readable shard as one JSON array sorted by id. Unreadable shards are reported on stderr.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.close()

	shards, skipped, err := a.engine.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	for _, s := range skipped {
		fmt.Fprintf(os.Stderr, "skipped %s: %s\n", s.ID, s.Reason)
	}

	if len(shards) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(shards)
}
