package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import shards from JSON",
		Long:  "Import shards from a JSON array (file or stdin) in the format produced by export. Existing ids are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		exitErr("parse json", err)
	}
	shards := make([]*model.Shard, 0, len(raw))
	for i, r := range raw {
		sh, err := store.DecodeShard(r)
		if err != nil {
			exitErr("parse json", fmt.Errorf("record %d: %w", i, err))
		}
		shards = append(shards, sh)
	}

	a := mustOpen(cmd)
	defer a.close()

	res, err := a.engine.Import(cmd.Context(), shards)
	if err != nil {
		exitErr("import", err)
	}

	printJSON(res)
}
