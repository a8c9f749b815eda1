package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/index"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the index when shard files change",
		Long:  "Watch the shard directory and rebuild the index after changes settle. Runs until interrupted.",
		Run:   runWatch,
	}

	cmd.Flags().Duration("debounce", index.DefaultDebounce, "Quiet period before a rebuild")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	debounce, _ := cmd.Flags().GetDuration("debounce")

	a := mustOpen(cmd)
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := a.engine.RebuildIndex(ctx); err != nil {
		exitErr("rebuild", err)
	}

	w, err := index.NewWatcher(a.cfg.ShardDir, a.engine.Builder(), debounce, a.log.Named("watch"))
	if err != nil {
		exitErr("watch", err)
	}
	w.OnRebuild = func(res *index.BuildResult, err error) {
		if err == nil {
			a.log.Info("index refreshed", zap.String("run", res.RunID), zap.Int("entries", res.Entries))
		}
	}
	if err := w.Start(ctx); err != nil {
		exitErr("watch", err)
	}

	<-ctx.Done()
	w.Stop()
}
