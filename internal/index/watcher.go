package index

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last change before rebuilding.
const DefaultDebounce = 500 * time.Millisecond

// Rebuilder is satisfied by *Builder.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*BuildResult, error)
}

// Watcher rebuilds the index when shard files in a directory change.
type Watcher struct {
	dir      string
	rebuild  Rebuilder
	log      *zap.Logger
	debounce time.Duration
	fsw      *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// OnRebuild, if set, is called after every debounced rebuild.
	OnRebuild func(*BuildResult, error)
}

// NewWatcher creates a watcher over dir. A zero debounce uses DefaultDebounce.
func NewWatcher(dir string, r Rebuilder, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{dir: dir, rebuild: r, log: log, debounce: debounce, fsw: fsw}, nil
}

// Start begins watching. It returns once the directory is registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		w.fsw.Close()
		return err
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.log.Info("watching shard dir", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	return nil
}

// Stop shuts down the watcher and waits for any in-progress rebuild.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			res, err := w.rebuild.Rebuild(ctx)
			if err != nil {
				w.log.Warn("watch rebuild failed", zap.Error(err))
			}
			if w.OnRebuild != nil {
				w.OnRebuild(res, err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether event touches a shard file. Temp files written
// during atomic replacement are dot-prefixed and ignored.
func relevant(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
