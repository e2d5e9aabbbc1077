package skills

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-discovers instruction skill packages when their
// directories change, updating the bridge in place. Changes are
// debounced so a burst of writes triggers one rescan.
type Watcher struct {
	dirs     []string
	bridge   *Bridge
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher builds a watcher over the configured skill directories.
func NewWatcher(dirs []string, bridge *Bridge) *Watcher {
	return &Watcher{
		dirs:     dirs,
		bridge:   bridge,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default().With("component", "skill_watcher"),
	}
}

// Run watches until ctx is cancelled. Directories that do not exist
// yet are skipped; they are picked up on the next restart.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	watching := 0
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Debug("cannot watch skill directory", "dir", dir, "error", err)
			continue
		}
		watching++
	}
	if watching == 0 {
		w.logger.Info("no skill directories to watch")
		<-ctx.Done()
		return nil
	}
	w.logger.Info("watching skill directories", "count", watching)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("skill watcher error", "error", err)
		case <-timerCh:
			timer = nil
			timerCh = nil
			packs := DiscoverPacks(w.dirs)
			w.bridge.SetPacks(packs)
			w.logger.Info("skill packages rescanned", "count", len(packs))
		}
	}
}
