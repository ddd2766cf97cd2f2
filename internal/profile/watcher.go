package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the latest profile from a directory into a Store whenever
// the directory changes or Reload is called.
type Watcher struct {
	dir      string
	store    *Store
	logger   *zap.Logger
	debounce time.Duration
	retry    time.Duration
	reloadCh chan struct{}
	onSwap   func(old, cur *Profile)
}

// NewWatcher creates a watcher. onSwap, if non-nil, runs after each successful install.
func NewWatcher(dir string, store *Store, logger *zap.Logger, onSwap func(old, cur *Profile)) *Watcher {
	return &Watcher{
		dir:      dir,
		store:    store,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		retry:    5 * time.Second,
		reloadCh: make(chan struct{}, 1),
		onSwap:   onSwap,
	}
}

// Reload requests an explicit reload. It never blocks.
func (w *Watcher) Reload() {
	select {
	case w.reloadCh <- struct{}{}:
	default:
	}
}

// LoadNow loads the latest profile synchronously. A missing profile leaves the
// store untouched and returns ErrNoProfile; the store keeps its current snapshot.
func (w *Watcher) LoadNow() error {
	p, err := LoadLatest(w.dir)
	if err != nil {
		return err
	}
	old, err := w.store.Swap(p)
	if err != nil {
		return err
	}
	w.logger.Info("Calibration profile installed",
		zap.Int("version", p.Version),
		zap.String("water_receiver", p.Orientation.WaterReceiver),
		zap.String("harbor_receiver", p.Orientation.HarborReceiver),
	)
	if w.onSwap != nil {
		w.onSwap(old, p)
	}
	return nil
}

// Run watches the directory until ctx is cancelled. If the directory cannot
// be watched yet, explicit reloads are still served and the watch is retried.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	var retryC <-chan time.Time
	if err := fw.Add(w.dir); err != nil {
		w.logger.Warn("Cannot watch calibration profile directory yet, will retry",
			zap.String("dir", w.dir),
			zap.Duration("retry", w.retry),
			zap.Error(err),
		)
		retry := time.NewTicker(w.retry)
		defer retry.Stop()
		retryC = retry.C
	} else {
		w.logger.Info("Watching calibration profile directory", zap.String("dir", w.dir))
	}

	// Writes arrive in bursts (temp file, rename, pointer); coalesce them.
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-retryC:
			if err := fw.Add(w.dir); err != nil {
				continue
			}
			retryC = nil
			w.logger.Info("Watching calibration profile directory", zap.String("dir", w.dir))
			// a profile may have been written before the watch existed
			w.reload("directory appeared")

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsProfileFile(ev.Name) || !ev.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Profile watcher error", zap.Error(err))

		case <-timerC:
			timerC = nil
			w.reload("file change")

		case <-w.reloadCh:
			w.reload("reload requested")
		}
	}
}

func (w *Watcher) reload(reason string) {
	if err := w.LoadNow(); err != nil {
		if errors.Is(err, ErrNoProfile) {
			w.logger.Warn("No calibration profile to reload, keeping current", zap.String("reason", reason))
			return
		}
		w.logger.Error("Failed to reload calibration profile, keeping current",
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}
