package merklebuild

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchOptions controls Watch
type WatchOptions struct {
	Debounce time.Duration // Quiet period after the last event before re-checking (default: 200ms)
}

// WatchEvent is reported after each debounced burst of filesystem events
type WatchEvent struct {
	Changed bool   // Directory differs from its marker
	Digest  string // Current digest, empty when Err is set
	Err     error  // Hashing failed; the change state is unknown
}

// Watch re-runs change detection for the detector's directory whenever files
// below it change, until ctx is cancelled. The directory is checked once
// immediately. Hidden and ignored entries are not watched, matching what the
// hash covers. Symlinked directories are not followed.
func Watch(ctx context.Context, cd *ChangeDetector, options WatchOptions, callback func(WatchEvent)) error {
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	filter := cd.Hasher().filter
	if err := addDirsRecursive(w, cd.Directory(), filter); err != nil {
		return err
	}
	VerboseLog(1, "watching %s", cd.Directory())

	check := func() {
		callback(cd.check(ctx))
	}
	check()

	var timer *time.Timer
	var timerCh <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			VerboseLog(1, "stopped watching %s", cd.Directory())
			return nil

		case <-timerCh:
			timerCh = nil
			check()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filter.ShouldIgnore(filepath.Base(ev.Name)) || cd.isMarkerWrite(ev.Name) {
				continue
			}
			DebugLog("watch", "%s %s", ev.Op, ev.Name)

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Lstat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name, filter); addErr != nil {
						logger.WithError(addErr).Warnf("failed to watch new directory %s", ev.Name)
					}
				}
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerCh = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithError(watchErr).Warn("watcher error")
		}
	}
}

// check runs one change detection and packages the result
func (cd *ChangeDetector) check(ctx context.Context) WatchEvent {
	last, ok, err := cd.LastDigest()
	if err != nil {
		return WatchEvent{Err: err}
	}
	digest, err := cd.CurrentDigest(ctx)
	if err != nil {
		return WatchEvent{Err: err}
	}
	return WatchEvent{Changed: !ok || last != digest, Digest: digest}
}

// isMarkerWrite reports whether path is the marker or one of its temp files
func (cd *ChangeDetector) isMarkerWrite(path string) bool {
	return path == cd.markerFileName || strings.HasPrefix(path, cd.markerFileName+".")
}

// addDirsRecursive adds root and all its non-ignored subdirectories to the watcher
func addDirsRecursive(w *fsnotify.Watcher, root string, filter *EntryFilter) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && filter.ShouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
