// Package watch drives incremental conversion from file-system events.
// Raw fsnotify events are translated to change events, coalesced over
// a debounce window (the window restarts on every new event), and
// delivered as one batch once the vault goes quiet.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/raido/internal/models"
)

// BatchApplier consumes a coalesced batch of change events. Satisfied
// by *convert.Converter.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, events []models.ChangeEvent) (models.Stats, error)
}

// Options configure the watcher.
type Options struct {
	// Debounce is the quiet period required before a batch is applied.
	Debounce time.Duration
	// Extensions is the attachment allow-list (without dots). Markdown
	// files are always watched.
	Extensions []string
}

// Watch starts an fsnotify watcher on the vault root and feeds
// debounced change batches to the applier until ctx is cancelled.
//
// New directories created at runtime are automatically added to the
// watch list, and files already inside them are synthesized as Created
// events. fsnotify fires Rename on the OLD path only, so a rename
// becomes a Removed event; the new path arrives as a separate Create.
func Watch(ctx context.Context, applier BatchApplier, vaultRoot string, opts Options, logger *slog.Logger) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started",
		slog.String("root", vaultRoot),
		slog.Duration("debounce", opts.Debounce))

	var (
		pending []models.ChangeEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(opts.Debounce)
			timerCh = timer.C
		} else {
			timer.Reset(opts.Debounce)
		}
	}

	enqueue := func(ev models.ChangeEvent) {
		pending = append(pending, ev)
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			batch := pending
			pending = nil
			logger.Debug("watcher: applying batch", slog.Int("events", len(batch)))
			if _, err := applier.ApplyBatch(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("watcher: batch failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if hiddenDir(filepath.Base(absPath)) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					for _, rel := range filesUnder(vaultRoot, absPath, exts) {
						enqueue(models.ChangeEvent{Path: rel, Kind: models.Created})
					}
					continue
				}
			}

			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !relevant(rel, exts) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				enqueue(models.ChangeEvent{Path: rel, Kind: models.Created})
			case ev.Op&fsnotify.Write != 0:
				enqueue(models.ChangeEvent{Path: rel, Kind: models.Modified})
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				enqueue(models.ChangeEvent{Path: rel, Kind: models.Removed})
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// relevant reports whether a vault-relative path is worth an event:
// Markdown, or an allow-listed attachment, and not inside a hidden
// directory.
func relevant(rel string, exts map[string]struct{}) bool {
	for _, part := range strings.Split(rel, "/") {
		if hiddenDir(part) {
			return false
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(rel), "."))
	if ext == "md" {
		return true
	}
	_, ok := exts[ext]
	return ok
}

func hiddenDir(name string) bool {
	return strings.HasPrefix(name, ".")
}

// filesUnder walks a newly created directory and returns the
// vault-relative paths of relevant files already inside it.
func filesUnder(vaultRoot, dir string, exts map[string]struct{}) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if hiddenDir(d.Name()) && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if relevant(rel, exts) {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-hidden subdirectories to
// the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if hiddenDir(d.Name()) && p != root {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
