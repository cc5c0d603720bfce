package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/curator/internal/entity"
)

// Watch starts an fsnotify watcher on the workspace root and keeps the index
// current until ctx is cancelled. New directories created at runtime are
// added to the watch list. Rename events schedule a debounced full Sync,
// since fsnotify only reports the old path.
//
// Decision files, the archive, and dot-directories are not entities and are
// ignored.
func Watch(ctx context.Context, db *DB, store *entity.Store, workspace string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, workspace, workspace); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", workspace))

	// reconcileTimer debounces the rename/new-dir reconciliation pass.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := Sync(db, store, logger); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: start watching, then let the reconcile
			// pass pick up any files that landed before the watch began.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, workspace, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					scheduleReconcile()
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(workspace, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if ignored(rel) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				e, readErr := store.Load(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				if idxErr := db.Upsert(rowFor(e), e.Body); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				logger.Debug("watcher: indexed", slog.String("path", rel))

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.Delete(rel); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))

			case ev.Op&fsnotify.Rename != 0:
				// The new path arrives as a separate Create event (if it
				// stays inside a watched dir). Drop the old entry now and
				// reconcile shortly after to catch stragglers.
				if delErr := db.Delete(rel); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("path", rel))
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ignored reports whether a workspace-relative path lies outside the live
// entity corpus.
func ignored(rel string) bool {
	seg := rel
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	switch {
	case strings.HasPrefix(seg, "."):
		return true
	case seg == "decisions", seg == entity.ArchiveDir:
		return true
	case seg == rel:
		// Root-level files are not entities.
		return true
	}
	return false
}

// addDirsRecursive adds root and all its non-ignored subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, workspace, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != workspace {
			rel, relErr := filepath.Rel(workspace, path)
			if relErr == nil {
				rel = filepath.ToSlash(rel)
				seg := rel
				if i := strings.IndexByte(seg, '/'); i >= 0 {
					seg = seg[:i]
				}
				if strings.HasPrefix(seg, ".") || seg == "decisions" || seg == entity.ArchiveDir {
					return fs.SkipDir
				}
			}
		}
		return w.Add(path)
	})
}
