package extension

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/tcpcmd/internal/logger"
)

// Watch reports changes under root until ctx is done. Modules are loaded
// once per process, so a change only produces a notice; onChange, if not
// nil, is called with the affected path.
func Watch(ctx context.Context, root string, onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("Extension directory absent, not watching", logger.KeyPath, root)
			return nil
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				// New subdirectories are watched too.
				_ = w.Add(ev.Name)
			}
			logger.Warn("Extension directory changed; restart the server to apply",
				logger.KeyPath, ev.Name, "op", ev.Op.String())
			if onChange != nil {
				onChange(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Extension watcher error", logger.Err(err))
		}
	}
}
