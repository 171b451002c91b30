package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/w4cha/csv-manager/core"
)

// watchTables calls reload with the table name whenever a table file in dir
// changes. It stops when ctx is done.
func watchTables(ctx context.Context, dir string, reload func(name string) error, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				name, ok := tableName(event.Name)
				if !ok || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
					continue
				}
				if err := reload(name); err != nil {
					logger.WarnContext(ctx, "failed to reload table", "table", name, "err", err)
					continue
				}
				logger.DebugContext(ctx, "table reloaded", "table", name, "event", event.Op.String())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.WarnContext(ctx, "error watching tables", "err", err)
			}
		}
	}()
	return nil
}

// tableName maps a table file path to its table name; temp files and
// dotfiles are ignored.
func tableName(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, core.FileExtension) {
		return "", false
	}
	name := strings.TrimSuffix(base, core.FileExtension)
	if core.ValidateName(name) != nil {
		return "", false
	}
	return name, true
}
