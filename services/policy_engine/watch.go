// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the engine whenever the policy file at path changes, until
// ctx is cancelled. The parent directory is watched so that editors which
// replace the file by rename are picked up. A file that fails to parse is
// logged and the previous rule set is kept.
//
// onReload, if non-nil, is called after every reload attempt with its error.
func (e *PolicyEngine) Watch(ctx context.Context, path string, onReload func(error)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve policy path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isPolicyChange(event, absPath) {
					continue
				}
				err := e.reloadFile(absPath)
				if err != nil {
					slog.Warn("Guardrails policy reload failed, keeping previous rules", "path", absPath, "error", err)
				} else {
					slog.Info("Guardrails policy reloaded", "path", absPath)
				}
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Policy watcher error", "error", err)
			}
		}
	}()
	return nil
}

func isPolicyChange(event fsnotify.Event, absPath string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != absPath {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func (e *PolicyEngine) reloadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return e.Reload(data)
}
