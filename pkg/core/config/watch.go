// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     config
// Description: Polling-based configuration change watcher
// License:     MIT
// ============================================================================

package config

import (
	"context"
	"os"
	"time"
)

// WatchInterval is how often the watcher polls the file for changes
const WatchInterval = 1 * time.Second

// Watch monitors the configuration file at path and invokes onChange with the
// reloaded configuration whenever the file's modification time advances.
// A reload that fails to parse or validate is skipped; the previous
// configuration stays in effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		// Default configuration with no backing file; nothing to watch
		<-ctx.Done()
		return ctx.Err()
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				// File may be mid-replace; try again next tick
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()

			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)
		}
	}
}
