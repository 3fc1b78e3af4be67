package recording

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/settings"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// recordings older than the recordings_keep_days setting, rows and files
// both. A zero setting disables cleanup. The goroutine stops when the
// provided context is cancelled.
func StartCleanupTicker(ctx context.Context, recordings database.RecordingRepository, store *settings.Store, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				keepDays := store.Snapshot().RecordingsKeepDays
				if keepDays <= 0 {
					continue
				}

				paths, err := recordings.DeleteOlderThan(ctx, time.Duration(keepDays)*24*time.Hour)
				if err != nil {
					slog.Error("recording retention cleanup failed", "error", err)
					continue
				}
				if len(paths) == 0 {
					continue
				}

				slog.Info("recording retention cleanup", "deleted", len(paths), "keep_days", keepDays)

				for _, p := range paths {
					if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
						slog.Warn("failed to remove recording file", "path", p, "error", err)
					}
				}
			}
		}
	}()
}
