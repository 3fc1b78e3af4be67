// Package retention prunes aged event-correlation records: hung-up
// channels, their auxiliary data and inactive calls past their keep
// windows.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/settings"
)

// Vacuum removes records past the retention windows of the current
// settings snapshot. Aged channels are removed even when still flagged
// active: a channel that old is a zombie from a missed hangup. Calls are
// only removed once finished. A zero window disables pruning of that
// record kind.
type Vacuum struct {
	channels database.ChannelRepository
	chanData database.ChannelDataRepository
	calls    database.CallRepository
	store    *settings.Store
}

// New creates a Vacuum.
func New(channels database.ChannelRepository, chanData database.ChannelDataRepository, calls database.CallRepository, store *settings.Store) *Vacuum {
	return &Vacuum{channels: channels, chanData: chanData, calls: calls, store: store}
}

// Run executes one pruning pass.
func (v *Vacuum) Run(ctx context.Context) {
	snap := v.store.Snapshot()

	if snap.ChannelsKeepHours > 0 {
		age := time.Duration(snap.ChannelsKeepHours) * time.Hour
		if n, err := v.channels.DeleteOlderThan(ctx, age); err != nil {
			slog.Error("channel vacuum failed", "error", err)
		} else if n > 0 {
			slog.Info("vacuumed channels", "deleted", n, "keep_hours", snap.ChannelsKeepHours)
		}
		if n, err := v.chanData.DeleteOlderThan(ctx, age); err != nil {
			slog.Error("channel data vacuum failed", "error", err)
		} else if n > 0 {
			slog.Info("vacuumed channel data", "deleted", n, "keep_hours", snap.ChannelsKeepHours)
		}
	}

	if snap.CallsKeepDays > 0 {
		age := time.Duration(snap.CallsKeepDays) * 24 * time.Hour
		if n, err := v.calls.DeleteInactiveOlderThan(ctx, age); err != nil {
			slog.Error("call vacuum failed", "error", err)
		} else if n > 0 {
			slog.Info("vacuumed calls", "deleted", n, "keep_days", snap.CallsKeepDays)
		}
	}
}

// StartTicker runs pruning passes on the given interval until the context
// is cancelled.
func (v *Vacuum) StartTicker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.Run(ctx)
			}
		}
	}()
}
