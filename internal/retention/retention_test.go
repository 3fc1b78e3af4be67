package retention

import (
	"context"
	"testing"
	"time"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
	"github.com/pbxlink/pbxlink/internal/settings"
)

func TestVacuumRun(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	channels := database.NewChannelRepository(db)
	chanData := database.NewChannelDataRepository(db)
	calls := database.NewCallRepository(db)
	store, err := settings.New(ctx, database.NewSystemConfigRepository(db))
	if err != nil {
		t.Fatalf("loading settings: %v", err)
	}

	ch := &models.Channel{UniqueID: "c1", Name: "PJSIP/101-00000001", LinkedID: "c1"}
	if err := channels.Create(ctx, ch); err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	if err := chanData.Put(ctx, &ch.ID, "c1", "recording_file_path", "/tmp/x.wav"); err != nil {
		t.Fatalf("creating channel data: %v", err)
	}

	started := time.Now().UTC()
	active := &models.Call{UniqueID: "c1", Direction: models.DirectionIn,
		Status: models.StatusProgress, Started: &started, IsActive: true}
	if err := calls.Create(ctx, active); err != nil {
		t.Fatalf("creating call: %v", err)
	}

	// Fresh records survive the default windows.
	New(channels, chanData, calls, store).Run(ctx)

	if ch2, err := channels.GetByUniqueID(ctx, "c1"); err != nil || ch2 == nil {
		t.Fatalf("fresh channel vacuumed: %v", err)
	}
	if got, err := calls.CountActive(ctx); err != nil || got != 1 {
		t.Fatalf("active calls = %d (%v), want 1", got, err)
	}
}

func TestVacuumZeroWindowsDisable(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	channels := database.NewChannelRepository(db)
	chanData := database.NewChannelDataRepository(db)
	calls := database.NewCallRepository(db)
	cfg := database.NewSystemConfigRepository(db)
	store, err := settings.New(ctx, cfg)
	if err != nil {
		t.Fatalf("loading settings: %v", err)
	}
	if err := store.Set(ctx, settings.KeyChannelsKeepHours, "0"); err != nil {
		t.Fatalf("disabling channel retention: %v", err)
	}
	if err := store.Set(ctx, settings.KeyCallsKeepDays, "0"); err != nil {
		t.Fatalf("disabling call retention: %v", err)
	}

	ch := &models.Channel{UniqueID: "c1", Name: "PJSIP/101-00000001", LinkedID: "c1"}
	if err := channels.Create(ctx, ch); err != nil {
		t.Fatalf("creating channel: %v", err)
	}

	New(channels, chanData, calls, store).Run(ctx)

	if ch2, err := channels.GetByUniqueID(ctx, "c1"); err != nil || ch2 == nil {
		t.Fatalf("channel vacuumed with retention disabled: %v", err)
	}
}
