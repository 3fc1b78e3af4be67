// Package recording retrieves call recordings written by the switch and
// files them under the server's recordings directory. Retrieval runs off
// the event-handling path: the correlator only hands over the hung-up
// channel and the service does the rest in the background.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pbxlink/pbxlink/internal/correlator"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// pathKey is the channel data key the correlator stores the switch-side
// recording path under.
const pathKey = "recording_file_path"

// Fetcher retrieves the raw recording bytes for a switch-side file path.
type Fetcher interface {
	Fetch(ctx context.Context, sourcePath string) ([]byte, error)
}

// LocalFetcher reads recordings straight from the filesystem, for setups
// where the switch spool is mounted on this host.
type LocalFetcher struct{}

// Fetch implements Fetcher.
func (LocalFetcher) Fetch(_ context.Context, sourcePath string) ([]byte, error) {
	return os.ReadFile(sourcePath)
}

// Service saves call recordings. The switch reports the file path via a
// channel variable which may land after the hangup, so the service waits
// for the path with the same bounded retry the correlator uses.
type Service struct {
	chanData   database.ChannelDataRepository
	recordings database.RecordingRepository
	fetcher    Fetcher
	dir        string
	retry      correlator.RetryPolicy
	// DeleteSource removes the switch-side file after a successful save.
	DeleteSource bool

	wg sync.WaitGroup
}

// New creates a recording Service storing files under dir.
func New(chanData database.ChannelDataRepository, recordings database.RecordingRepository, fetcher Fetcher, dir string) *Service {
	return &Service{
		chanData:   chanData,
		recordings: recordings,
		fetcher:    fetcher,
		dir:        dir,
		retry:      correlator.DefaultRetryPolicy(),
	}
}

// Request schedules retrieval of the recording for a hung-up channel.
// Never blocks.
func (s *Service) Request(ch *models.Channel, call *models.Call) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.save(context.Background(), ch, call); err != nil {
			slog.Error("saving call recording failed", "channel", ch.Name, "error", err)
		}
	}()
}

// Wait blocks until all scheduled retrievals finished. Called on shutdown
// and from tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) save(ctx context.Context, ch *models.Channel, call *models.Call) error {
	var sourcePath string
	found, _, err := s.retry.Wait(func() (bool, error) {
		p, err := s.chanData.GetByUniqueID(ctx, ch.UniqueID, pathKey)
		if err != nil {
			return false, err
		}
		sourcePath = p
		return p != "", nil
	})
	if err != nil {
		return err
	}
	if !found {
		slog.Debug("no recording path reported", "channel", ch.Name, "unique_id", ch.UniqueID)
		return nil
	}

	data, err := s.fetcher.Fetch(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", sourcePath, err)
	}

	fileName := fmt.Sprintf("%s-%s%s",
		time.Now().UTC().Format("20060102-150405"), ch.UniqueID, extensionOf(sourcePath))
	destPath := filepath.Join(s.dir, fileName)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating recordings directory: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}

	rec := &models.Recording{
		UniqueID:  ch.UniqueID,
		ChannelID: &ch.ID,
		FileName:  fileName,
		FilePath:  destPath,
	}
	if call != nil {
		rec.CallID = &call.ID
		rec.PartnerID = call.PartnerID
		rec.CallingNumber = call.CallingNumber
		rec.CalledNumber = call.CalledNumber
		rec.Answered = call.Answered
	}
	if err := s.recordings.Create(ctx, rec); err != nil {
		// Keep the file; the row can be reconciled by hand.
		return fmt.Errorf("storing recording row: %w", err)
	}

	if s.DeleteSource {
		if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("removing switch-side recording failed", "path", sourcePath, "error", err)
		}
	}

	slog.Info("call recording saved", "channel", ch.Name, "file", fileName, "bytes", len(data))
	return nil
}

func extensionOf(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".wav"
}
