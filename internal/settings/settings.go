// Package settings exposes runtime-tunable parameters stored in the
// system_config table. Event handlers read an immutable snapshot so one
// event is processed under one consistent view; the snapshot is rebuilt
// only on explicit invalidation.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pbxlink/pbxlink/internal/database"
)

// Setting keys.
const (
	KeyRecordCalls        = "record_calls"
	KeyAutoReloadCalls    = "auto_reload_calls"
	KeyAutoReloadChannels = "auto_reload_channels"
	KeyAutoCreatePartners = "auto_create_partners"
	KeyPermitIPAddresses  = "permit_ip_addresses"
	KeyOriginateContext   = "originate_context"
	KeyOriginateTimeout   = "originate_timeout"
	KeyMaxExtenLength     = "max_exten_length"
	KeyCallsKeepDays      = "calls_keep_days"
	KeyChannelsKeepHours  = "channels_keep_hours"
	KeyRecordingsKeepDays = "recordings_keep_days"
)

// Snapshot is an immutable view of all settings.
type Snapshot struct {
	RecordCalls        bool
	AutoReloadCalls    bool
	AutoReloadChannels bool
	AutoCreatePartners bool
	// PermitIPAddresses is a comma-separated allowlist for the agent
	// endpoints; empty allows any address.
	PermitIPAddresses string
	OriginateContext  string
	OriginateTimeout  time.Duration
	// MaxExtenLength is the short-extension threshold for direction
	// inference: caller ids no longer than this look like internal
	// extensions.
	MaxExtenLength     int
	CallsKeepDays      int
	ChannelsKeepHours  int
	RecordingsKeepDays int
}

// Store loads snapshots from the config repository.
type Store struct {
	repo database.SystemConfigRepository

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a Store and loads the initial snapshot.
func New(ctx context.Context, repo database.SystemConfigRepository) (*Store, error) {
	s := &Store{repo: repo}
	if err := s.Invalidate(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return s, nil
}

// Snapshot returns the current immutable settings view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Invalidate rebuilds the snapshot from storage. The collaborator owning a
// setting calls this after changing it.
func (s *Store) Invalidate(ctx context.Context) error {
	snap := Snapshot{
		AutoReloadCalls:    true,
		AutoReloadChannels: true,
		OriginateContext:   "from-internal",
		OriginateTimeout:   60 * time.Second,
		MaxExtenLength:     5,
		CallsKeepDays:      365,
		ChannelsKeepHours:  24,
		RecordingsKeepDays: 0,
	}

	entries, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("reading system config: %w", err)
	}

	for _, e := range entries {
		switch e.Key {
		case KeyRecordCalls:
			snap.RecordCalls = parseBool(e.Value)
		case KeyAutoReloadCalls:
			snap.AutoReloadCalls = parseBool(e.Value)
		case KeyAutoReloadChannels:
			snap.AutoReloadChannels = parseBool(e.Value)
		case KeyAutoCreatePartners:
			snap.AutoCreatePartners = parseBool(e.Value)
		case KeyPermitIPAddresses:
			snap.PermitIPAddresses = e.Value
		case KeyOriginateContext:
			if e.Value != "" {
				snap.OriginateContext = e.Value
			}
		case KeyOriginateTimeout:
			if v, err := strconv.Atoi(e.Value); err == nil && v > 0 {
				snap.OriginateTimeout = time.Duration(v) * time.Second
			}
		case KeyMaxExtenLength:
			if v, err := strconv.Atoi(e.Value); err == nil && v > 0 {
				snap.MaxExtenLength = v
			}
		case KeyCallsKeepDays:
			if v, err := strconv.Atoi(e.Value); err == nil && v >= 0 {
				snap.CallsKeepDays = v
			}
		case KeyChannelsKeepHours:
			if v, err := strconv.Atoi(e.Value); err == nil && v >= 0 {
				snap.ChannelsKeepHours = v
			}
		case KeyRecordingsKeepDays:
			if v, err := strconv.Atoi(e.Value); err == nil && v >= 0 {
				snap.RecordingsKeepDays = v
			}
		}
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Set writes a setting and refreshes the snapshot.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	return s.Invalidate(ctx)
}

func parseBool(v string) bool {
	switch v {
	case "1", "true", "True", "yes", "on":
		return true
	}
	return false
}
