package correlator

import (
	"context"
	"fmt"
	"time"

	"github.com/pbxlink/pbxlink/internal/ami"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// Registry tracks active channel records and resolves linked/parent channel
// relationships on top of the channel repository. All writes are idempotent
// upserts keyed by unique id among active rows, so duplicate event delivery
// never creates a second channel.
type Registry struct {
	channels database.ChannelRepository
	retry    RetryPolicy
}

// NewRegistry creates a Registry.
func NewRegistry(channels database.ChannelRepository, retry RetryPolicy) *Registry {
	return &Registry{channels: channels, retry: retry}
}

// Upsert finds the unique active channel for the event's id and merges the
// event's fields into it, or creates a new active channel when none exists.
func (r *Registry) Upsert(ctx context.Context, ev *ami.Event, userID *int64) (*models.Channel, error) {
	ch, err := r.channels.GetActiveByUniqueID(ctx, ev.UniqueID)
	if err != nil {
		return nil, err
	}

	if ch == nil {
		ch = &models.Channel{UniqueID: ev.UniqueID, IsActive: true}
		mergeEvent(ch, ev)
		if userID != nil {
			ch.UserID = userID
		}
		if err := r.channels.Create(ctx, ch); err != nil {
			return nil, fmt.Errorf("creating channel %s: %w", ev.Channel, err)
		}
		return ch, nil
	}

	mergeEvent(ch, ev)
	if userID != nil {
		ch.UserID = userID
	}
	if err := r.channels.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("updating channel %s: %w", ev.Channel, err)
	}
	return ch, nil
}

// FindActive looks up a channel by id among active channels only.
func (r *Registry) FindActive(ctx context.Context, uniqueID string) (*models.Channel, error) {
	return r.channels.GetActiveByUniqueID(ctx, uniqueID)
}

// WaitActive looks up an active channel by id, retrying within the bounded
// policy when it does not exist yet. Returns the channel (nil on
// exhaustion) and the number of attempts made.
func (r *Registry) WaitActive(ctx context.Context, uniqueID string) (*models.Channel, int, error) {
	var ch *models.Channel
	_, attempts, err := r.retry.Wait(func() (bool, error) {
		found, err := r.channels.GetActiveByUniqueID(ctx, uniqueID)
		if err != nil {
			return false, err
		}
		ch = found
		return found != nil, nil
	})
	return ch, attempts, err
}

// FindLinked looks up the primary channel for a linked id.
func (r *Registry) FindLinked(ctx context.Context, linkedID string) (*models.Channel, error) {
	return r.channels.GetActiveByUniqueID(ctx, linkedID)
}

// ApplyHangup merges the hangup event's fields into the channel and
// deactivates it with its cause in a single write, so a crash between
// events never leaves a half-closed channel.
func (r *Registry) ApplyHangup(ctx context.Context, ch *models.Channel, ev *ami.Event) error {
	mergeEvent(ch, ev)
	ch.Cause = ev.Cause
	ch.CauseTxt = ev.CauseTxt
	t := ev.Time()
	ch.HangupDate = &t
	ch.IsActive = false
	if err := r.channels.Update(ctx, ch); err != nil {
		return fmt.Errorf("closing channel %s: %w", ch.Name, err)
	}
	return nil
}

// Deactivate marks a channel inactive and stores its final hangup fields
// atomically with the rest of the hangup update.
func (r *Registry) Deactivate(ctx context.Context, ch *models.Channel, cause, causeTxt string, at time.Time) error {
	if err := r.channels.Deactivate(ctx, ch.ID, cause, causeTxt, at); err != nil {
		return err
	}
	ch.IsActive = false
	ch.Cause = cause
	ch.CauseTxt = causeTxt
	ch.HangupDate = &at
	return nil
}

// mergeEvent overwrites the channel attributes the event carries; fields a
// given event type never sends stay untouched.
func mergeEvent(ch *models.Channel, ev *ami.Event) {
	t := ev.Time()
	ch.EventTime = &t
	ch.Event = ev.Event
	if ev.Channel != "" {
		ch.Name = ev.Channel
	}
	if ev.LinkedID != "" {
		ch.LinkedID = ev.LinkedID
	}
	if ev.ChannelState != "" {
		ch.State = ev.ChannelState
	}
	if ev.ChannelStateDesc != "" {
		ch.StateDesc = ev.ChannelStateDesc
	}
	if ev.CallerIDNum != "" {
		ch.CallerIDNum = ev.CallerIDNum
	}
	if ev.CallerIDName != "" {
		ch.CallerIDName = ev.CallerIDName
	}
	if ev.ConnectedLineNum != "" {
		ch.ConnectedLineNum = ev.ConnectedLineNum
	}
	if ev.ConnectedLineName != "" {
		ch.ConnectedLineName = ev.ConnectedLineName
	}
	if ev.Context != "" {
		ch.Context = ev.Context
	}
	if ev.Exten != "" {
		ch.Exten = ev.Exten
	}
	if ev.Priority != "" {
		ch.Priority = ev.Priority
	}
	if ev.AccountCode != "" {
		ch.AccountCode = ev.AccountCode
	}
	if ev.Language != "" {
		ch.Language = ev.Language
	}
	if ev.Application != "" {
		ch.App = ev.Application
	}
	if ev.ApplicationData != "" {
		ch.AppData = ev.ApplicationData
	}
}
