// Package correlator reconstructs calls from the asynchronous channel event
// stream. Events for one channel arrive in order, events for different
// channels do not; the correlator tolerates secondary-before-primary
// delivery with a bounded retry and keeps every write idempotent so
// duplicate delivery never duplicates calls, channels or audit rows.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pbxlink/pbxlink/internal/ami"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
	"github.com/pbxlink/pbxlink/internal/notify"
	"github.com/pbxlink/pbxlink/internal/reference"
	"github.com/pbxlink/pbxlink/internal/resolver"
	"github.com/pbxlink/pbxlink/internal/settings"
)

// recordingKey is the channel data key holding the recording file path
// reported by the switch via VarSet.
const recordingKey = "recording_file_path"

// mixmonitorVariable is the channel variable carrying the recording path.
const mixmonitorVariable = "MIXMONITOR_FILENAME"

// RecordingService requests asynchronous retrieval of a call recording
// after the synchronous event handling path completes.
type RecordingService interface {
	Request(ch *models.Channel, call *models.Call)
}

// Deps are the collaborators of the Correlator. Recordings may be nil.
type Deps struct {
	Channels    database.ChannelRepository
	Calls       database.CallRepository
	Events      database.CallEventRepository
	ChannelData database.ChannelDataRepository
	Users       resolver.UserResolver
	Partners    resolver.PartnerResolver
	References  *reference.Registry
	Notifier    notify.Notifier
	Recordings  RecordingService
	Settings    *settings.Store
	Retry       RetryPolicy
}

// Correlator maps arriving channel events to call aggregates. Collaborator
// failures (resolver, notifier, recording) are logged and never abort the
// channel/call state update.
type Correlator struct {
	registry   *Registry
	channels   database.ChannelRepository
	calls      database.CallRepository
	events     database.CallEventRepository
	chanData   database.ChannelDataRepository
	users      resolver.UserResolver
	partners   resolver.PartnerResolver
	refs       *reference.Registry
	notifier   notify.Notifier
	recordings RecordingService
	settings   *settings.Store
	retry      RetryPolicy

	countsMu    sync.Mutex
	eventCounts map[string]uint64
	misses      atomic.Uint64
	retryWaits  atomic.Uint64
}

// New creates a Correlator. A zero Retry policy falls back to the default.
func New(deps Deps) *Correlator {
	retry := deps.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Correlator{
		registry:    NewRegistry(deps.Channels, retry),
		channels:    deps.Channels,
		calls:       deps.Calls,
		events:      deps.Events,
		chanData:    deps.ChannelData,
		users:       deps.Users,
		partners:    deps.Partners,
		refs:        deps.References,
		notifier:    notifier,
		recordings:  deps.Recordings,
		settings:    deps.Settings,
		retry:       retry,
		eventCounts: make(map[string]uint64),
	}
}

// OnNewChannel handles a NewChannel event: upserts the channel, decides
// call creation vs attachment and infers the call direction.
func (c *Correlator) OnNewChannel(ctx context.Context, ev *ami.Event) (int64, string, error) {
	if err := ev.Validate(); err != nil {
		return 0, "", err
	}
	c.countEvent(ev.Event)
	snap := c.settings.Snapshot()

	user := c.lookupUser(ctx, ev.Channel)
	var userID *int64
	if user != nil {
		userID = &user.ID
		slog.Debug("matched pbx user", "channel", ev.Channel, "user_id", user.ID)
	}

	ch, err := c.registry.Upsert(ctx, ev, userID)
	if err != nil {
		return 0, "", err
	}

	if ch.NoCall {
		// Utility channel, e.g. spy/whisper. Never spawns a call.
		c.reloadChannels(ctx, snap)
		return ch.ID, fmt.Sprintf("%s Newchannel ACK", ev.Channel), nil
	}

	var call *models.Call
	if ev.IsPrimary() {
		call, err = c.primaryCall(ctx, ev, user, snap)
	} else {
		call, err = c.secondaryCall(ctx, ev, user)
	}
	if err != nil {
		return 0, "", err
	}

	if call != nil {
		if err := c.channels.SetCall(ctx, ch.ID, call.ID); err != nil {
			return 0, "", err
		}
		ch.CallID = &call.ID

		c.updateCallPartner(ctx, ch, call, snap)
		c.updateCalledUsers(ctx, ch, call, user)
	}

	c.reloadChannels(ctx, snap)
	if call == nil {
		return ch.ID, fmt.Sprintf("%s unlinked channel", ev.Channel), nil
	}
	return ch.ID, fmt.Sprintf("Call ID: %d", call.ID), nil
}

// primaryCall finds or creates the call for a primary channel. A call may
// already exist when it was pre-created by click-to-dial.
func (c *Correlator) primaryCall(ctx context.Context, ev *ami.Event, user *models.PBXUser, snap settings.Snapshot) (*models.Call, error) {
	call, err := c.calls.GetActiveByUniqueID(ctx, ev.UniqueID)
	if err != nil {
		return nil, err
	}
	if call != nil {
		slog.Debug("found existing call", "channel", ev.Channel, "call_id", call.ID)
		return call, nil
	}

	direction := InferDirection(user != nil, ev.CallerIDNum, snap.MaxExtenLength)
	started := ev.Time()
	call = &models.Call{
		UniqueID:      ev.UniqueID,
		CallingNumber: ev.CallerIDNum,
		CallingName:   ev.CallerIDName,
		CalledNumber:  ev.Exten,
		Direction:     direction,
		Status:        models.StatusProgress,
		Started:       &started,
		IsActive:      true,
	}
	if direction == models.DirectionOut && user != nil {
		call.CallingUserID = &user.ID
	}
	if err := c.calls.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("creating call for %s: %w", ev.Channel, err)
	}
	slog.Debug("spawned call", "channel", ev.Channel, "call_id", call.ID, "direction", direction)
	return call, nil
}

// secondaryCall locates the call of a secondary channel through its linked
// id, waiting out the race with the primary channel's handler, and fixes
// the call direction when the secondary leg lands on a PBX user.
func (c *Correlator) secondaryCall(ctx context.Context, ev *ami.Event, user *models.PBXUser) (*models.Call, error) {
	call, err := c.calls.GetByUniqueID(ctx, ev.LinkedID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		// The primary channel's event has not been processed yet.
		found, attempts, werr := c.retry.Wait(func() (bool, error) {
			found, err := c.calls.GetByUniqueID(ctx, ev.LinkedID)
			if err != nil {
				return false, err
			}
			call = found
			if call == nil {
				slog.Warn("call not found yet, waiting", "channel", ev.Channel, "linked_id", ev.LinkedID)
			}
			return call != nil, nil
		})
		c.addRetryWaits(attempts)
		if werr != nil {
			return nil, werr
		}
		if !found {
			c.misses.Add(1)
			slog.Error("call not found, creating unlinked channel",
				"channel", ev.Channel, "linked_id", ev.LinkedID)
			return nil, nil
		}
		slog.Debug("call found after retries", "channel", ev.Channel, "attempts", attempts)
	}

	switch {
	case ShouldFlipInbound(user != nil, call.Direction):
		// A leg delivered to an internal user means the call came from
		// outside.
		if err := c.calls.SetDirection(ctx, call.ID, models.DirectionIn); err != nil {
			return nil, err
		}
		call.Direction = models.DirectionIn
		slog.Debug("direction changed to incoming", "channel", ev.Channel, "call_id", call.ID)
	case user == nil && call.CallingUserID != nil:
		// Click-to-dial: the primary channel carries the calling user,
		// leave the direction alone.
		slog.Debug("keeping direction, calling user set on primary", "call_id", call.ID)
	}
	return call, nil
}

// OnStateChange handles a Newstate event: merges channel fields, links the
// call through the primary channel when still missing, appends the audit
// row and marks the call answered when a secondary leg reaches Up.
func (c *Correlator) OnStateChange(ctx context.Context, ev *ami.Event) (int64, string, error) {
	if err := ev.Validate(); err != nil {
		return 0, "", err
	}
	c.countEvent(ev.Event)

	existing, attempts, err := c.registry.WaitActive(ctx, ev.UniqueID)
	c.addRetryWaits(attempts)
	if err != nil {
		return 0, "", err
	}
	if existing == nil {
		c.misses.Add(1)
		slog.Error("channel not found, discarding event", "channel", ev.Channel, "unique_id", ev.UniqueID)
		return 0, fmt.Sprintf("%s not found, discard event", ev.Channel), nil
	}

	ch, err := c.registry.Upsert(ctx, ev, nil)
	if err != nil {
		return 0, "", err
	}

	// Get the call from the linked channel if it is not set yet.
	if !ch.NoCall && ch.CallID == nil && !ch.IsPrimary() {
		linked, attempts, err := c.registry.WaitActive(ctx, ch.LinkedID)
		c.addRetryWaits(attempts)
		if err != nil {
			return 0, "", err
		}
		if linked != nil && linked.CallID != nil {
			if err := c.channels.SetCall(ctx, ch.ID, *linked.CallID); err != nil {
				return 0, "", err
			}
			ch.CallID = linked.CallID
			slog.Debug("got call from linked channel", "channel", ev.Channel, "call_id", *linked.CallID)
		}
	}

	if ch.NoCall {
		return ch.ID, fmt.Sprintf("%s Newstate ACK", ev.Channel), nil
	}
	if ch.CallID == nil {
		c.misses.Add(1)
		slog.Error("failed to match a call", "channel", ev.Channel, "channel_id", ch.ID)
		return ch.ID, fmt.Sprintf("%s failed to match a call", ev.Channel), nil
	}

	call, err := c.calls.GetByID(ctx, *ch.CallID)
	if err != nil {
		return 0, "", err
	}
	if call == nil {
		return ch.ID, fmt.Sprintf("%s failed to match a call", ev.Channel), nil
	}

	c.appendEvent(ctx, call.ID, fmt.Sprintf("Channel %s status is %s", ch.ShortName(), ev.ChannelStateDesc))

	// Caller id update on the calling leg.
	if call.UniqueID == ch.UniqueID && ch.CallerIDNum != "" && call.CallingNumber != ch.CallerIDNum {
		slog.Debug("calling number changed", "from", call.CallingNumber, "to", ch.CallerIDNum)
		if err := c.calls.SetCallingNumber(ctx, call.ID, ch.CallerIDNum); err != nil {
			return 0, "", err
		}
	}

	// Only a secondary leg reaching Up marks the call answered: the called
	// party picked up. Primary-channel state changes never do.
	if call.UniqueID != ch.UniqueID && ch.StateDesc == stateUp {
		var answeredUserID *int64
		if user := c.lookupUser(ctx, ev.Channel); user != nil {
			answeredUserID = &user.ID
		} else if ch.UserID != nil {
			answeredUserID = ch.UserID
		}
		if err := c.calls.SetAnswered(ctx, call.ID, ev.Time(), answeredUserID); err != nil {
			return 0, "", err
		}
	}

	return ch.ID, fmt.Sprintf("%s Newstate ACK", ev.Channel), nil
}

// OnHangup handles a Hangup event: deactivates the channel with its final
// fields and, for the primary channel, finalizes the call with its
// disposition.
func (c *Correlator) OnHangup(ctx context.Context, ev *ami.Event) (int64, string, error) {
	if err := ev.Validate(); err != nil {
		return 0, "", err
	}
	c.countEvent(ev.Event)
	snap := c.settings.Snapshot()

	ch, err := c.registry.FindActive(ctx, ev.UniqueID)
	if err != nil {
		return 0, "", err
	}
	if ch == nil {
		slog.Warn("channel not found for hangup", "channel", ev.Channel, "unique_id", ev.UniqueID)
		return 0, fmt.Sprintf("%s Hangup: not found", ev.Channel), nil
	}

	if err := c.registry.ApplyHangup(ctx, ch, ev); err != nil {
		return 0, "", err
	}

	if ch.NoCall {
		c.reloadChannels(ctx, snap)
		return ch.ID, fmt.Sprintf("%s Hangup ACK", ev.Channel), nil
	}

	var call *models.Call
	if ch.CallID != nil {
		call, err = c.calls.GetByID(ctx, *ch.CallID)
		if err != nil {
			return 0, "", err
		}
	}

	// Only the primary channel's hangup finalizes the call.
	if ev.IsPrimary() && call != nil {
		if ch.CallerIDNum != "" && call.CallingNumber != ch.CallerIDNum {
			slog.Debug("calling number changed", "from", call.CallingNumber, "to", ch.CallerIDNum)
			if err := c.calls.SetCallingNumber(ctx, call.ID, ch.CallerIDNum); err != nil {
				return 0, "", err
			}
		}

		status := ""
		if call.Status != models.StatusAnswered {
			count, cerr := c.channels.CountByCallID(ctx, call.ID)
			if cerr != nil {
				slog.Error("counting call channels failed", "call_id", call.ID, "error", cerr)
				count = 1
			}
			status = Disposition(false, ev.Cause, ev.CauseTxt, ch.StateDesc, count)
		}
		if err := c.calls.Finalize(ctx, call.ID, status, ev.Time()); err != nil {
			return 0, "", err
		}
		slog.Debug("call finalized", "call_id", call.ID, "status", status)
		c.reloadCalls(ctx, snap)
	}

	if call != nil {
		c.appendEvent(ctx, call.ID, fmt.Sprintf("Channel %s hangup", ch.ShortName()))
	}

	c.reloadChannels(ctx, snap)

	// Recording retrieval is an off-path asynchronous job; it must not
	// block event processing.
	if snap.RecordCalls && ev.IsPrimary() && c.recordings != nil {
		c.recordings.Request(ch, call)
	}

	return ch.ID, fmt.Sprintf("%s Hangup ACK", ev.Channel), nil
}

// OnOriginateFailure handles a failed OriginateResponse: call setup died
// before any Hangup event. The reported bool is false when the event was
// ignored.
func (c *Correlator) OnOriginateFailure(ctx context.Context, ev *ami.Event) (int64, bool, error) {
	if err := ev.Validate(); err != nil {
		return 0, false, err
	}
	c.countEvent(ev.Event)

	if ev.Response != "Failure" {
		slog.Debug("ignoring originate response", "response", ev.Response, "unique_id", ev.UniqueID)
		return 0, false, nil
	}

	ch, err := c.registry.FindActive(ctx, ev.UniqueID)
	if err != nil {
		return 0, false, err
	}
	if ch == nil {
		slog.Warn("channel not found for originate response", "unique_id", ev.UniqueID)
		return 0, false, nil
	}
	if ch.Cause != "" {
		// Response arrived after the Hangup already closed the channel.
		return ch.ID, true, nil
	}

	if err := c.registry.Deactivate(ctx, ch, ev.Reason, ev.Response, ev.Time()); err != nil {
		return 0, false, err
	}

	if ch.CallID != nil {
		if err := c.calls.Finalize(ctx, *ch.CallID, models.StatusFailed, ev.Time()); err != nil {
			return 0, false, err
		}
		if err := c.channels.DeactivateByCallID(ctx, *ch.CallID); err != nil {
			slog.Error("deactivating call channels failed", "call_id", *ch.CallID, "error", err)
		}
		call, gerr := c.calls.GetByID(ctx, *ch.CallID)
		if gerr != nil {
			slog.Error("loading call after originate failure", "call_id", *ch.CallID, "error", gerr)
		}
		// Tell the click-to-dial user their call never went out.
		if call != nil && call.RefModel != "" && call.CallingUserID != nil {
			reason := ev.Reason
			if reason == "0" {
				reason = "Calling user SIP phone is not registered or call declined."
			}
			c.notifyUser(ctx, *call.CallingUserID, fmt.Sprintf("Call failed, reason: %s", reason), true)
		}
	}

	return ch.ID, true, nil
}

// OnVarSetRecordingFilename handles a VarSet event carrying the recording
// path. The value is stashed as channel data until the hangup path asks
// for it; when the channel is not resolvable yet the entry is keyed by the
// bare unique id and the event is still reported handled, so the agent
// does not redeliver it. The recording fetch falls back to a unique-id
// lookup when the channel row arrives later.
func (c *Correlator) OnVarSetRecordingFilename(ctx context.Context, ev *ami.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	c.countEvent(ev.Event)

	if ev.Variable != mixmonitorVariable {
		return false, nil
	}

	ch, err := c.channels.GetByUniqueID(ctx, ev.UniqueID)
	if err != nil {
		return false, err
	}

	var channelID *int64
	if ch != nil {
		channelID = &ch.ID
	} else {
		slog.Warn("channel not found for recording path, keying by unique id", "unique_id", ev.UniqueID)
	}
	if err := c.chanData.Put(ctx, channelID, ev.UniqueID, recordingKey, ev.Value); err != nil {
		return false, err
	}
	return true, nil
}

// updateCallPartner attaches a business contact to the call, latched on an
// already-set partner. Primary incoming calls match by caller id, primary
// outgoing calls by dialed extension, secondary channels never match. A
// reference with an owning partner wins over number lookup.
func (c *Correlator) updateCallPartner(ctx context.Context, ch *models.Channel, call *models.Call, snap settings.Snapshot) {
	if call.PartnerID != nil {
		slog.Debug("partner already set", "call_id", call.ID)
		return
	}
	if !ch.IsPrimary() {
		return
	}

	var partnerID int64
	if call.RefModel != "" && c.refs != nil {
		ref, err := c.refs.Resolve(ctx, call.RefModel, call.RefID)
		if err != nil {
			slog.Warn("reference lookup failed", "model", call.RefModel, "id", call.RefID, "error", err)
		} else if ref != nil {
			partnerID = ref.GetOwningPartnerID()
		}
	}

	if partnerID == 0 {
		number := ch.CallerIDNum
		if call.Direction == models.DirectionOut {
			number = ch.Exten
		}
		p, err := c.partners.PartnerForNumber(ctx, number)
		if err != nil {
			slog.Warn("partner lookup failed", "number", number, "error", err)
			return
		}
		if p != nil {
			partnerID = p.ID
		} else if call.Direction == models.DirectionIn && snap.AutoCreatePartners && number != "" {
			created, cerr := c.partners.CreatePartner(ctx, number)
			if cerr != nil {
				slog.Warn("auto-creating partner failed", "number", number, "error", cerr)
			} else {
				partnerID = created.ID
				slog.Debug("auto-created partner", "call_id", call.ID, "partner_id", partnerID)
			}
		}
	}

	if partnerID == 0 {
		slog.Debug("partner not found", "call_id", call.ID)
		return
	}
	if err := c.calls.SetPartner(ctx, call.ID, partnerID); err != nil {
		slog.Error("setting call partner failed", "call_id", call.ID, "error", err)
		return
	}
	call.PartnerID = &partnerID
}

// updateCalledUsers adds the user of a secondary channel to the call's
// called-users set and pops an incoming-call alert for them.
func (c *Correlator) updateCalledUsers(ctx context.Context, ch *models.Channel, call *models.Call, user *models.PBXUser) {
	if ch.UniqueID == call.UniqueID || user == nil {
		return
	}
	if err := c.calls.AddCalledUser(ctx, call.ID, user.ID); err != nil {
		slog.Error("adding called user failed", "call_id", call.ID, "user_id", user.ID, "error", err)
		return
	}
	if user.CallPopupEnabled {
		c.notifyUser(ctx, user.ID, fmt.Sprintf("Incoming call from %s", call.CallingNumber), false)
	}
}

// lookupUser resolves the PBX user for a channel name. Resolver failures
// are downstream failures: logged, never fatal.
func (c *Correlator) lookupUser(ctx context.Context, channelName string) *models.PBXUser {
	user, err := c.users.UserForChannel(ctx, channelName)
	if err != nil {
		slog.Warn("user lookup failed", "channel", channelName, "error", err)
		return nil
	}
	return user
}

// appendEvent writes an audit row; failures are logged, never fatal.
func (c *Correlator) appendEvent(ctx context.Context, callID int64, text string) {
	if err := c.events.Append(ctx, callID, text); err != nil {
		slog.Error("appending call event failed", "call_id", callID, "error", err)
	}
}

func (c *Correlator) notifyUser(ctx context.Context, userID int64, message string, warning bool) {
	if err := c.notifier.NotifyUser(ctx, userID, message, warning); err != nil {
		slog.Warn("user notification failed", "user_id", userID, "error", err)
	}
}

func (c *Correlator) reloadChannels(ctx context.Context, snap settings.Snapshot) {
	if !snap.AutoReloadChannels {
		return
	}
	if err := c.notifier.ReloadView(ctx, notify.ViewChannels); err != nil {
		slog.Warn("channel reload notification failed", "error", err)
	}
}

func (c *Correlator) reloadCalls(ctx context.Context, snap settings.Snapshot) {
	if !snap.AutoReloadCalls {
		return
	}
	if err := c.notifier.ReloadView(ctx, notify.ViewCalls); err != nil {
		slog.Warn("call reload notification failed", "error", err)
	}
}

func (c *Correlator) countEvent(event string) {
	c.countsMu.Lock()
	c.eventCounts[event]++
	c.countsMu.Unlock()
}

func (c *Correlator) addRetryWaits(attempts int) {
	if attempts > 1 {
		c.retryWaits.Add(uint64(attempts - 1))
	}
}

// EventCounts returns how many events of each type were processed.
func (c *Correlator) EventCounts() map[string]uint64 {
	c.countsMu.Lock()
	defer c.countsMu.Unlock()
	counts := make(map[string]uint64, len(c.eventCounts))
	for k, v := range c.eventCounts {
		counts[k] = v
	}
	return counts
}

// CorrelationMisses returns how many lookups exhausted the retry budget.
func (c *Correlator) CorrelationMisses() uint64 {
	return c.misses.Load()
}

// RetryWaits returns how many transient-race sleeps were taken.
func (c *Correlator) RetryWaits() uint64 {
	return c.retryWaits.Load()
}
