package correlator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pbxlink/pbxlink/internal/ami"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
	"github.com/pbxlink/pbxlink/internal/notify"
	"github.com/pbxlink/pbxlink/internal/reference"
	"github.com/pbxlink/pbxlink/internal/resolver"
	"github.com/pbxlink/pbxlink/internal/settings"
)

type recorderStub struct {
	mu       sync.Mutex
	requests []string
}

func (r *recorderStub) Request(ch *models.Channel, call *models.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, ch.UniqueID)
}

func (r *recorderStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type testEnv struct {
	deps     Deps
	corr     *Correlator
	channels database.ChannelRepository
	calls    database.CallRepository
	users    database.PBXUserRepository
	partners database.PartnerRepository
	chanData database.ChannelDataRepository
	settings *settings.Store
	notifier *notify.Memory
	recorder *recorderStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := settings.New(ctx, database.NewSystemConfigRepository(db))
	if err != nil {
		t.Fatalf("loading settings: %v", err)
	}

	users := database.NewPBXUserRepository(db)
	partners := database.NewPartnerRepository(db)
	env := &testEnv{
		channels: database.NewChannelRepository(db),
		calls:    database.NewCallRepository(db),
		users:    users,
		partners: partners,
		chanData: database.NewChannelDataRepository(db),
		settings: store,
		notifier: notify.NewMemory(),
		recorder: &recorderStub{},
	}
	env.deps = Deps{
		Channels:    env.channels,
		Calls:       env.calls,
		Events:      database.NewCallEventRepository(db),
		ChannelData: env.chanData,
		Users:       resolver.NewDBResolver(users, partners),
		Partners:    resolver.NewDBResolver(users, partners),
		References:  reference.NewRegistry(),
		Notifier:    env.notifier,
		Recordings:  env.recorder,
		Settings:    store,
		Retry:       RetryPolicy{MaxAttempts: 3, Interval: time.Millisecond, Sleep: func(time.Duration) {}},
	}
	env.corr = New(env.deps)
	return env
}

// addUser creates a PBX user owning the given phone channel.
func (e *testEnv) addUser(t *testing.T, name, channelName string, popup bool) *models.PBXUser {
	t.Helper()
	user := &models.PBXUser{Name: name, Exten: "101", CallPopupEnabled: popup}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	err := e.users.AddChannel(context.Background(), &models.UserChannel{
		UserID: user.ID, Name: channelName, OriginateEnabled: true,
	})
	if err != nil {
		t.Fatalf("adding user channel: %v", err)
	}
	return user
}

func (e *testEnv) call(t *testing.T, uniqueID string) *models.Call {
	t.Helper()
	call, err := e.calls.GetByUniqueID(context.Background(), uniqueID)
	if err != nil {
		t.Fatalf("loading call %s: %v", uniqueID, err)
	}
	if call == nil {
		t.Fatalf("call %s not found", uniqueID)
	}
	return call
}

func newChannelEvent(uid, linked, channel, callerNum, exten string, ts int64) *ami.Event {
	return &ami.Event{
		Event:            ami.EventNewChannel,
		UniqueID:         uid,
		LinkedID:         linked,
		Channel:          channel,
		ChannelState:     "4",
		ChannelStateDesc: "Ring",
		CallerIDNum:      callerNum,
		Exten:            exten,
		EventTime:        ts,
	}
}

func newStateEvent(uid, linked, channel, stateDesc string, ts int64) *ami.Event {
	return &ami.Event{
		Event:            ami.EventNewState,
		UniqueID:         uid,
		LinkedID:         linked,
		Channel:          channel,
		ChannelState:     "6",
		ChannelStateDesc: stateDesc,
		EventTime:        ts,
	}
}

func hangupEvent(uid, linked, channel, cause, causeTxt string, ts int64) *ami.Event {
	return &ami.Event{
		Event:     ami.EventHangup,
		UniqueID:  uid,
		LinkedID:  linked,
		Channel:   channel,
		Cause:     cause,
		CauseTxt:  causeTxt,
		EventTime: ts,
	}
}

func TestNewChannelPrimaryIncoming(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev := newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "200", 1000)
	chID, msg, err := env.corr.OnNewChannel(ctx, ev)
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}
	if chID == 0 {
		t.Fatal("channel id is zero")
	}
	if !strings.HasPrefix(msg, "Call ID: ") {
		t.Errorf("msg = %q, want Call ID prefix", msg)
	}

	call := env.call(t, "c1")
	if call.Direction != models.DirectionIn {
		t.Errorf("direction = %q, want %q", call.Direction, models.DirectionIn)
	}
	if call.Status != models.StatusProgress {
		t.Errorf("status = %q, want %q", call.Status, models.StatusProgress)
	}
	if !call.IsActive {
		t.Error("call is not active")
	}
	if call.Started == nil || call.Started.Unix() != 1000 {
		t.Errorf("started = %v, want unix 1000", call.Started)
	}
	if call.CallingNumber != "5551234" || call.CalledNumber != "200" {
		t.Errorf("numbers = %q/%q", call.CallingNumber, call.CalledNumber)
	}
}

func TestNewChannelShortCallerIsOutgoing(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.corr.OnNewChannel(context.Background(),
		newChannelEvent("c1", "c1", "PJSIP/101-00000001", "101", "5551234", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}
	if d := env.call(t, "c1").Direction; d != models.DirectionOut {
		t.Errorf("direction = %q, want %q", d, models.DirectionOut)
	}
}

func TestSecondaryWithUserFlipsDirection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "Alice", "PJSIP/101", true)

	// Short caller id and no resolved user: the primary leg looks outgoing.
	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "12345", "101", 1000))
	if err != nil {
		t.Fatalf("primary OnNewChannel: %v", err)
	}
	if d := env.call(t, "c1").Direction; d != models.DirectionOut {
		t.Fatalf("primary direction = %q, want out", d)
	}

	// The secondary leg rings an internal user, so the call is incoming.
	_, _, err = env.corr.OnNewChannel(ctx,
		newChannelEvent("c2", "c1", "PJSIP/101-00000002", "12345", "101", 1001))
	if err != nil {
		t.Fatalf("secondary OnNewChannel: %v", err)
	}

	call := env.call(t, "c1")
	if call.Direction != models.DirectionIn {
		t.Errorf("direction = %q, want %q", call.Direction, models.DirectionIn)
	}

	called, err := env.calls.ListCalledUsers(ctx, call.ID)
	if err != nil {
		t.Fatalf("ListCalledUsers: %v", err)
	}
	if len(called) != 1 || called[0] != user.ID {
		t.Errorf("called users = %v, want [%d]", called, user.ID)
	}

	alerts := env.notifier.Alerts()
	if len(alerts) != 1 || alerts[0].UserID != user.ID || alerts[0].Warning {
		t.Errorf("alerts = %+v, want one popup for user %d", alerts, user.ID)
	}
}

func TestHangupBusy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "200", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}

	chID, msg, err := env.corr.OnHangup(ctx,
		hangupEvent("c1", "c1", "PJSIP/trunk-00000001", "17", "User busy", 1010))
	if err != nil {
		t.Fatalf("OnHangup: %v", err)
	}
	if chID == 0 || !strings.Contains(msg, "Hangup ACK") {
		t.Errorf("chID=%d msg=%q", chID, msg)
	}

	call := env.call(t, "c1")
	if call.Status != models.StatusBusy {
		t.Errorf("status = %q, want %q", call.Status, models.StatusBusy)
	}
	if call.IsActive {
		t.Error("call still active after hangup")
	}
	if call.Ended == nil || call.Ended.Unix() != 1010 {
		t.Errorf("ended = %v, want unix 1010", call.Ended)
	}

	ch, err := env.channels.GetByUniqueID(ctx, "c1")
	if err != nil || ch == nil {
		t.Fatalf("loading channel: %v", err)
	}
	if ch.IsActive || ch.Cause != "17" {
		t.Errorf("channel active=%v cause=%q, want inactive cause 17", ch.IsActive, ch.Cause)
	}
}

func TestSecondaryUpAnswersOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "Alice", "PJSIP/101", false)

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "101", 1000))
	if err != nil {
		t.Fatalf("primary OnNewChannel: %v", err)
	}
	_, _, err = env.corr.OnNewChannel(ctx,
		newChannelEvent("c2", "c1", "PJSIP/101-00000002", "5551234", "101", 1001))
	if err != nil {
		t.Fatalf("secondary OnNewChannel: %v", err)
	}

	// A primary-channel state change never answers the call.
	_, _, err = env.corr.OnStateChange(ctx,
		newStateEvent("c1", "c1", "PJSIP/trunk-00000001", "Up", 1002))
	if err != nil {
		t.Fatalf("primary OnStateChange: %v", err)
	}
	if s := env.call(t, "c1").Status; s != models.StatusProgress {
		t.Fatalf("status after primary Up = %q, want progress", s)
	}

	_, _, err = env.corr.OnStateChange(ctx,
		newStateEvent("c2", "c1", "PJSIP/101-00000002", "Up", 1005))
	if err != nil {
		t.Fatalf("secondary OnStateChange: %v", err)
	}

	call := env.call(t, "c1")
	if call.Status != models.StatusAnswered {
		t.Fatalf("status = %q, want answered", call.Status)
	}
	if call.Answered == nil || call.Answered.Unix() != 1005 {
		t.Errorf("answered = %v, want unix 1005", call.Answered)
	}
	if call.AnsweredUserID == nil || *call.AnsweredUserID != user.ID {
		t.Errorf("answered user = %v, want %d", call.AnsweredUserID, user.ID)
	}

	// A replayed Up event must not move the answered timestamp.
	_, _, err = env.corr.OnStateChange(ctx,
		newStateEvent("c2", "c1", "PJSIP/101-00000002", "Up", 1030))
	if err != nil {
		t.Fatalf("replayed OnStateChange: %v", err)
	}
	call = env.call(t, "c1")
	if call.Answered == nil || call.Answered.Unix() != 1005 {
		t.Errorf("answered moved to %v after replay", call.Answered)
	}

	// Hangup of an answered call keeps its status.
	_, _, err = env.corr.OnHangup(ctx,
		hangupEvent("c1", "c1", "PJSIP/trunk-00000001", "16", "Normal Clearing", 1100))
	if err != nil {
		t.Fatalf("OnHangup: %v", err)
	}
	call = env.call(t, "c1")
	if call.Status != models.StatusAnswered || call.IsActive {
		t.Errorf("status=%q active=%v after hangup, want answered, inactive", call.Status, call.IsActive)
	}
}

func TestSecondaryBeforePrimaryRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The primary event lands while the secondary handler sleeps out its
	// first retry, like a concurrent worker committing it.
	var once sync.Once
	var corr *Correlator
	deps := env.deps
	deps.Retry = RetryPolicy{
		MaxAttempts: 5,
		Interval:    time.Millisecond,
		Sleep: func(time.Duration) {
			once.Do(func() {
				_, _, err := corr.OnNewChannel(ctx,
					newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "101", 1000))
				if err != nil {
					t.Errorf("primary OnNewChannel: %v", err)
				}
			})
		},
	}
	corr = New(deps)

	chID, msg, err := corr.OnNewChannel(ctx,
		newChannelEvent("c2", "c1", "PJSIP/101-00000002", "5551234", "101", 1001))
	if err != nil {
		t.Fatalf("secondary OnNewChannel: %v", err)
	}
	if chID == 0 || !strings.HasPrefix(msg, "Call ID: ") {
		t.Fatalf("chID=%d msg=%q, want attached call", chID, msg)
	}

	call := env.call(t, "c1")
	ch, err := env.channels.GetByUniqueID(ctx, "c2")
	if err != nil || ch == nil {
		t.Fatalf("loading secondary channel: %v", err)
	}
	if ch.CallID == nil || *ch.CallID != call.ID {
		t.Errorf("secondary call id = %v, want %d", ch.CallID, call.ID)
	}
	if corr.RetryWaits() == 0 {
		t.Error("expected at least one retry wait")
	}
}

func TestSecondaryWithoutPrimaryDegrades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	chID, msg, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c2", "c1", "PJSIP/101-00000002", "5551234", "101", 1001))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}
	if chID == 0 {
		t.Fatal("orphan channel was not stored")
	}
	if !strings.Contains(msg, "unlinked channel") {
		t.Errorf("msg = %q, want unlinked channel", msg)
	}

	ch, err := env.channels.GetByUniqueID(ctx, "c2")
	if err != nil || ch == nil {
		t.Fatalf("loading channel: %v", err)
	}
	if ch.CallID != nil {
		t.Errorf("orphan channel got call id %v", *ch.CallID)
	}
	if env.corr.CorrelationMisses() != 1 {
		t.Errorf("misses = %d, want 1", env.corr.CorrelationMisses())
	}
}

func TestDuplicateNewChannelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev := newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "200", 1000)
	id1, _, err := env.corr.OnNewChannel(ctx, ev)
	if err != nil {
		t.Fatalf("first OnNewChannel: %v", err)
	}
	id2, _, err := env.corr.OnNewChannel(ctx, ev)
	if err != nil {
		t.Fatalf("second OnNewChannel: %v", err)
	}
	if id1 != id2 {
		t.Errorf("duplicate created a second channel: %d, %d", id1, id2)
	}

	count, err := env.channels.CountActive(ctx)
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if count != 1 {
		t.Errorf("active channels = %d, want 1", count)
	}
	calls, err := env.calls.CountActive(ctx)
	if err != nil {
		t.Fatalf("calls CountActive: %v", err)
	}
	if calls != 1 {
		t.Errorf("active calls = %d, want 1", calls)
	}
}

func TestStateChangeUnknownChannelDiscarded(t *testing.T) {
	env := newTestEnv(t)

	chID, msg, err := env.corr.OnStateChange(context.Background(),
		newStateEvent("ghost", "ghost", "PJSIP/101-00000009", "Up", 1000))
	if err != nil {
		t.Fatalf("OnStateChange: %v", err)
	}
	if chID != 0 || !strings.Contains(msg, "discard") {
		t.Errorf("chID=%d msg=%q, want discarded", chID, msg)
	}
}

func TestHangupRequestsRecording(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.settings.Set(ctx, settings.KeyRecordCalls, "1"); err != nil {
		t.Fatalf("enabling recording: %v", err)
	}

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "200", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}
	_, _, err = env.corr.OnHangup(ctx,
		hangupEvent("c1", "c1", "PJSIP/trunk-00000001", "16", "Normal Clearing", 1010))
	if err != nil {
		t.Fatalf("OnHangup: %v", err)
	}
	if env.recorder.count() != 1 {
		t.Errorf("recording requests = %d, want 1", env.recorder.count())
	}
}

func TestOriginateFailureClosesCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "Alice", "PJSIP/101", false)

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/101-00000001", "101", "5551234", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}
	call := env.call(t, "c1")
	if call.CallingUserID == nil || *call.CallingUserID != user.ID {
		t.Fatalf("calling user = %v, want %d", call.CallingUserID, user.ID)
	}
	if err := env.calls.SetReference(ctx, call.ID, "partner", 7); err != nil {
		t.Fatalf("SetReference: %v", err)
	}

	// A success response is ignored.
	_, handled, err := env.corr.OnOriginateFailure(ctx, &ami.Event{
		Event: ami.EventOriginateResponse, UniqueID: "c1", Response: "Success", EventTime: 1005,
	})
	if err != nil || handled {
		t.Fatalf("success response: handled=%v err=%v", handled, err)
	}

	chID, handled, err := env.corr.OnOriginateFailure(ctx, &ami.Event{
		Event: ami.EventOriginateResponse, UniqueID: "c1", Response: "Failure",
		Reason: "0", EventTime: 1006,
	})
	if err != nil {
		t.Fatalf("OnOriginateFailure: %v", err)
	}
	if chID == 0 || !handled {
		t.Fatalf("chID=%d handled=%v, want handled", chID, handled)
	}

	call = env.call(t, "c1")
	if call.Status != models.StatusFailed || call.IsActive {
		t.Errorf("status=%q active=%v, want failed, inactive", call.Status, call.IsActive)
	}

	ch, err := env.channels.GetByUniqueID(ctx, "c1")
	if err != nil || ch == nil {
		t.Fatalf("loading channel: %v", err)
	}
	if ch.IsActive {
		t.Error("channel still active")
	}

	alerts := env.notifier.Alerts()
	if len(alerts) != 1 || !alerts[0].Warning || alerts[0].UserID != user.ID {
		t.Fatalf("alerts = %+v, want one warning for user %d", alerts, user.ID)
	}
	if !strings.Contains(alerts[0].Message, "not registered") {
		t.Errorf("alert message = %q, want decoded reason 0", alerts[0].Message)
	}
}

func TestVarSetRecordingFilename(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "200", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}

	handled, err := env.corr.OnVarSetRecordingFilename(ctx, &ami.Event{
		Event: ami.EventVarSet, UniqueID: "c1",
		Variable: "MIXMONITOR_FILENAME", Value: "/var/spool/rec/c1.wav",
	})
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	path, err := env.chanData.GetByUniqueID(ctx, "c1", "recording_file_path")
	if err != nil {
		t.Fatalf("GetByUniqueID: %v", err)
	}
	if path != "/var/spool/rec/c1.wav" {
		t.Errorf("path = %q", path)
	}

	// Other variables are not ours.
	handled, err = env.corr.OnVarSetRecordingFilename(ctx, &ami.Event{
		Event: ami.EventVarSet, UniqueID: "c1", Variable: "DIALSTATUS", Value: "ANSWER",
	})
	if err != nil || handled {
		t.Fatalf("foreign variable: handled=%v err=%v", handled, err)
	}

	// Unknown channel: the value is kept under the bare unique id.
	handled, err = env.corr.OnVarSetRecordingFilename(ctx, &ami.Event{
		Event: ami.EventVarSet, UniqueID: "ghost",
		Variable: "MIXMONITOR_FILENAME", Value: "/var/spool/rec/ghost.wav",
	})
	if err != nil || !handled {
		t.Fatalf("bare unique id: handled=%v err=%v", handled, err)
	}
	path, err = env.chanData.GetByUniqueID(ctx, "ghost", "recording_file_path")
	if err != nil || path != "/var/spool/rec/ghost.wav" {
		t.Errorf("path=%q err=%v", path, err)
	}
}

func TestNewChannelMatchesPartner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	partner := &models.Partner{Name: "ACME", Phone: "5551234"}
	if err := env.partners.Create(ctx, partner); err != nil {
		t.Fatalf("creating partner: %v", err)
	}

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5551234", "200", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}

	call := env.call(t, "c1")
	if call.PartnerID == nil || *call.PartnerID != partner.ID {
		t.Errorf("partner = %v, want %d", call.PartnerID, partner.ID)
	}
}

func TestNewChannelAutoCreatesPartner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.settings.Set(ctx, settings.KeyAutoCreatePartners, "1"); err != nil {
		t.Fatalf("enabling auto-create: %v", err)
	}

	_, _, err := env.corr.OnNewChannel(ctx,
		newChannelEvent("c1", "c1", "PJSIP/trunk-00000001", "5559876", "200", 1000))
	if err != nil {
		t.Fatalf("OnNewChannel: %v", err)
	}

	call := env.call(t, "c1")
	if call.PartnerID == nil {
		t.Fatal("no partner auto-created for incoming call")
	}
	p, err := env.partners.GetByID(ctx, *call.PartnerID)
	if err != nil || p == nil {
		t.Fatalf("loading partner: %v", err)
	}
	if p.Phone != "5559876" {
		t.Errorf("partner phone = %q", p.Phone)
	}
}
