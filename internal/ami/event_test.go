package ami

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	body := `{
		"Event": "Newchannel",
		"Uniqueid": "1700000000.42",
		"Linkedid": "1700000000.42",
		"Channel": "PJSIP/101-0000002a",
		"ChannelState": "4",
		"ChannelStateDesc": "Ring",
		"CallerIDNum": "101",
		"Exten": "5551234",
		"EventTime": 1700000100
	}`

	ev, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if ev.Event != EventNewChannel {
		t.Errorf("Event = %q, want Newchannel", ev.Event)
	}
	if ev.UniqueID != "1700000000.42" {
		t.Errorf("UniqueID = %q", ev.UniqueID)
	}
	if !ev.IsPrimary() {
		t.Error("expected primary event when Uniqueid equals Linkedid")
	}
	if got := ev.Time(); got != time.Unix(1700000100, 0).UTC() {
		t.Errorf("Time() = %v, want unix 1700000100", got)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode(strings.NewReader("{not json"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{
			name:    "missing event key",
			ev:      Event{UniqueID: "1.1"},
			wantErr: true,
		},
		{
			name:    "newchannel without channel",
			ev:      Event{Event: EventNewChannel, UniqueID: "1.1", LinkedID: "1.1"},
			wantErr: true,
		},
		{
			name:    "hangup without linkedid",
			ev:      Event{Event: EventHangup, UniqueID: "1.1", Channel: "PJSIP/101-1"},
			wantErr: true,
		},
		{
			name:    "newstate minimal",
			ev:      Event{Event: EventNewState, UniqueID: "1.1"},
			wantErr: false,
		},
		{
			name:    "varset without variable",
			ev:      Event{Event: EventVarSet, UniqueID: "1.1"},
			wantErr: true,
		},
		{
			name:    "originate response without response",
			ev:      Event{Event: EventOriginateResponse, UniqueID: "1.1"},
			wantErr: true,
		},
		{
			name:    "unknown event passes",
			ev:      Event{Event: "PeerStatus"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr && !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestTimeDefaultsToNow(t *testing.T) {
	ev := Event{Event: EventNewState, UniqueID: "1.1"}
	before := time.Now().UTC().Add(-time.Second)
	got := ev.Time()
	if got.Before(before) {
		t.Errorf("Time() = %v, expected roughly now", got)
	}
}
