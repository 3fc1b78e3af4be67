// Package ami defines the normalized telephony event consumed by the
// correlator. Events arrive from the PBX agent as JSON objects keyed the way
// the Asterisk Manager Interface names its headers.
package ami

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Event type names as delivered by the switch.
const (
	EventNewChannel        = "Newchannel"
	EventNewState          = "Newstate"
	EventHangup            = "Hangup"
	EventVarSet            = "VarSet"
	EventOriginateResponse = "OriginateResponse"
)

// ErrMalformed marks an event missing required keys or failing to decode.
// Handling of that single event fails hard; the ingestion loop goes on.
var ErrMalformed = errors.New("malformed event")

// Event is one normalized telephony notification.
type Event struct {
	Event             string `json:"Event"`
	UniqueID          string `json:"Uniqueid"`
	LinkedID          string `json:"Linkedid"`
	Channel           string `json:"Channel"`
	ChannelState      string `json:"ChannelState"`
	ChannelStateDesc  string `json:"ChannelStateDesc"`
	CallerIDNum       string `json:"CallerIDNum"`
	CallerIDName      string `json:"CallerIDName"`
	ConnectedLineNum  string `json:"ConnectedLineNum"`
	ConnectedLineName string `json:"ConnectedLineName"`
	Context           string `json:"Context"`
	Exten             string `json:"Exten"`
	Priority          string `json:"Priority"`
	AccountCode       string `json:"AccountCode"`
	Language          string `json:"Language"`
	Application       string `json:"Application"`
	ApplicationData   string `json:"ApplicationData"`
	SystemName        string `json:"SystemName"`
	Timestamp         string `json:"Timestamp"`
	Cause             string `json:"Cause"`
	CauseTxt          string `json:"Cause-txt"`
	// EventTime is a unix timestamp. Older agents do not send it;
	// zero means "now".
	EventTime int64 `json:"EventTime"`
	// OriginateResponse fields.
	Response string `json:"Response"`
	Reason   string `json:"Reason"`
	// VarSet fields.
	Variable string `json:"Variable"`
	Value    string `json:"Value"`
}

// Decode reads one JSON event and validates it.
func Decode(r io.Reader) (*Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks that the keys a given event type cannot be handled
// without are present.
func (e *Event) Validate() error {
	if e.Event == "" {
		return fmt.Errorf("%w: missing Event", ErrMalformed)
	}
	switch e.Event {
	case EventNewChannel, EventHangup:
		if e.UniqueID == "" || e.LinkedID == "" || e.Channel == "" {
			return fmt.Errorf("%w: %s requires Uniqueid, Linkedid and Channel", ErrMalformed, e.Event)
		}
	case EventNewState:
		if e.UniqueID == "" {
			return fmt.Errorf("%w: Newstate requires Uniqueid", ErrMalformed)
		}
	case EventVarSet:
		if e.UniqueID == "" || e.Variable == "" {
			return fmt.Errorf("%w: VarSet requires Uniqueid and Variable", ErrMalformed)
		}
	case EventOriginateResponse:
		if e.UniqueID == "" || e.Response == "" {
			return fmt.Errorf("%w: OriginateResponse requires Uniqueid and Response", ErrMalformed)
		}
	}
	return nil
}

// IsPrimary reports whether the event belongs to the first leg of a call.
func (e *Event) IsPrimary() bool {
	return e.UniqueID == e.LinkedID
}

// Time returns the event time, or the current time when the agent did not
// send one.
func (e *Event) Time() time.Time {
	if e.EventTime > 0 {
		return time.Unix(e.EventTime, 0).UTC()
	}
	return time.Now().UTC()
}
