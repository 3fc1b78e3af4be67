package models

import (
	"strings"
	"time"
)

// Call directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Call statuses.
const (
	StatusProgress = "progress"
	StatusAnswered = "answered"
	StatusBusy     = "busy"
	StatusNoAnswer = "noanswer"
	StatusEnded    = "ended"
	StatusFailed   = "failed"
)

// SystemConfig represents a key-value configuration entry.
type SystemConfig struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}

// PBXUser maps a person in the business database to their phone channels.
type PBXUser struct {
	ID                int64
	Name              string
	Exten             string
	Email             string
	MissedCallsNotify bool
	CallPopupEnabled  bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserChannel is a phone channel owned by a PBX user, e.g. PJSIP/101.
type UserChannel struct {
	ID               int64
	UserID           int64
	Name             string
	OriginateEnabled bool
	OriginateContext string
	AutoAnswerHeader string
}

// Partner is a business contact matched to calls by phone number.
type Partner struct {
	ID        int64
	Name      string
	Phone     string
	Mobile    string
	CreatedAt time.Time
}

// Call is the aggregate spanning one or more channels of one conversation.
// Its UniqueID equals the unique id of its primary channel.
type Call struct {
	ID             int64
	UniqueID       string
	CallingNumber  string
	CallingName    string
	CalledNumber   string
	Direction      string
	Status         string
	Started        *time.Time
	Answered       *time.Time
	Ended          *time.Time
	IsActive       bool
	PartnerID      *int64
	CallingUserID  *int64
	AnsweredUserID *int64
	RefModel       string
	RefID          int64
	CreatedAt      time.Time
}

// Channel is one leg of a telephony session.
type Channel struct {
	ID                int64
	CallID            *int64
	UserID            *int64
	NoCall            bool
	Name              string
	UniqueID          string
	LinkedID          string
	Context           string
	ConnectedLineNum  string
	ConnectedLineName string
	State             string
	StateDesc         string
	Exten             string
	CallerIDNum       string
	CallerIDName      string
	AccountCode       string
	Priority          string
	App               string
	AppData           string
	Language          string
	Event             string
	Cause             string
	CauseTxt          string
	EventTime         *time.Time
	HangupDate        *time.Time
	IsActive          bool
	CreatedAt         time.Time
}

// IsPrimary reports whether this channel is the first leg of its call.
func (c *Channel) IsPrimary() bool {
	return c.UniqueID == c.LinkedID
}

// ShortName strips the switch-assigned suffix from the channel name,
// so SIP/1001-000000bd becomes SIP/1001.
func (c *Channel) ShortName() string {
	if i := strings.LastIndex(c.Name, "-"); i > 0 {
		return c.Name[:i]
	}
	return c.Name
}

// CallEvent is an immutable audit trail entry attached to a call.
type CallEvent struct {
	ID        int64
	CallID    int64
	Event     string
	CreatedAt time.Time
}

// ChannelData is an auxiliary key/value entry scoped to a channel or a bare
// unique id, used to stash out-of-band metadata such as a recording file
// path until the owning channel or call is resolvable.
type ChannelData struct {
	ID        int64
	ChannelID *int64
	UniqueID  string
	Key       string
	Value     string
	CreatedAt time.Time
}

// Recording is a stored call recording file.
type Recording struct {
	ID            int64
	UniqueID      string
	CallID        *int64
	ChannelID     *int64
	PartnerID     *int64
	CallingNumber string
	CalledNumber  string
	Answered      *time.Time
	FileName      string
	FilePath      string
	CreatedAt     time.Time
}
