// Package originate places outgoing calls through the switch agent:
// click-to-dial from a business record and spy/whisper/barge on a running
// call. The call and its first channel are created before the action is
// sent, so the agent's channel events attach to them instead of spawning
// duplicates.
package originate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
	"github.com/pbxlink/pbxlink/internal/reference"
	"github.com/pbxlink/pbxlink/internal/settings"
)

var (
	// ErrNoUser means the dialing user does not exist.
	ErrNoUser = errors.New("pbx user not found")
	// ErrNoChannels means the user has no channel enabled for originate.
	ErrNoChannels = errors.New("no channels with originate enabled")
	// ErrBadNumber means the number is empty after normalization.
	ErrBadNumber = errors.New("invalid number")
)

// Action is the wire form of a switch command executed by the agent.
type Action struct {
	Action         string   `json:"Action"`
	Context        string   `json:"Context,omitempty"`
	Priority       string   `json:"Priority,omitempty"`
	Timeout        int64    `json:"Timeout,omitempty"`
	Channel        string   `json:"Channel"`
	Exten          string   `json:"Exten,omitempty"`
	Async          string   `json:"Async"`
	EarlyMedia     string   `json:"EarlyMedia,omitempty"`
	CallerID       string   `json:"CallerID,omitempty"`
	ChannelID      string   `json:"ChannelId"`
	OtherChannelID string   `json:"OtherChannelId,omitempty"`
	Application    string   `json:"Application,omitempty"`
	Data           string   `json:"Data,omitempty"`
	Variable       []string `json:"Variable,omitempty"`
}

// ActionSender delivers actions to the connected switch agent.
type ActionSender interface {
	Send(ctx context.Context, action *Action) error
}

// Request is a click-to-dial request.
type Request struct {
	UserID int64
	Number string
	// RefModel/RefID point at the business record the call was placed
	// from, when any.
	RefModel string
	RefID    int64
}

// Service places calls for PBX users.
type Service struct {
	calls    database.CallRepository
	channels database.ChannelRepository
	users    database.PBXUserRepository
	refs     *reference.Registry
	sender   ActionSender
	settings *settings.Store
}

// New creates an originate Service.
func New(calls database.CallRepository, channels database.ChannelRepository, users database.PBXUserRepository, refs *reference.Registry, sender ActionSender, store *settings.Store) *Service {
	return &Service{
		calls:    calls,
		channels: channels,
		users:    users,
		refs:     refs,
		sender:   sender,
		settings: store,
	}
}

// Dial originates a call from every originate-enabled channel of the user
// to number. One call per channel is pre-created so the agent's events
// correlate to it; the switch tears down the losing legs itself.
func (s *Service) Dial(ctx context.Context, req Request) ([]*models.Call, error) {
	number := cleanNumber(req.Number)
	if number == "" {
		return nil, ErrBadNumber
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoUser
	}

	userChannels, err := s.users.ListChannels(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	callerIDName := ""
	if req.RefModel != "" && s.refs != nil {
		if ref, rerr := s.refs.Resolve(ctx, req.RefModel, req.RefID); rerr != nil {
			slog.Warn("reference lookup failed", "model", req.RefModel, "id", req.RefID, "error", rerr)
		} else if ref != nil {
			callerIDName = "To: " + ref.GetDisplayName()
		}
	}

	snap := s.settings.Snapshot()
	var calls []*models.Call
	for _, uc := range userChannels {
		if !uc.OriginateEnabled {
			slog.Debug("channel not enabled to originate", "user_id", user.ID, "channel", uc.Name)
			continue
		}

		channelID := uuid.NewString()
		otherChannelID := uuid.NewString()
		started := time.Now().UTC()
		call := &models.Call{
			UniqueID:      channelID,
			CallingUserID: &user.ID,
			CallingNumber: user.Exten,
			CalledNumber:  number,
			Direction:     models.DirectionOut,
			Status:        models.StatusProgress,
			Started:       &started,
			IsActive:      true,
			RefModel:      req.RefModel,
			RefID:         req.RefID,
		}
		if req.RefModel == reference.ModelPartner {
			call.PartnerID = &req.RefID
		}
		if err := s.calls.Create(ctx, call); err != nil {
			return calls, fmt.Errorf("pre-creating call: %w", err)
		}
		ch := &models.Channel{
			CallID:   &call.ID,
			UserID:   &user.ID,
			Name:     uc.Name,
			UniqueID: channelID,
			LinkedID: otherChannelID,
			IsActive: true,
		}
		if err := s.channels.Create(ctx, ch); err != nil {
			return calls, fmt.Errorf("pre-creating channel: %w", err)
		}

		action := &Action{
			Action:         "Originate",
			Context:        originateContext(uc, snap),
			Priority:       "1",
			Timeout:        snap.OriginateTimeout.Milliseconds(),
			Channel:        uc.Name,
			Exten:          number,
			Async:          "true",
			EarlyMedia:     "true",
			CallerID:       fmt.Sprintf("%s <%s>", callerIDName, number),
			ChannelID:      channelID,
			OtherChannelID: otherChannelID,
			Variable:       autoAnswerVariables(uc),
		}
		if err := s.sender.Send(ctx, action); err != nil {
			return calls, fmt.Errorf("sending originate for %s: %w", uc.Name, err)
		}
		slog.Info("originated call", "user_id", user.ID, "channel", uc.Name,
			"number", number, "call_id", call.ID)
		calls = append(calls, call)
	}

	if len(calls) == 0 {
		return nil, ErrNoChannels
	}
	return calls, nil
}

// Spy modes.
const (
	SpyListen  = "q"
	SpyWhisper = "qw"
	SpyBarge   = "qB"
)

// Spy bridges one of the user's channels onto a running channel with
// ChanSpy. The created channel is flagged no-call so no call record spawns
// from its events.
func (s *Service) Spy(ctx context.Context, userID int64, targetChannel, mode string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoUser
	}
	userChannels, err := s.users.ListChannels(ctx, user.ID)
	if err != nil {
		return err
	}

	callerID := map[string]string{
		SpyListen:  "Spy",
		SpyWhisper: "Whisper",
		SpyBarge:   "Barge",
	}[mode]
	if callerID == "" {
		callerID = "Unknown"
	}

	sent := false
	for _, uc := range userChannels {
		if !uc.OriginateEnabled {
			continue
		}
		channelID := uuid.NewString()
		ch := &models.Channel{
			UserID:   &user.ID,
			NoCall:   true,
			Name:     uc.Name,
			UniqueID: channelID,
			LinkedID: channelID,
			IsActive: true,
		}
		if err := s.channels.Create(ctx, ch); err != nil {
			return fmt.Errorf("pre-creating spy channel: %w", err)
		}
		action := &Action{
			Action:      "Originate",
			Channel:     uc.Name,
			Async:       "true",
			CallerID:    fmt.Sprintf("%s <1234567890>", callerID),
			ChannelID:   channelID,
			Application: "ChanSpy",
			Data:        fmt.Sprintf("%s,%s", targetChannel, mode),
			Variable:    autoAnswerVariables(uc),
		}
		if err := s.sender.Send(ctx, action); err != nil {
			return fmt.Errorf("sending spy for %s: %w", uc.Name, err)
		}
		sent = true
	}
	if !sent {
		return ErrNoChannels
	}
	return nil
}

// originateContext prefers the per-channel dialplan context over the
// server-wide one.
func originateContext(uc models.UserChannel, snap settings.Snapshot) string {
	if uc.OriginateContext != "" {
		return uc.OriginateContext
	}
	return snap.OriginateContext
}

// autoAnswerVariables turns a configured auto-answer header like
// "Alert-Info: info=alert-autoanswer" into the channel variable the phone's
// stack expects.
func autoAnswerVariables(uc models.UserChannel) []string {
	header := uc.AutoAnswerHeader
	if header == "" {
		return nil
	}
	pos := strings.Index(header, ":")
	if pos <= 0 {
		slog.Warn("cannot parse auto answer header", "header", header)
		return nil
	}
	param := strings.TrimSpace(header[:pos])
	val := strings.TrimSpace(header[pos+1:])
	if strings.Contains(strings.ToUpper(uc.Name), "PJSIP") {
		return []string{fmt.Sprintf("PJSIP_HEADER(add,%s)=%s", param, val)}
	}
	return []string{fmt.Sprintf("SIPADDHEADER=%s: %s", param, val)}
}

// cleanNumber strips separators users paste along with numbers.
func cleanNumber(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, number)
}
