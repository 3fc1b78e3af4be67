package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// callResponse is the JSON representation of a call.
type callResponse struct {
	ID             int64   `json:"id"`
	UniqueID       string  `json:"unique_id"`
	CallingNumber  string  `json:"calling_number"`
	CallingName    string  `json:"calling_name,omitempty"`
	CalledNumber   string  `json:"called_number"`
	Direction      string  `json:"direction"`
	Status         string  `json:"status"`
	Started        *string `json:"started"`
	Answered       *string `json:"answered"`
	Ended          *string `json:"ended"`
	IsActive       bool    `json:"is_active"`
	PartnerID      *int64  `json:"partner_id"`
	CallingUserID  *int64  `json:"calling_user_id"`
	AnsweredUserID *int64  `json:"answered_user_id"`
	RefModel       string  `json:"ref_model,omitempty"`
	RefID          int64   `json:"ref_id,omitempty"`
}

// channelResponse is the JSON representation of a channel.
type channelResponse struct {
	ID           int64   `json:"id"`
	CallID       *int64  `json:"call_id"`
	UserID       *int64  `json:"user_id"`
	Name         string  `json:"name"`
	UniqueID     string  `json:"unique_id"`
	LinkedID     string  `json:"linked_id"`
	State        string  `json:"state"`
	StateDesc    string  `json:"state_desc"`
	Exten        string  `json:"exten"`
	CallerIDNum  string  `json:"callerid_num"`
	CallerIDName string  `json:"callerid_name"`
	Cause        string  `json:"cause,omitempty"`
	CauseTxt     string  `json:"cause_txt,omitempty"`
	EventTime    *string `json:"event_time"`
	HangupDate   *string `json:"hangup_date"`
	IsActive     bool    `json:"is_active"`
}

// callEventResponse is one audit trail entry of a call.
type callEventResponse struct {
	ID        int64  `json:"id"`
	Event     string `json:"event"`
	CreatedAt string `json:"created_at"`
}

// callDetailResponse is the full call view with all related records.
type callDetailResponse struct {
	callResponse
	Channels    []channelResponse   `json:"channels"`
	Events      []callEventResponse `json:"events"`
	CalledUsers []int64             `json:"called_user_ids"`
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// toCallResponse converts a models.Call to the API response.
func toCallResponse(c *models.Call) callResponse {
	return callResponse{
		ID:             c.ID,
		UniqueID:       c.UniqueID,
		CallingNumber:  c.CallingNumber,
		CallingName:    c.CallingName,
		CalledNumber:   c.CalledNumber,
		Direction:      c.Direction,
		Status:         c.Status,
		Started:        formatTimePtr(c.Started),
		Answered:       formatTimePtr(c.Answered),
		Ended:          formatTimePtr(c.Ended),
		IsActive:       c.IsActive,
		PartnerID:      c.PartnerID,
		CallingUserID:  c.CallingUserID,
		AnsweredUserID: c.AnsweredUserID,
		RefModel:       c.RefModel,
		RefID:          c.RefID,
	}
}

// toChannelResponse converts a models.Channel to the API response.
func toChannelResponse(c *models.Channel) channelResponse {
	return channelResponse{
		ID:           c.ID,
		CallID:       c.CallID,
		UserID:       c.UserID,
		Name:         c.Name,
		UniqueID:     c.UniqueID,
		LinkedID:     c.LinkedID,
		State:        c.State,
		StateDesc:    c.StateDesc,
		Exten:        c.Exten,
		CallerIDNum:  c.CallerIDNum,
		CallerIDName: c.CallerIDName,
		Cause:        c.Cause,
		CauseTxt:     c.CauseTxt,
		EventTime:    formatTimePtr(c.EventTime),
		HangupDate:   formatTimePtr(c.HangupDate),
		IsActive:     c.IsActive,
	}
}

// handleListCalls returns calls with pagination and optional filters.
// Query params: limit, offset, search, direction, active.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	direction := q.Get("direction")
	if direction != "" && direction != models.DirectionIn && direction != models.DirectionOut {
		writeError(w, http.StatusBadRequest, "direction must be \"in\" or \"out\"")
		return
	}

	filter := database.CallListFilter{
		Limit:     pg.Limit,
		Offset:    pg.Offset,
		Search:    q.Get("search"),
		Direction: direction,
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		filter.Active = &active
	}

	calls, total, err := s.calls.List(r.Context(), filter)
	if err != nil {
		slog.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callResponse, len(calls))
	for i := range calls {
		items[i] = toCallResponse(&calls[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetCall returns a single call with its channels, audit trail and
// called users.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}

	call, err := s.calls.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get call: failed to query", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	channels, err := s.channels.ListByCallID(r.Context(), id)
	if err != nil {
		slog.Error("get call: failed to list channels", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	events, err := s.events.ListByCallID(r.Context(), id)
	if err != nil {
		slog.Error("get call: failed to list events", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	calledUsers, err := s.calls.ListCalledUsers(r.Context(), id)
	if err != nil {
		slog.Error("get call: failed to list called users", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := callDetailResponse{
		callResponse: toCallResponse(call),
		Channels:     make([]channelResponse, len(channels)),
		Events:       make([]callEventResponse, len(events)),
		CalledUsers:  calledUsers,
	}
	for i := range channels {
		resp.Channels[i] = toChannelResponse(&channels[i])
	}
	for i := range events {
		resp.Events[i] = callEventResponse{
			ID:        events[i].ID,
			Event:     events[i].Event,
			CreatedAt: events[i].CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleActiveChannels returns all currently active channels.
func (s *Server) handleActiveChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.ListActive(r.Context())
	if err != nil {
		slog.Error("active channels: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]channelResponse, len(channels))
	for i := range channels {
		items[i] = toChannelResponse(&channels[i])
	}
	writeJSON(w, http.StatusOK, items)
}
