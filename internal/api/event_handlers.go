package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pbxlink/pbxlink/internal/ami"
	"github.com/pbxlink/pbxlink/internal/api/middleware"
)

// eventResponse acknowledges one processed agent event.
type eventResponse struct {
	ChannelID int64  `json:"channel_id,omitempty"`
	Handled   bool   `json:"handled"`
	Message   string `json:"message,omitempty"`
}

// handleAgentEvent receives one switch event from the agent and routes it
// to the correlator. Malformed events are the agent's fault (400); storage
// failures are ours (500) and the agent retries delivery.
func (s *Server) handleAgentEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := ami.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var resp eventResponse

	switch ev.Event {
	case ami.EventNewChannel:
		id, msg, herr := s.correlator.OnNewChannel(ctx, ev)
		err, resp = herr, eventResponse{ChannelID: id, Handled: true, Message: msg}
	case ami.EventNewState:
		id, msg, herr := s.correlator.OnStateChange(ctx, ev)
		err, resp = herr, eventResponse{ChannelID: id, Handled: true, Message: msg}
	case ami.EventHangup:
		id, msg, herr := s.correlator.OnHangup(ctx, ev)
		err, resp = herr, eventResponse{ChannelID: id, Handled: true, Message: msg}
	case ami.EventVarSet:
		handled, herr := s.correlator.OnVarSetRecordingFilename(ctx, ev)
		err, resp = herr, eventResponse{Handled: handled}
	case ami.EventOriginateResponse:
		id, handled, herr := s.correlator.OnOriginateFailure(ctx, ev)
		err, resp = herr, eventResponse{ChannelID: id, Handled: handled}
	default:
		slog.Debug("ignoring agent event", "event", ev.Event,
			"agent", middleware.AgentFromContext(ctx))
		writeJSON(w, http.StatusOK, eventResponse{Message: "event ignored"})
		return
	}

	if err != nil {
		if errors.Is(err, ami.ErrMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("event handling failed", "event", ev.Event, "unique_id", ev.UniqueID, "error", err)
		writeError(w, http.StatusInternalServerError, "event handling failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCallerName resolves a number to the matching contact's name. The
// switch dialplan uses it to set the caller id name on incoming calls, so
// the body is plain text, not the JSON envelope.
func (s *Server) handleCallerName(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if number == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	partner, err := s.partners.GetByNumber(r.Context(), number)
	if err != nil {
		slog.Error("caller name lookup failed", "number", number, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	if partner != nil {
		w.Write([]byte(partner.Name)) //nolint:errcheck
	}
}
