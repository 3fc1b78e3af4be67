package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pbxlink/pbxlink/internal/originate"
)

// originateRequest is the JSON body for click-to-dial.
type originateRequest struct {
	UserID   int64  `json:"user_id"`
	Number   string `json:"number"`
	RefModel string `json:"ref_model"`
	RefID    int64  `json:"ref_id"`
}

// spyRequest is the JSON body for listening in on a channel.
type spyRequest struct {
	UserID  int64  `json:"user_id"`
	Channel string `json:"channel"`
	Mode    string `json:"mode"`
}

// handleOriginate places a call from a user's phone to a number.
func (s *Server) handleOriginate(w http.ResponseWriter, r *http.Request) {
	var req originateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if errMsg := validateRequiredStringLen("number", req.Number, maxShortStringLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	calls, err := s.originate.Dial(r.Context(), originate.Request{
		UserID:   req.UserID,
		Number:   req.Number,
		RefModel: req.RefModel,
		RefID:    req.RefID,
	})
	if err != nil {
		switch {
		case errors.Is(err, originate.ErrBadNumber):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, originate.ErrNoUser):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, originate.ErrNoChannels):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("originate: failed to place call", "error", err, "user_id", req.UserID)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	items := make([]callResponse, len(calls))
	for i := range calls {
		items[i] = toCallResponse(calls[i])
	}
	writeJSON(w, http.StatusCreated, items)
}

// handleSpy attaches a user's phone to another channel for call spying.
func (s *Server) handleSpy(w http.ResponseWriter, r *http.Request) {
	var req spyRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if errMsg := validateChannelName("channel", req.Channel); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	mode := req.Mode
	switch mode {
	case "", "listen":
		mode = originate.SpyListen
	case "whisper":
		mode = originate.SpyWhisper
	case "barge":
		mode = originate.SpyBarge
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"listen\", \"whisper\", or \"barge\"")
		return
	}

	if err := s.originate.Spy(r.Context(), req.UserID, req.Channel, mode); err != nil {
		switch {
		case errors.Is(err, originate.ErrNoUser):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, originate.ErrNoChannels):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("spy: failed to attach", "error", err, "user_id", req.UserID)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "spying"})
}
