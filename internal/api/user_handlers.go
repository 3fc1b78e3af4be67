package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// userRequest is the JSON body for creating or updating a PBX user.
type userRequest struct {
	Name              string `json:"name"`
	Exten             string `json:"exten"`
	Email             string `json:"email"`
	MissedCallsNotify bool   `json:"missed_calls_notify"`
	CallPopupEnabled  bool   `json:"call_popup_enabled"`
}

// validate checks the request fields. Returns an error message or "".
func (req *userRequest) validate() string {
	if msg := validateRequiredStringLen("name", req.Name, maxNameLen); msg != "" {
		return msg
	}
	if msg := validateExtensionNumber("exten", req.Exten); msg != "" {
		return msg
	}
	return validateEmail("email", req.Email)
}

// userResponse is the JSON representation of a PBX user.
type userResponse struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Exten             string `json:"exten"`
	Email             string `json:"email,omitempty"`
	MissedCallsNotify bool   `json:"missed_calls_notify"`
	CallPopupEnabled  bool   `json:"call_popup_enabled"`
}

func toUserResponse(u *models.PBXUser) userResponse {
	return userResponse{
		ID:                u.ID,
		Name:              u.Name,
		Exten:             u.Exten,
		Email:             u.Email,
		MissedCallsNotify: u.MissedCallsNotify,
		CallPopupEnabled:  u.CallPopupEnabled,
	}
}

// userChannelRequest is the JSON body for attaching a phone channel.
type userChannelRequest struct {
	Name             string `json:"name"`
	OriginateEnabled bool   `json:"originate_enabled"`
	OriginateContext string `json:"originate_context"`
	AutoAnswerHeader string `json:"auto_answer_header"`
}

// userChannelResponse is the JSON representation of a user phone channel.
type userChannelResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	OriginateEnabled bool   `json:"originate_enabled"`
	OriginateContext string `json:"originate_context,omitempty"`
	AutoAnswerHeader string `json:"auto_answer_header,omitempty"`
}

func parseUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleListUsers returns all PBX users.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		slog.Error("list users: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]userResponse, len(users))
	for i := range users {
		items[i] = toUserResponse(&users[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateUser creates a new PBX user.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := req.validate(); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	user := &models.PBXUser{
		Name:              req.Name,
		Exten:             req.Exten,
		Email:             req.Email,
		MissedCallsNotify: req.MissedCallsNotify,
		CallPopupEnabled:  req.CallPopupEnabled,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		slog.Error("create user: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// handleGetUser returns a single PBX user.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleUpdateUser updates all fields of a PBX user.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req userRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := req.validate(); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	user.Name = req.Name
	user.Exten = req.Exten
	user.Email = req.Email
	user.MissedCallsNotify = req.MissedCallsNotify
	user.CallPopupEnabled = req.CallPopupEnabled

	if err := s.users.Update(r.Context(), user); err != nil {
		slog.Error("update user: failed to update", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleDeleteUser removes a PBX user and their channels.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		slog.Error("delete user: failed to delete", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListUserChannels returns the phone channels of a user.
func (s *Server) handleListUserChannels(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	channels, err := s.users.ListChannels(r.Context(), id)
	if err != nil {
		slog.Error("list user channels: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]userChannelResponse, len(channels))
	for i, ch := range channels {
		items[i] = userChannelResponse{
			ID:               ch.ID,
			Name:             ch.Name,
			OriginateEnabled: ch.OriginateEnabled,
			OriginateContext: ch.OriginateContext,
			AutoAnswerHeader: ch.AutoAnswerHeader,
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleAddUserChannel attaches a phone channel to a user.
func (s *Server) handleAddUserChannel(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req userChannelRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateChannelName("name", req.Name); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("add user channel: failed to query user", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	ch := &models.UserChannel{
		UserID:           id,
		Name:             req.Name,
		OriginateEnabled: req.OriginateEnabled,
		OriginateContext: req.OriginateContext,
		AutoAnswerHeader: req.AutoAnswerHeader,
	}
	if err := s.users.AddChannel(r.Context(), ch); err != nil {
		slog.Error("add user channel: failed to insert", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, userChannelResponse{
		ID:               ch.ID,
		Name:             ch.Name,
		OriginateEnabled: ch.OriginateEnabled,
		OriginateContext: ch.OriginateContext,
		AutoAnswerHeader: ch.AutoAnswerHeader,
	})
}
