package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pbxlink/pbxlink/internal/settings"
)

// settingsResponse is the JSON view of all runtime settings.
type settingsResponse struct {
	RecordCalls        bool   `json:"record_calls"`
	AutoReloadCalls    bool   `json:"auto_reload_calls"`
	AutoReloadChannels bool   `json:"auto_reload_channels"`
	AutoCreatePartners bool   `json:"auto_create_partners"`
	PermitIPAddresses  string `json:"permit_ip_addresses"`
	OriginateContext   string `json:"originate_context"`
	OriginateTimeout   int    `json:"originate_timeout"`
	MaxExtenLength     int    `json:"max_exten_length"`
	CallsKeepDays      int    `json:"calls_keep_days"`
	ChannelsKeepHours  int    `json:"channels_keep_hours"`
	RecordingsKeepDays int    `json:"recordings_keep_days"`
}

// settingsRequest carries a partial settings update. Pointer fields
// distinguish "not sent" from zero values.
type settingsRequest struct {
	RecordCalls        *bool   `json:"record_calls"`
	AutoReloadCalls    *bool   `json:"auto_reload_calls"`
	AutoReloadChannels *bool   `json:"auto_reload_channels"`
	AutoCreatePartners *bool   `json:"auto_create_partners"`
	PermitIPAddresses  *string `json:"permit_ip_addresses"`
	OriginateContext   *string `json:"originate_context"`
	OriginateTimeout   *int    `json:"originate_timeout"`
	MaxExtenLength     *int    `json:"max_exten_length"`
	CallsKeepDays      *int    `json:"calls_keep_days"`
	ChannelsKeepHours  *int    `json:"channels_keep_hours"`
	RecordingsKeepDays *int    `json:"recordings_keep_days"`
}

// handleGetSettings returns the current settings snapshot.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	snap := s.settings.Snapshot()
	writeJSON(w, http.StatusOK, settingsResponse{
		RecordCalls:        snap.RecordCalls,
		AutoReloadCalls:    snap.AutoReloadCalls,
		AutoReloadChannels: snap.AutoReloadChannels,
		AutoCreatePartners: snap.AutoCreatePartners,
		PermitIPAddresses:  snap.PermitIPAddresses,
		OriginateContext:   snap.OriginateContext,
		OriginateTimeout:   int(snap.OriginateTimeout.Seconds()),
		MaxExtenLength:     snap.MaxExtenLength,
		CallsKeepDays:      snap.CallsKeepDays,
		ChannelsKeepHours:  snap.ChannelsKeepHours,
		RecordingsKeepDays: snap.RecordingsKeepDays,
	})
}

// handleUpdateSettings applies a partial settings update. Only the fields
// present in the body are written.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.PermitIPAddresses != nil {
		if errMsg := validateIPList("permit_ip_addresses", *req.PermitIPAddresses); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}
	for field, v := range map[string]*int{
		"originate_timeout":    req.OriginateTimeout,
		"max_exten_length":     req.MaxExtenLength,
		"calls_keep_days":      req.CallsKeepDays,
		"channels_keep_hours":  req.ChannelsKeepHours,
		"recordings_keep_days": req.RecordingsKeepDays,
	} {
		if v != nil && *v < 0 {
			writeError(w, http.StatusBadRequest, field+" must be non-negative")
			return
		}
	}

	updates := map[string]string{}
	putBool := func(key string, v *bool) {
		if v != nil {
			updates[key] = strconv.FormatBool(*v)
		}
	}
	putInt := func(key string, v *int) {
		if v != nil {
			updates[key] = strconv.Itoa(*v)
		}
	}
	putBool(settings.KeyRecordCalls, req.RecordCalls)
	putBool(settings.KeyAutoReloadCalls, req.AutoReloadCalls)
	putBool(settings.KeyAutoReloadChannels, req.AutoReloadChannels)
	putBool(settings.KeyAutoCreatePartners, req.AutoCreatePartners)
	if req.PermitIPAddresses != nil {
		updates[settings.KeyPermitIPAddresses] = *req.PermitIPAddresses
	}
	if req.OriginateContext != nil {
		updates[settings.KeyOriginateContext] = *req.OriginateContext
	}
	putInt(settings.KeyOriginateTimeout, req.OriginateTimeout)
	putInt(settings.KeyMaxExtenLength, req.MaxExtenLength)
	putInt(settings.KeyCallsKeepDays, req.CallsKeepDays)
	putInt(settings.KeyChannelsKeepHours, req.ChannelsKeepHours)
	putInt(settings.KeyRecordingsKeepDays, req.RecordingsKeepDays)

	for key, value := range updates {
		if err := s.settings.Set(r.Context(), key, value); err != nil {
			slog.Error("update settings: failed to write", "error", err, "key", key)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	s.handleGetSettings(w, r)
}
