package api

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// recordingResponse is the JSON representation of a stored recording.
type recordingResponse struct {
	ID            int64   `json:"id"`
	UniqueID      string  `json:"unique_id"`
	CallID        *int64  `json:"call_id"`
	PartnerID     *int64  `json:"partner_id"`
	CallingNumber string  `json:"calling_number"`
	CalledNumber  string  `json:"called_number"`
	Answered      *string `json:"answered"`
	FileName      string  `json:"file_name"`
}

func toRecordingResponse(rec *models.Recording) recordingResponse {
	return recordingResponse{
		ID:            rec.ID,
		UniqueID:      rec.UniqueID,
		CallID:        rec.CallID,
		PartnerID:     rec.PartnerID,
		CallingNumber: rec.CallingNumber,
		CalledNumber:  rec.CalledNumber,
		Answered:      formatTimePtr(rec.Answered),
		FileName:      rec.FileName,
	}
}

// handleListCallRecordings returns all recordings attached to a call.
func (s *Server) handleListCallRecordings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}

	recs, err := s.recordings.ListByCallID(r.Context(), id)
	if err != nil {
		slog.Error("list call recordings: failed to query", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordingResponse, len(recs))
	for i := range recs {
		items[i] = toRecordingResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleDownloadRecording serves the recording file as an attachment download.
func (s *Server) handleDownloadRecording(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recording id")
		return
	}

	rec, err := s.recordings.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("download recording: failed to query", "error", err, "recording_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}

	if _, err := os.Stat(rec.FilePath); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "recording file not found on disk")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(rec.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, rec.FileName))
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, rec.FilePath)
}
