package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CanvassSync/internal/extsync"
	"github.com/BTreeMap/CanvassSync/internal/models"
)

type recordQuestionResponseRequest struct {
	QuestionResponseID int64  `json:"question_response_id"`
	ExternalSystemID   string `json:"external_system_id"`
}

type recordOptOutRequest struct {
	OptOutID          int64  `json:"opt_out_id"`
	CampaignContactID int64  `json:"campaign_contact_id"`
	ExternalSystemID  string `json:"external_system_id"`
}

// SyncSummary is the per-status sync action count of an external system.
type SyncSummary struct {
	ExternalSystemID string                    `json:"external_system_id"`
	Name             string                    `json:"name"`
	Counts           map[models.SyncStatus]int `json:"counts"`
}

func (s *Server) recordQuestionResponseHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req recordQuestionResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.recordQuestionResponseHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.QuestionResponseID <= 0 || req.ExternalSystemID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("question_response_id and external_system_id are required"))
		return
	}

	action, err := s.service.RecordQuestionResponse(r.Context(), req.QuestionResponseID, req.ExternalSystemID)
	if err != nil {
		s.writeRecordError(w, "Server.recordQuestionResponseHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Accepted("Sync action recorded", action))
}

func (s *Server) recordOptOutHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req recordOptOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.recordOptOutHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.OptOutID <= 0 || req.CampaignContactID <= 0 || req.ExternalSystemID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("opt_out_id, campaign_contact_id and external_system_id are required"))
		return
	}

	action, err := s.service.RecordOptOut(r.Context(), req.OptOutID, req.CampaignContactID, req.ExternalSystemID)
	if err != nil {
		s.writeRecordError(w, "Server.recordOptOutHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Accepted("Sync action recorded", action))
}

func (s *Server) writeRecordError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrQuestionResponseNotFound),
		errors.Is(err, models.ErrOptOutNotFound),
		errors.Is(err, models.ErrContactNotFound),
		errors.Is(err, models.ErrExternalSystemNotFound):
		slog.Warn(op+": referenced record not found", "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, extsync.ErrUnknownSystemType):
		slog.Warn(op+": unsupported external system", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error(op+": record sync action failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record sync action"))
	}
}

func (s *Server) syncActionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, err := s.st.GetSyncAction(r.Context(), id)
	if errors.Is(err, models.ErrSyncActionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Sync action not found"))
		return
	}
	if err != nil {
		slog.Error("Server.syncActionHandler: lookup failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load sync action"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(action))
}

func (s *Server) syncSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	system, err := s.st.GetExternalSystem(r.Context(), id)
	if errors.Is(err, models.ErrExternalSystemNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("External system not found"))
		return
	}
	if err != nil {
		slog.Error("Server.syncSummaryHandler: system lookup failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load external system"))
		return
	}
	counts, err := s.st.CountSyncActionsByStatus(r.Context(), system.ID)
	if err != nil {
		slog.Error("Server.syncSummaryHandler: count failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to count sync actions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(SyncSummary{
		ExternalSystemID: system.ID,
		Name:             system.Name,
		Counts:           counts,
	}))
}
