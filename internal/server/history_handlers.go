package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MeKo-Tech/defectscan/internal/store"
)

type deleteRecordRequest struct {
	RecordID int64 `json:"record_id"`
}

// historyHandler lists the user's detection records, newest first.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page, err := intQuery(r, "page", 1)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid page")
		return
	}
	perPage, err := intQuery(r, "per_page", store.DefaultPerPage)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid per_page")
		return
	}
	page, perPage = store.NormalizePage(page, perPage)

	userID, _ := userIDFrom(r.Context())
	records, total, err := s.records.ListByUser(r.Context(), userID, page, perPage)
	if err != nil {
		slog.Error("Failed to list records", "user_id", userID, "error", err)
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []store.Record{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Status:     1,
		Records:    records,
		Pagination: store.NewPagination(page, perPage, total),
	})
}

// historyDeleteHandler removes one of the user's records.
func (s *Server) historyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deleteRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RecordID <= 0 {
		writeStatus(w, http.StatusBadRequest, "Missing record_id")
		return
	}

	userID, _ := userIDFrom(r.Context())
	deleted, err := s.records.Delete(r.Context(), req.RecordID, userID)
	if err != nil {
		slog.Error("Failed to delete record", "record_id", req.RecordID, "user_id", userID, "error", err)
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeStatus(w, http.StatusNotFound, "Record not found or not authorized")
		return
	}

	slog.Info("Record deleted", "record_id", req.RecordID, "user_id", userID)
	writeStatus(w, http.StatusOK, "Record deleted")
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
