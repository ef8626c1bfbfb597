package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"history_table_manager/internal/history"
)

type TableHandler struct {
	svc    Service
	logger requestLogger
}

func NewTableHandler(svc Service, logger requestLogger) *TableHandler {
	return &TableHandler{svc: svc, logger: logger}
}

type batchRequest struct {
	Tables        []string `json:"tables"`
	Force         bool     `json:"force"`
	RestoreBackup bool     `json:"restore_backup"`
}

var errNoTables = errors.New("tables must not be empty")

func decodeBatch(w http.ResponseWriter, r *http.Request) (batchRequest, []history.TableRef, error) {
	var req batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, nil, err
	}
	if len(req.Tables) == 0 {
		return req, nil, errNoTables
	}
	refs, err := history.ParseTableRefs(req.Tables)
	return req, refs, err
}

func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	tables, err := h.svc.ListTables(r.Context(), r.URL.Query().Get("schema"))
	if err != nil {
		h.logger.Error("list tables failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list tables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *TableHandler) Preview(w http.ResponseWriter, r *http.Request) {
	_, refs, err := decodeBatch(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := h.svc.Preview(r.Context(), refs)
	h.respond(w, "preview", result, err)
}

func (h *TableHandler) Apply(w http.ResponseWriter, r *http.Request) {
	req, refs, err := decodeBatch(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := h.svc.Apply(r.Context(), refs, history.ApplyOptions{Force: req.Force})
	h.respond(w, "apply", result, err)
}

func (h *TableHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	req, refs, err := decodeBatch(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := h.svc.Rollback(r.Context(), refs, history.RollbackOptions{RestoreBackup: req.RestoreBackup})
	h.respond(w, "rollback", result, err)
}

func (h *TableHandler) respond(w http.ResponseWriter, action string, result *history.BatchResult, err error) {
	if err != nil {
		h.logger.Error(action+" batch aborted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "batch_aborted", err.Error())
		return
	}
	writeBatch(w, result)
}
