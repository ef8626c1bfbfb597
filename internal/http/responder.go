package httpserver

import (
	"encoding/json"
	"net/http"

	"history_table_manager/internal/history"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

type batchResponse struct {
	*history.BatchResult
	Summary string `json:"summary"`
}

// writeBatch answers 200 when every table succeeded or was skipped and 207
// when at least one failed; per-table details are in the body either way.
func writeBatch(w http.ResponseWriter, result *history.BatchResult) {
	status := http.StatusOK
	if result.HasFailures() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, batchResponse{BatchResult: result, Summary: result.Summary()})
}
