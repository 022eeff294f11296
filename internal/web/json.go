package web

import (
	"encoding/json"
	"net/http"

	"github.com/sweeney/alarm-monitor/internal/query"
	"github.com/sweeney/alarm-monitor/internal/store"
)

// RecordsResponse is the body of /api/records. Records is never null.
type RecordsResponse struct {
	Count   int            `json:"count"`
	Records []store.Record `json:"records"`
	Error   string         `json:"error,omitempty"`
}

// FiltersResponse is the body of /api/filters.
type FiltersResponse struct {
	query.Filters
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
