// Package web provides the HTTP surface of the alarm monitor: a status page
// with the transition history, JSON status and query endpoints, and metrics.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/query"
	"github.com/sweeney/alarm-monitor/internal/status"
	"github.com/sweeney/alarm-monitor/internal/store"
)

// pageLimit caps the history table on the HTML page.
const pageLimit = 200

// StatusSource provides monitor snapshots.
type StatusSource interface {
	Status() status.Snapshot
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	status     StatusSource
	queries    *query.Service
	logger     *zap.Logger
}

// New creates a Server that reads state from src and history from queries.
func New(addr string, src StatusSource, queries *query.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{status: src, queries: queries, logger: logger.With(zap.String("component", "web"))}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/records", s.handleRecords)
	mux.HandleFunc("/api/filters", s.handleFilters)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}

	page := pageData{Snapshot: s.status.Status()}
	page.Uptime = page.Snapshot.Uptime()

	sel, err := selectionFrom(r.URL.Query())
	if err == nil && (sel.Limit <= 0 || sel.Limit > pageLimit) {
		sel.Limit = pageLimit
	}
	page.Selection = sel
	if err == nil {
		page.Records, err = s.queries.Search(r.Context(), sel)
	}
	if err != nil {
		page.Error = err.Error()
		s.logger.Warn("history query failed", zap.Error(err))
	}
	page.Filters, _ = s.queries.Filters(r.Context())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, page); err != nil {
		s.logger.Error("render status page", zap.Error(err))
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.status.Status()))
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	sel, err := selectionFrom(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RecordsResponse{Records: []store.Record{}, Error: err.Error()})
		return
	}

	records, err := s.queries.Search(r.Context(), sel)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, query.ErrValidation) {
			code = http.StatusBadRequest
		} else {
			s.logger.Error("records query failed", zap.Error(err))
		}
		writeJSON(w, code, RecordsResponse{Records: []store.Record{}, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Count: len(records), Records: records})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.queries.Filters(r.Context())
	resp := FiltersResponse{Filters: filters}
	code := http.StatusOK
	if err != nil {
		s.logger.Error("filter values query failed", zap.Error(err))
		resp.Error = err.Error()
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}

// selectionFrom reads the history query parameters.
func selectionFrom(v url.Values) (query.Selection, error) {
	sel := query.Selection{
		FromDate:    v.Get("from_date"),
		FromTime:    v.Get("from_time"),
		ToDate:      v.Get("to_date"),
		ToTime:      v.Get("to_time"),
		Kind:        v.Get("kind"),
		Status:      v.Get("status"),
		Description: v.Get("description"),
		Source:      v.Get("source"),
		Search:      v.Get("q"),
	}
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return sel, &query.ValidationError{Field: "limit", Value: raw, Reason: "want an integer"}
		}
		sel.Limit = n
	}
	return sel, nil
}
