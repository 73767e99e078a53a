// Package api exposes the Scanner's introspection surface (spec.md
// §4.8) as a JSON HTTP API, grounded on the teacher's
// manager.EnterpriseManager.startAPIServer gorilla/mux router
// (internal/manager/enterprise.go) and cmd/dashboard's route grouping.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/project-sentinel/pysentinel/internal/monitoring"
	"github.com/project-sentinel/pysentinel/internal/sentinel/scanner"
)

// Server serves the scanner's status, metrics, alert, and datasource
// endpoints, plus a mounted Prometheus /metrics handler.
type Server struct {
	scanner *scanner.Scanner
	metrics *monitoring.ScannerMetrics
	log     *zap.Logger
	http    *http.Server
}

// New builds a Server bound to addr. Call Start to begin serving.
func New(addr string, sc *scanner.Scanner, metrics *monitoring.ScannerMetrics, log *zap.Logger) *Server {
	s := &Server{scanner: sc, metrics: metrics, log: log}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/metrics/latest", s.handleLatestMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{datasource}", s.handleMetricsBySource).Methods(http.MethodGet)
	api.HandleFunc("/alerts/active", s.handleActiveAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/history", s.handleAlertHistory).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)
	api.HandleFunc("/datasources", s.handleDatasources).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", monitoring.Handler())
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine, logging (not
// panicking on) any error other than a clean shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", zap.Error(err))
		}
	}()
	s.log.Info("api server listening", zap.String("addr", s.http.Addr))
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write api response", zap.Error(err))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":          s.scanner.GetStatus().String(),
		"running":        s.scanner.IsRunning(),
		"uptime_seconds": s.scanner.GetUptimeSeconds(),
		"last_scan_time": s.scanner.GetLastScanTime(),
	})
}

func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scanner.GetLatestMetrics())
}

func (s *Server) handleMetricsBySource(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["datasource"]
	data, ok := s.scanner.GetLatestMetrics()[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no metrics for datasource: " + name})
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scanner.GetActiveAlerts())
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	s.writeJSON(w, http.StatusOK, s.scanner.GetAlertHistory(limit))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.scanner.AcknowledgeAlert(id) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active alert with id: " + id})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleDatasources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scanner.GetDatasources())
}
