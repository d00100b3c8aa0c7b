package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
)

func (s *Server) metricsHandler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(s.metrics))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProvisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"provisions": s.progress.List()})
}

func (s *Server) handleGetProvision(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]
	status, ok := s.progress.Get(callID)
	if !ok {
		jsonError(w, "provision status not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
