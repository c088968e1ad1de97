package server

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/pictor/internal/common"
)

// healthHandler answers liveness probes
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
	})
}

// versionHandler returns build identification
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// statusHandler reports what an operator checks first: queue load,
// renderer reachability, catalog size, and the last retention sweep
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}

	lastRun, jobsDeleted, upscalesDeleted := s.purge.LastRun()
	purgeStatus := map[string]any{
		"jobs_deleted":     jobsDeleted,
		"upscales_deleted": upscalesDeleted,
	}
	if !lastRun.IsZero() {
		purgeStatus["last_run"] = lastRun
	}

	catalog := s.catalog.Catalog()
	catalogStatus := map[string]any{}
	if catalog != nil {
		catalogStatus["models"] = len(catalog.Models)
		catalogStatus["samplers"] = len(catalog.Samplers)
		catalogStatus["schedulers"] = len(catalog.Schedulers)
		catalogStatus["adapters"] = len(catalog.Adapters)
		if len(catalog.Truncated) > 0 {
			catalogStatus["truncated"] = catalog.Truncated
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": common.GetVersion(),
		"queue": map[string]any{
			"depth":      s.queue.Depth(),
			"processing": s.queue.IsProcessing(),
		},
		"renderer": map[string]any{
			"base_url":  s.config.Backend.BaseURL,
			"reachable": s.renderer.Ping(r.Context()),
		},
		"catalog": catalogStatus,
		"purge":   purgeStatus,
	})
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
