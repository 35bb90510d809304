package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// handlePing reports 200 unless a file named "maintenance" exists in the
// current working directory, in which case it reports 404 — a simple
// load-balancer draining signal, per SPEC_FULL.md §4.9.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	wd, err := os.Getwd()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("{}"))
		return
	}

	status := http.StatusOK
	if _, err := os.Stat(filepath.Join(wd, "maintenance")); err == nil {
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte("{}"))
}
