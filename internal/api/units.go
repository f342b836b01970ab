package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/progflow/internal/engine"
)

type healthResponse struct {
	Status string `json:"status"`
}

// unitsResponse is the JSON response for GET /units.
type unitsResponse struct {
	Run     int64               `json:"run"`
	Running bool                `json:"running"`
	Units   []engine.UnitStatus `json:"units"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units := s.source.Snapshot()
	s.writeJSON(w, http.StatusOK, unitsResponse{
		Run:     s.source.RunNumber(),
		Running: s.source.Running(),
		Units:   units,
	})
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, u := range s.source.Snapshot() {
		if u.Name == name {
			s.writeJSON(w, http.StatusOK, u)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "unit not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
