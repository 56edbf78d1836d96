package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.catalog.Image(storeContext(r), chi.URLParam(r, "productCode"))
	if err != nil {
		s.mutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "image": img})
}

func (s *Server) handleUpsertImage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if err := s.catalog.UpsertImage(storeContext(r), chi.URLParam(r, "productCode"), payload.ImageURL); err != nil {
		s.mutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "image saved"})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteImage(storeContext(r), chi.URLParam(r, "productCode")); err != nil {
		s.mutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "image deleted"})
}

func (s *Server) handleGetCommission(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalog.Commission(storeContext(r), chi.URLParam(r, "agentCode"))
	if err != nil {
		s.mutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "commission": c})
}

func (s *Server) handleUpdateCommission(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Percent *float64 `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if payload.Percent == nil {
		writeError(w, http.StatusBadRequest, "percent required")
		return
	}
	if err := s.catalog.UpdateCommission(storeContext(r), chi.URLParam(r, "agentCode"), *payload.Percent); err != nil {
		s.mutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "commission updated"})
}

func (s *Server) mutationError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusServiceUnavailable:
		s.log.Warn().Err(err).Msg("store contention")
	case status >= http.StatusInternalServerError:
		s.log.Error().Stack().Err(err).Msg("mutation failed")
	}
	writeError(w, status, "%s", err)
}
