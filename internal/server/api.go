package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bcc950-remote/internal/protocol"
)

const sourceHTTP = "http"

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status(""))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cam.Position())
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.MovePayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.move(sourceHTTP, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Position())
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req protocol.ZoomPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.zoom(sourceHTTP, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Position())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.stop(sourceHTTP); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Position())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.reset(sourceHTTP); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Position())
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.PresetsPayload{Presets: s.cam.Presets()})
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.savePreset(sourceHTTP, name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Presets()[name])
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.deletePreset(sourceHTTP, chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecallPreset(w http.ResponseWriter, r *http.Request) {
	if err := s.recallPreset(sourceHTTP, chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Position())
}
