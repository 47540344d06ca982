package handler

import (
	"encoding/json"
	"net/http"

	"tripplan/internal/store"
)

// MapView is the initial map the browser shows for a new session.
type MapView struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Zoom    int     `json:"zoom"`
	MaxZoom int     `json:"maxZoom"`
}

type SessionHandler struct {
	store *store.Store
	view  MapView
}

func NewSessionHandler(s *store.Store, view MapView) *SessionHandler {
	return &SessionHandler{store: s, view: view}
}

type CreateSessionResponse struct {
	ID  string  `json:"id"`
	Map MapView `json:"map"`
}

func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.store.Create()
	respondJSON(w, http.StatusCreated, CreateSessionResponse{
		ID:  sess.ID,
		Map: h.view,
	})
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session id")
		return
	}

	sess, ok := h.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.store.Delete(r.PathValue("id")) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
