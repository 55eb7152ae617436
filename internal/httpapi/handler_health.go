package httpapi

import (
	"io"
	"net/http"

	"pkt.systems/booksden/api"
)

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := io.WriteString(w, RootBanner)
	return err
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) error {
	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "ok"}, nil)
	return nil
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.Ping(r.Context()); err != nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: api.ErrorNotReady, Detail: err.Error()}
	}
	h.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "ready"}, nil)
	return nil
}
