package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/erpwa/outbound-worker/internal/model"
	"github.com/erpwa/outbound-worker/internal/repo"
)

// WorkerControl is the poller lifecycle surface the admin API drives.
type WorkerControl interface {
	Start() bool
	Stop() bool
	IsRunning() bool
}

type Handler struct {
	worker WorkerControl
	store  repo.MessageStore
}

func NewHandler(w WorkerControl, s repo.MessageStore) *Handler {
	return &Handler{worker: w, store: s}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.worker.IsRunning()})
}

func (h *Handler) WorkerStart(w http.ResponseWriter, r *http.Request) {
	h.worker.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.worker.IsRunning()})
}

func (h *Handler) WorkerStop(w http.ResponseWriter, r *http.Request) {
	h.worker.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.worker.IsRunning()})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	switch status {
	case model.Queued, model.Processing, model.Sent, model.Failed:
	case "":
		status = model.Sent
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.store.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
