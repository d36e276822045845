package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/localserve/devsup/pkg/registry"
)

// NewRouter wires the API endpoints for a registry.
func NewRouter(reg *registry.Registry) http.Handler {
	h := NewHandler(reg)
	s := NewStreamer(reg)

	r := mux.NewRouter()
	r.HandleFunc("/api/services", h.ListServices).Methods(http.MethodGet)
	r.HandleFunc("/api/services", h.AddService).Methods(http.MethodPost)
	r.HandleFunc("/api/services/{name}", h.GetService).Methods(http.MethodGet)
	r.HandleFunc("/api/services/{name}", h.RemoveService).Methods(http.MethodDelete)
	r.HandleFunc("/api/services/{name}/log", h.GetServiceLog).Methods(http.MethodGet)
	r.HandleFunc("/api/services/{name}/logs/stream", s.StreamLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/services/{name}/start", h.StartService).Methods(http.MethodPost)
	r.HandleFunc("/api/services/{name}/stop", h.StopService).Methods(http.MethodPost)
	r.HandleFunc("/api/services/{name}/restart", h.RestartService).Methods(http.MethodPost)
	r.HandleFunc("/api/services/{name}/kill-conflict", h.KillConflict).Methods(http.MethodPost)
	r.HandleFunc("/api/services/{name}/check", h.CheckService).Methods(http.MethodPost)
	r.HandleFunc("/api/check", h.CheckAll).Methods(http.MethodPost)
	r.HandleFunc("/api/export", h.Export).Methods(http.MethodGet)
	r.HandleFunc("/api/import", h.Import).Methods(http.MethodPost)
	return r
}
