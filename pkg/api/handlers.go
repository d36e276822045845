package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/localserve/devsup/pkg/logger"
	"github.com/localserve/devsup/pkg/models"
	"github.com/localserve/devsup/pkg/registry"
	"github.com/localserve/devsup/pkg/supervisor"
)

// Handler exposes registry and supervisor operations over HTTP. The
// control operations are fire-and-forget: they return 202 and the caller
// observes outcomes through the snapshot endpoints.
type Handler struct {
	reg *registry.Registry
}

// NewHandler creates an API handler over a registry.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) service(w http.ResponseWriter, req *http.Request) *supervisor.Supervisor {
	name := mux.Vars(req)["name"]
	sup := h.reg.Get(name)
	if sup == nil {
		http.Error(w, "unknown service: "+name, http.StatusNotFound)
		return nil
	}
	return sup
}

// ListServices handles GET /api/services.
func (h *Handler) ListServices(w http.ResponseWriter, req *http.Request) {
	sups := h.reg.List()
	snaps := make([]models.ServiceSnapshot, 0, len(sups))
	for _, sup := range sups {
		snaps = append(snaps, sup.Snapshot())
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

// GetService handles GET /api/services/{name}.
func (h *Handler) GetService(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, sup.Snapshot())
}

// GetServiceLog handles GET /api/services/{name}/log.
func (h *Handler) GetServiceLog(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(sup.Snapshot().VisibleLog))
}

// StartService handles POST /api/services/{name}/start.
func (h *Handler) StartService(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	sup.Start()
	h.writeJSON(w, http.StatusAccepted, sup.Snapshot())
}

// StopService handles POST /api/services/{name}/stop.
func (h *Handler) StopService(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	sup.Stop()
	h.writeJSON(w, http.StatusAccepted, sup.Snapshot())
}

// RestartService handles POST /api/services/{name}/restart.
func (h *Handler) RestartService(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	sup.Restart()
	h.writeJSON(w, http.StatusAccepted, sup.Snapshot())
}

// KillConflict handles POST /api/services/{name}/kill-conflict.
func (h *Handler) KillConflict(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	sup.KillConflict()
	h.writeJSON(w, http.StatusAccepted, sup.Snapshot())
}

// CheckService handles POST /api/services/{name}/check.
func (h *Handler) CheckService(w http.ResponseWriter, req *http.Request) {
	sup := h.service(w, req)
	if sup == nil {
		return
	}
	sup.ReconcileStatus()
	h.writeJSON(w, http.StatusOK, sup.Snapshot())
}

// CheckAll handles POST /api/check.
func (h *Handler) CheckAll(w http.ResponseWriter, req *http.Request) {
	h.reg.CheckAll()
	h.ListServices(w, req)
}

// AddService handles POST /api/services.
func (h *Handler) AddService(w http.ResponseWriter, req *http.Request) {
	var def models.ServiceDefinition
	if err := json.NewDecoder(req.Body).Decode(&def); err != nil {
		http.Error(w, "invalid definition: "+err.Error(), http.StatusBadRequest)
		return
	}
	if def.Name == "" || def.Command == "" {
		http.Error(w, "name and command are required", http.StatusBadRequest)
		return
	}
	if err := h.reg.Add(&def); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusCreated, def)
}

// RemoveService handles DELETE /api/services/{name}.
func (h *Handler) RemoveService(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := h.reg.Remove(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/export.
func (h *Handler) Export(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.reg.Export(w); err != nil {
		logger.Error("export failed", "error", err)
	}
}

// Import handles POST /api/import.
func (h *Handler) Import(w http.ResponseWriter, req *http.Request) {
	summary, err := h.reg.Import(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}
