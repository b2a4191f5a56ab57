package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/starkillerOG/HA-motion-blinds/internal/app"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/metrics"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/entries"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// handler bundles HTTP endpoints for the bridge services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog
}

// NewHandler returns a router exposing the bridge REST API. The auth
// middleware is applied to every route except /healthz and /metrics. When
// auditPath is set, audit entries are additionally appended there as JSONL.
func NewHandler(application *app.Application, auth *Auth, auditPath string, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	var sink auditSink
	if auditPath != "" {
		fileSink, err := newFileAuditSink(auditPath)
		if err != nil {
			log.WithError(err).WithField("path", auditPath).Warn("audit file sink disabled")
		} else {
			sink = fileSink
		}
	}
	h := &handler{app: application, log: log, audit: newAuditLog(0, sink)}

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(h.healthz)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if auth != nil {
		api.Use(auth.Middleware)
	}
	api.Use(h.auditMiddleware)

	api.HandleFunc("/entries", h.createEntry).Methods(http.MethodPost)
	api.HandleFunc("/entries", h.listEntries).Methods(http.MethodGet)
	api.HandleFunc("/entries/{entry}", h.getEntry).Methods(http.MethodGet)
	api.HandleFunc("/entries/{entry}", h.removeEntry).Methods(http.MethodDelete)
	api.HandleFunc("/entries/{entry}/reload", h.reloadEntry).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entry}/refresh", h.refreshEntry).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entry}/blinds", h.listBlinds).Methods(http.MethodGet)
	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device}", h.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/services/{service}", h.callService).Methods(http.MethodPost)
	api.HandleFunc("/events", h.events).Methods(http.MethodGet)
	api.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	// CORS runs outside the router so preflight requests answer before
	// method matching can 405 them.
	return metrics.InstrumentHandler(corsMiddleware(r))
}

type entryResponse struct {
	Entry  any    `json:"entry"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func (h *handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title               string `json:"title"`
		Host                string `json:"host"`
		APIKey              string `json:"api_key"`
		PollIntervalSeconds int    `json:"poll_interval_seconds"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	interval := time.Duration(payload.PollIntervalSeconds) * time.Second
	e, err := h.app.Entries.Add(r.Context(), payload.Title, payload.Host, payload.APIKey, interval)
	if err != nil {
		// An unreachable gateway is not fatal; the entry is persisted and
		// can be reloaded once the gateway answers.
		if errors.Is(err, entries.ErrEntryNotReady) {
			writeJSON(w, http.StatusAccepted, entryResponse{Entry: e, Ready: false, Detail: err.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{Entry: e, Ready: true})
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Entries.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getEntry(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entry"]
	e, err := h.app.Entries.Get(r.Context(), entryID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	_, ready := h.app.Entries.Coordinator(entryID)
	writeJSON(w, http.StatusOK, entryResponse{Entry: e, Ready: ready})
}

func (h *handler) removeEntry(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entry"]
	if err := h.app.Entries.Remove(r.Context(), entryID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) reloadEntry(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entry"]
	if err := h.app.Entries.Reload(r.Context(), entryID); err != nil {
		if errors.Is(err, entries.ErrEntryNotReady) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) refreshEntry(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entry"]
	coord, ok := h.app.Entries.Coordinator(entryID)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("entry %s is not set up", entryID))
		return
	}
	if err := coord.Refresh(r.Context()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, coord.Data())
}

func (h *handler) listBlinds(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entry"]
	coord, ok := h.app.Entries.Coordinator(entryID)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("entry %s is not set up", entryID))
		return
	}
	writeJSON(w, http.StatusOK, coord.Data())
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.app.Registry.List(r.Context(), r.URL.Query().Get("entry_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (h *handler) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.app.Registry.Get(r.Context(), mux.Vars(r)["device"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (h *handler) callService(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]
	var payload map[string]any
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Calls.Call(r.Context(), service, payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.audit.list())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
