package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"

	"patchbay/internal/codec"
	"patchbay/internal/domain"
	"patchbay/internal/driver"
	"patchbay/internal/repository"
	"patchbay/internal/service"
)

// maxBody bounds request bodies
const maxBody = 1 << 20

// PatchHandler handles patchbay API requests
type PatchHandler struct {
	svc *service.PatchService
	log logr.Logger
}

// NewPatchHandler creates a new handler
func NewPatchHandler(svc *service.PatchService, log logr.Logger) *PatchHandler {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &PatchHandler{svc: svc, log: log.WithName("http")}
}

// Register adds the API routes to mux
func (h *PatchHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/graph", h.GetGraph)
	mux.HandleFunc("GET /api/status", h.GetStatus)
	mux.HandleFunc("POST /api/connections", h.Connect)
	mux.HandleFunc("DELETE /api/connections", h.Disconnect)
	mux.HandleFunc("POST /api/refresh", h.Refresh)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/export/{format}", h.Export)
	mux.HandleFunc("POST /api/import/{format}", h.Import)
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ConnectionRequest names the two port views of a subscription
type ConnectionRequest struct {
	Source      domain.PortID `json:"source"`
	Destination domain.PortID `json:"destination"`
}

// GetGraph returns the complete graph
func (h *PatchHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Graph(), http.StatusOK)
}

// GetStatus returns the driver status
func (h *PatchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Status(), http.StatusOK)
}

// Connect requests a subscription
func (h *PatchHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.subscription(w, r, "connect", h.svc.Connect)
}

// Disconnect requests removal of a subscription
func (h *PatchHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.subscription(w, r, "disconnect", h.svc.Disconnect)
}

func (h *PatchHandler) subscription(w http.ResponseWriter, r *http.Request, op string, call func(src, dst domain.PortID) error) {
	var req ConnectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	if err := call(req.Source, req.Destination); err != nil {
		h.log.V(1).Info("request failed", "op", op, "source", req.Source, "destination", req.Destination, "error", err.Error())
		h.writeError(w, "Failed to "+op, err.Error(), statusFor(err))
		return
	}

	h.writeJSON(w, map[string]string{"status": "requested"}, http.StatusAccepted)
}

// Refresh reconciles the model with the hardware
func (h *PatchHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Refresh(); err != nil {
		h.log.Error(err, "refresh failed")
		h.writeError(w, "Failed to refresh", err.Error(), statusFor(err))
		return
	}
	h.writeJSON(w, h.svc.Status(), http.StatusOK)
}

// History lists journaled deltas
func (h *PatchHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.Filter{
		Kind:    domain.EventKind(q.Get("kind")),
		Session: q.Get("session"),
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			h.writeError(w, "Invalid limit", s, http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	entries, err := h.svc.History(r.Context(), f)
	if err != nil {
		if errors.Is(err, service.ErrNoJournal) {
			h.writeError(w, "History unavailable", err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error(err, "history query failed")
		h.writeError(w, "Failed to read history", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, entries, http.StatusOK)
}

// Export writes the graph as a patch document
func (h *PatchHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	contentType := map[string]string{"json": "application/json", "yaml": "application/x-yaml"}[format]
	if contentType == "" {
		h.writeError(w, "Unknown format", format, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=patchbay."+format)
	if err := h.svc.Export(w, format); err != nil {
		// Can't write error response as we already set headers
		h.log.Error(err, "export failed", "format", format)
	}
}

// Import connects every link of a patch document
func (h *PatchHandler) Import(w http.ResponseWriter, r *http.Request) {
	c, err := codec.ForFormat(r.PathValue("format"))
	if err != nil {
		h.writeError(w, "Unknown format", err.Error(), http.StatusNotFound)
		return
	}

	patch, err := c.Parse(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.writeError(w, "Invalid patch", err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.ApplyPatch(patch)
	if err != nil {
		h.writeError(w, "Invalid patch", err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, res, http.StatusAccepted)
}

// statusFor maps driver errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, driver.ErrUnknownPort):
		return http.StatusNotFound
	case errors.Is(err, driver.ErrNotAttached):
		return http.StatusServiceUnavailable
	case errors.Is(err, driver.ErrOperationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *PatchHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error(err, "failed to encode JSON")
	}
}

func (h *PatchHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
