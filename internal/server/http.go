package server

// ============================================================================
// HTTP API
// ============================================================================
//
//   POST   /v1/plans              接受請求 → 202 {request_id}，驗證失敗 → 400
//   GET    /v1/plans/{id}         最新快照（尚未 quick-ack 時 → 202）
//   GET    /v1/plans/{id}/events  SSE 串流，每個快照一個事件，Final 後關閉
//   DELETE /v1/plans/{id}         取消請求
//   GET    /healthz               存活檢查
//
// SSE 支援 Last-Event-ID 續傳：事件 id 即快照 Seq。
// HTTP 客戶端斷線不會取消請求；只有 DELETE 會。
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/coordinator"
	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/rs/cors"
)

const maxRequestBody = 1 << 20

// HTTPHandler serves the JSON and SSE API.
type HTTPHandler struct {
	svc *coordinator.Service
}

// NewHTTPHandler returns the API routes wrapped in CORS handling. An empty
// origins list allows any origin.
func NewHTTPHandler(svc *coordinator.Service, origins []string) http.Handler {
	h := &HTTPHandler{svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/plans", h.create)
	mux.HandleFunc("GET /v1/plans/{id}", h.get)
	mux.HandleFunc("GET /v1/plans/{id}/events", h.events)
	mux.HandleFunc("DELETE /v1/plans/{id}", h.cancel)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active": svc.Active()})
	})

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"Location"},
	})
	return c.Handler(mux)
}

type acceptedResponse struct {
	RequestID  types.RequestID `json:"request_id"`
	AcceptedAt time.Time       `json:"accepted_at"`
	Snapshot   string          `json:"snapshot"`
	Events     string          `json:"events"`
}

type errorResponse struct {
	Error    string             `json:"error"`
	Problems []types.FieldError `json:"problems,omitempty"`
}

func (h *HTTPHandler) create(w http.ResponseWriter, r *http.Request) {
	var req types.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decode request: " + err.Error()})
		return
	}

	ticket, err := h.svc.Handle(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	base := "/v1/plans/" + string(ticket.RequestID)
	w.Header().Set("Location", base)
	writeJSON(w, http.StatusAccepted, acceptedResponse{
		RequestID:  ticket.RequestID,
		AcceptedAt: ticket.AcceptedAt,
		Snapshot:   base,
		Events:     base + "/events",
	})
}

func (h *HTTPHandler) get(w http.ResponseWriter, r *http.Request) {
	id := types.RequestID(r.PathValue("id"))
	ch, err := h.svc.Lookup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, ok := ch.Latest()
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusAccepted, map[string]any{"request_id": id})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) events(w http.ResponseWriter, r *http.Request) {
	id := types.RequestID(r.PathValue("id"))
	ch, err := h.svc.Lookup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	var after uint64
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if n, err := strconv.ParseUint(last, 10, 64); err == nil {
			after = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		snap, err := ch.Next(r.Context(), after)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			slog.Debug("Event stream closed by client", "request", id, "error", err)
			return
		}
		if err := writeEvent(w, snap); err != nil {
			slog.Debug("Event stream write failed", "request", id, "error", err)
			return
		}
		flusher.Flush()
		if snap.IsFinal() {
			return
		}
		after = snap.Seq
	}
}

// writeEvent writes one SSE event named after the snapshot stage.
func writeEvent(w io.Writer, s types.AggregateSnapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", s.Seq, s.Stage, data)
	return err
}

func (h *HTTPHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := types.RequestID(r.PathValue("id"))
	if err := h.svc.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"request_id": id, "cancelled": true})
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Problems: verr.Problems})
	case errors.Is(err, coordinator.ErrUnknownRequest):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, coordinator.ErrDuplicateRequest), errors.Is(err, coordinator.ErrFinished):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Write response failed", "error", err)
	}
}
