package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/networktap/networktap/internal/logger"
)

// Meta annotates cached responses so the UI can show data age.
type Meta struct {
	Cached bool  `json:"cached"`
	TTLMs  int64 `json:"ttl_ms"`
}

// Envelope is the uniform success shape: payload under data, cache
// metadata under meta when applicable.
type Envelope struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

type errorBody struct {
	Error *Error `json:"error"`
}

// JSON writes v with the given status. Encoding failures are logged;
// by then the status line is already gone.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// Data writes a 200 envelope without cache metadata.
func Data(w http.ResponseWriter, v any) {
	JSON(w, http.StatusOK, Envelope{Data: v})
}

// DataStatus writes an envelope with an explicit status code.
func DataStatus(w http.ResponseWriter, status int, v any) {
	JSON(w, status, Envelope{Data: v})
}

// Cached writes a 200 envelope flagged as served from a TTL cache.
func Cached(w http.ResponseWriter, v any, ttl time.Duration) {
	JSON(w, http.StatusOK, Envelope{
		Data: v,
		Meta: &Meta{Cached: true, TTLMs: ttl.Milliseconds()},
	})
}

// Fail classifies err, logs one line for the request, and writes the
// error envelope. 4xx log at warn, 5xx at error.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	status := e.Status()

	fields := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", string(e.Kind),
		"error", err,
	}
	if status >= 500 {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request rejected", fields...)
	}

	if e.Kind == KindUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Basic realm="networktap"`)
	}
	JSON(w, status, errorBody{Error: e})
}
