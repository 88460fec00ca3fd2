package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"devserve/internal/reload"
)

const (
	HealthPath  = "/__devserve/healthz"
	MetricsPath = "/__devserve/metrics"
)

type healthResponse struct {
	Status  string       `json:"status"`
	Clients int          `json:"clients"`
	Version string       `json:"version,omitempty"`
	Root    string       `json:"root"`
	Watch   *watchHealth `json:"watch,omitempty"`
}

type watchHealth struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsDelivered uint64 `json:"events_delivered"`
	Errors          uint64 `json:"errors"`
	RestartAttempts int    `json:"restart_attempts"`
}

func (server *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(reload.EndpointPath, server.notifier)
	mux.Handle(reload.ScriptPath, reload.ScriptHandler())
	mux.HandleFunc(HealthPath, server.handleHealth)
	if server.options.MetricsEnabled {
		mux.Handle(MetricsPath, server.options.Metrics.Handler())
	}
	mux.Handle("/", newStaticHandler(server.root, server.pages, server.options.InjectScript))
	return server.requestMiddleware(mux)
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	setSecurityHeaders(w, cacheControlNoStore)
	response := healthResponse{
		Status:  "ok",
		Clients: server.notifier.ClientCount(),
		Version: server.options.Version,
		Root:    server.root,
	}
	if reporter := server.watchReporter(); reporter != nil {
		stats := reporter.Metrics()
		response.Watch = &watchHealth{
			ActiveWatches:   stats.ActiveWatches,
			EventsDelivered: stats.EventsDelivered,
			Errors:          stats.Errors,
			RestartAttempts: stats.RestartAttempts,
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (server *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if recorder.hijacked {
			status = http.StatusSwitchingProtocols
		} else if status == 0 {
			status = http.StatusOK
		}
		server.options.Metrics.IncHTTPRequest(status)
		server.logger.Debug("http request", map[string]string{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   strconv.Itoa(status),
			"bytes":    strconv.FormatInt(recorder.bytes, 10),
			"duration": time.Since(started).String(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	hijacked bool
}

func (recorder *statusRecorder) WriteHeader(statusCode int) {
	if recorder.status == 0 {
		recorder.status = statusCode
	}
	recorder.ResponseWriter.WriteHeader(statusCode)
}

func (recorder *statusRecorder) Write(data []byte) (int, error) {
	if recorder.status == 0 {
		recorder.status = http.StatusOK
	}
	n, err := recorder.ResponseWriter.Write(data)
	recorder.bytes += int64(n)
	return n, err
}

// Hijack lets the websocket upgrader take over the connection.
func (recorder *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := recorder.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		recorder.hijacked = true
	}
	return conn, rw, err
}

func (recorder *statusRecorder) Flush() {
	if flusher, ok := recorder.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (recorder *statusRecorder) Unwrap() http.ResponseWriter {
	return recorder.ResponseWriter
}
