package reload

import (
	_ "embed"
	"net/http"
)

const (
	// EndpointPath is where browsers open the reload websocket.
	EndpointPath = "/__devserve/livereload"
	// ScriptPath serves the client script injected into HTML pages.
	ScriptPath = "/__devserve/livereload.js"
)

//go:embed assets/livereload.js
var clientScript []byte

// ScriptTag is the markup injected before </body>.
func ScriptTag() string {
	return `<script src="` + ScriptPath + `" data-endpoint="` + EndpointPath + `"></script>`
}

// ScriptHandler serves the embedded client script.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		headers := w.Header()
		headers.Set("Content-Type", "text/javascript; charset=utf-8")
		headers.Set("Cache-Control", "no-store")
		headers.Set("X-Content-Type-Options", "nosniff")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(clientScript)
	})
}
