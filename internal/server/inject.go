package server

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"devserve/internal/fsutil"
	"devserve/internal/reload"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	cacheControlNoStore = "no-store"
	indexFile           = "index.html"
	maxInjectSize       = 8 << 20
)

// cachedPage is an injected HTML body. It is valid while the file keeps the
// same size and modification time.
type cachedPage struct {
	size    int64
	modTime time.Time
	body    []byte
}

type pageCache struct {
	pages *lru.Cache[string, cachedPage]
}

func newPageCache(size int) (*pageCache, error) {
	pages, err := lru.New[string, cachedPage](size)
	if err != nil {
		return nil, err
	}
	return &pageCache{pages: pages}, nil
}

func (cache *pageCache) get(name string, info fs.FileInfo) ([]byte, bool) {
	page, ok := cache.pages.Get(name)
	if !ok || page.size != info.Size() || !page.modTime.Equal(info.ModTime()) {
		return nil, false
	}
	return page.body, true
}

func (cache *pageCache) put(name string, info fs.FileInfo, body []byte) {
	cache.pages.Add(name, cachedPage{size: info.Size(), modTime: info.ModTime(), body: body})
}

func (cache *pageCache) forget(name string) {
	cleaned, err := fsutil.CleanFSPath(name)
	if err != nil {
		return
	}
	cache.pages.Remove(cleaned)
}

func (cache *pageCache) count() int {
	return cache.pages.Len()
}

// staticHandler serves files below root. HTML pages get the reload script
// injected; everything else goes through http.FileServer.
type staticHandler struct {
	files      fs.FS
	fileServer http.Handler
	pages      *pageCache
	inject     bool
	scriptTag  []byte
}

func newStaticHandler(root string, pages *pageCache, inject bool) *staticHandler {
	files := os.DirFS(root)
	return &staticHandler{
		files:      files,
		fileServer: http.FileServer(http.FS(files)),
		pages:      pages,
		inject:     inject,
		scriptTag:  []byte(reload.ScriptTag()),
	}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w, cacheControlNoStore)
	if !h.inject || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	name, ok := h.resolveHTML(r.URL.Path)
	if !ok {
		h.fileServer.ServeHTTP(w, r)
		return
	}
	body, info, err := h.injectedPage(name)
	if err != nil {
		// Let the file server produce the matching status.
		h.fileServer.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, info.Name(), time.Time{}, bytes.NewReader(body))
}

// resolveHTML maps a request path to an HTML file name inside the root. A
// directory resolves to its index.html when the request has a trailing
// slash; without one the file server issues the redirect.
func (h *staticHandler) resolveHTML(requestPath string) (string, bool) {
	name, err := fsutil.CleanFSPath(requestPath)
	if err != nil {
		return "", false
	}
	info, err := fs.Stat(h.files, name)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		if !strings.HasSuffix(requestPath, "/") {
			return "", false
		}
		name = path.Join(name, indexFile)
		if _, err := fs.Stat(h.files, name); err != nil {
			return "", false
		}
	} else if strings.HasSuffix(requestPath, "/"+indexFile) {
		// http.FileServer redirects /index.html to ./ ; keep that behavior.
		return "", false
	}
	if !isHTML(name) {
		return "", false
	}
	return name, true
}

func (h *staticHandler) injectedPage(name string) ([]byte, fs.FileInfo, error) {
	file, err := h.files.Open(name)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, errors.New("is a directory")
	}
	if body, ok := h.pages.get(name, info); ok {
		return body, info, nil
	}
	if info.Size() > maxInjectSize {
		return nil, nil, errors.New("page too large to inject")
	}
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, err
	}
	body := injectScript(raw, h.scriptTag)
	h.pages.put(name, info, body)
	return body, info, nil
}

func isHTML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	default:
		return false
	}
}

// injectScript inserts tag before the last </body>, or appends it when the
// document has none. Pages that already reference the script are unchanged.
func injectScript(page, tag []byte) []byte {
	if bytes.Contains(page, []byte(reload.ScriptPath)) {
		return page
	}
	index := lastIndexFold(page, []byte("</body>"))
	if index < 0 {
		out := make([]byte, 0, len(page)+len(tag)+1)
		out = append(out, page...)
		if len(page) > 0 && page[len(page)-1] != '\n' {
			out = append(out, '\n')
		}
		return append(out, tag...)
	}
	out := make([]byte, 0, len(page)+len(tag))
	out = append(out, page[:index]...)
	out = append(out, tag...)
	return append(out, page[index:]...)
}

// lastIndexFold is an ASCII case-insensitive bytes.LastIndex.
func lastIndexFold(s, sep []byte) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		if bytes.EqualFold(s[i:i+len(sep)], sep) {
			return i
		}
	}
	return -1
}

func setSecurityHeaders(w http.ResponseWriter, cacheControl string) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", "nosniff")
	if cacheControl != "" {
		headers.Set("Cache-Control", cacheControl)
	}
}
