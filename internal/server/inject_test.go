package server

import (
	"io/fs"
	"testing"
	"time"
)

func TestInjectScript(t *testing.T) {
	tag := []byte("<script></script>")
	cases := []struct {
		name string
		page string
		want string
	}{
		{name: "before body", page: "<body><p>x</p></body></html>", want: "<body><p>x</p><script></script></body></html>"},
		{name: "upper case", page: "<BODY>x</BODY>", want: "<BODY>x<script></script></BODY>"},
		{name: "last body tag", page: "<pre></body></pre><body></body>", want: "<pre></body></pre><body><script></script></body>"},
		{name: "no body", page: "<p>fragment</p>", want: "<p>fragment</p>\n<script></script>"},
		{name: "empty", page: "", want: "<script></script>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(injectScript([]byte(tc.page), tag)); got != tc.want {
				t.Fatalf("injectScript() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInjectScriptSkipsPagesWithScript(t *testing.T) {
	page := `<body><script src="/__devserve/livereload.js"></script></body>`
	if got := string(injectScript([]byte(page), []byte("<script></script>"))); got != page {
		t.Fatalf("expected page to be unchanged, got %q", got)
	}
}

func TestIsHTML(t *testing.T) {
	for name, want := range map[string]bool{
		"index.html":  true,
		"old.HTM":     true,
		"app.js":      false,
		"html":        false,
		"docs/a.html": true,
	} {
		if got := isHTML(name); got != want {
			t.Fatalf("isHTML(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPageCacheInvalidatesOnForget(t *testing.T) {
	cache, err := newPageCache(2)
	if err != nil {
		t.Fatalf("newPageCache: %v", err)
	}
	info := fakeInfo{size: 3}
	cache.put("docs/index.html", info, []byte("abc"))
	if _, ok := cache.get("docs/index.html", info); !ok {
		t.Fatal("expected cache hit")
	}
	if _, ok := cache.get("docs/index.html", fakeInfo{size: 4}); ok {
		t.Fatal("expected miss when size changes")
	}
	cache.forget("./docs/index.html")
	if cache.count() != 0 {
		t.Fatalf("expected empty cache, got %d", cache.count())
	}
}

type fakeInfo struct {
	size    int64
	modTime time.Time
}

func (info fakeInfo) Name() string       { return "fake" }
func (info fakeInfo) Size() int64        { return info.size }
func (info fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (info fakeInfo) ModTime() time.Time { return info.modTime }
func (info fakeInfo) IsDir() bool        { return false }
func (info fakeInfo) Sys() any           { return nil }
