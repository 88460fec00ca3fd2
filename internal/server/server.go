package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"devserve/internal/logging"
	"devserve/internal/metrics"
	"devserve/internal/reload"
	"devserve/internal/watcher"
)

const (
	readHeaderTimeout    = 5 * time.Second
	defaultCacheSize     = 128
	defaultShutdownDelay = 5 * time.Second
)

var ErrServerStopped = errors.New("server stopped")

// NotifyClient delivers reload signals to connected browsers. The server
// mounts it at reload.EndpointPath.
type NotifyClient interface {
	http.Handler
	Broadcast(reload.Message)
	ClientCount() int
	Close() error
}

// WatchReporter exposes filesystem watch stats for the health endpoint.
type WatchReporter interface {
	Metrics() watcher.Metrics
}

type Options struct {
	Root     string
	Host     string
	Port     int
	Notifier NotifyClient
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	// InjectScript adds the live-reload script tag to served HTML.
	InjectScript   bool
	MetricsEnabled bool
	CSSInject      bool
	CacheSize      int
	Version        string
}

// Server serves a directory over HTTP and forwards reload signals to the
// connected clients.
type Server struct {
	options  Options
	root     string
	logger   *logging.Logger
	notifier NotifyClient
	pages    *pageCache

	mutex    sync.Mutex
	listener net.Listener
	http     *http.Server
	started  bool
	stopped  bool
	served   chan struct{}
	serveErr error
	watch    WatchReporter
}

func New(options Options) (*Server, error) {
	if options.Root == "" {
		return nil, errors.New("root directory is required")
	}
	if options.Port < 0 || options.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", options.Port)
	}
	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(map[string]string{"devserve.category": "server"})
	notifier := options.Notifier
	if notifier == nil {
		notifier = reload.NewHub(reload.HubOptions{Logger: logger, Metrics: options.Metrics})
	}
	cacheSize := options.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	pages, err := newPageCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		options:  options,
		root:     root,
		logger:   logger,
		notifier: notifier,
		pages:    pages,
		served:   make(chan struct{}),
	}, nil
}

// Start validates the root, binds host:port and serves in the background. A
// bind failure returns *BindError and leaves nothing listening.
func (server *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	server.mutex.Lock()
	defer server.mutex.Unlock()
	if server.stopped {
		return ErrServerStopped
	}
	if server.started {
		return errors.New("server already started")
	}
	if err := watcher.ValidateRoot(server.root); err != nil {
		return err
	}

	listener, err := listenOn(server.options.Host, server.options.Port)
	if err != nil {
		return err
	}

	server.listener = listener
	server.http = &http.Server{
		Handler:           server.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	server.started = true

	go func(httpServer *http.Server) {
		err := httpServer.Serve(listener)
		server.mutex.Lock()
		server.serveErr = err
		server.mutex.Unlock()
		close(server.served)
	}(server.http)

	server.logger.Info("serving directory", map[string]string{
		"root": server.root,
		"addr": listener.Addr().String(),
	})
	return nil
}

// Wait blocks until the server stops serving and returns the serve error.
// A clean Stop yields http.ErrServerClosed.
func (server *Server) Wait() error {
	server.mutex.Lock()
	started := server.started
	server.mutex.Unlock()
	if !started {
		return ErrServerStopped
	}
	<-server.served
	server.mutex.Lock()
	defer server.mutex.Unlock()
	return server.serveErr
}

// BroadcastReload tells every connected client to refresh. It does not wait
// for acknowledgement.
func (server *Server) BroadcastReload(batch watcher.Batch) {
	if server == nil {
		return
	}
	for _, changed := range batch.Paths {
		server.pages.forget(changed)
	}
	server.notifier.Broadcast(reload.NewMessage(batch.Paths, server.options.CSSInject))
}

// Stop releases the port and disconnects every client. Calling it again is a
// no-op.
func (server *Server) Stop(ctx context.Context) error {
	if server == nil {
		return nil
	}
	server.mutex.Lock()
	if server.stopped {
		server.mutex.Unlock()
		return nil
	}
	server.stopped = true
	httpServer := server.http
	server.mutex.Unlock()

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultShutdownDelay)
		defer cancel()
	}

	var stopErr error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			stopErr = errors.Join(stopErr, err)
			_ = httpServer.Close()
		}
	}
	// Websocket connections are hijacked and survive Shutdown.
	if err := server.notifier.Close(); err != nil {
		stopErr = errors.Join(stopErr, err)
	}
	server.logger.Info("server stopped", nil)
	return stopErr
}

// Addr returns the bound address, or "" before Start.
func (server *Server) Addr() string {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	if server.listener == nil {
		return ""
	}
	return server.listener.Addr().String()
}

// ReportWatch attaches the watcher whose stats /healthz reports.
func (server *Server) ReportWatch(reporter WatchReporter) {
	server.mutex.Lock()
	server.watch = reporter
	server.mutex.Unlock()
}

func (server *Server) watchReporter() WatchReporter {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	return server.watch
}

// URL returns the base URL browsers should open.
func (server *Server) URL() string {
	return browserURL(server.options.Host, server.Addr())
}

// browserURL prefers the configured host over the listener's. Unspecified
// addresses are shown as localhost since browsers refuse to open them.
func browserURL(configuredHost, addr string) string {
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if configuredHost != "" {
		host = configuredHost
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func listenOn(host string, port int) (net.Listener, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, &BindError{Host: host, Port: port, Err: err}
	}
	if _, ok := listener.Addr().(*net.TCPAddr); !ok {
		_ = listener.Close()
		return nil, &BindError{Host: host, Port: port, Err: fmt.Errorf("unexpected listener address: %T", listener.Addr())}
	}
	return listener, nil
}
