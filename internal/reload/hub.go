package reload

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"devserve/internal/event"
	"devserve/internal/logging"
	"devserve/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultCloseTimeout = 2 * time.Second
	inboundRate         = 5
	inboundBurst        = 10
)

type HubOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// AllowedOrigins are hosts (or full origins) accepted in addition to the
	// server's own host and loopback aliases.
	AllowedOrigins []string
	// MaxClients caps concurrent connections; zero means unlimited.
	MaxClients   int
	PingInterval time.Duration
}

// Hub tracks connected browsers and fans reload messages out to them.
type Hub struct {
	bus     *event.Bus[Message]
	logger  *logging.Logger
	metrics *metrics.Registry
	options HubOptions

	mutex   sync.Mutex
	clients map[string]*client
	pending int
	closed  bool
	active  sync.WaitGroup
}

type client struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
}

type clientMessage struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

func NewHub(options HubOptions) *Hub {
	logger := options.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if options.PingInterval <= 0 {
		options.PingInterval = defaultPingInterval
	}
	logger = logger.With(map[string]string{"devserve.category": "reload"})
	return &Hub{
		bus: event.NewBus[Message](context.Background(), event.BusOptions{
			Name:     "reload",
			Registry: options.Metrics,
			Logger:   logger,
		}),
		logger:  logger,
		metrics: options.Metrics,
		options: options,
		clients: make(map[string]*client),
	}
}

// Broadcast tells every connected client to refresh. Delivery is best effort.
func (hub *Hub) Broadcast(message Message) {
	if hub == nil {
		return
	}
	if message.Kind == "" {
		message.Kind = TypeReload
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	hub.bus.Publish(message)
	hub.metrics.IncReload(message.Kind)
	hub.logger.Info("reload broadcast", map[string]string{
		"type":    message.Kind,
		"clients": strconv.Itoa(hub.ClientCount()),
	})
}

func (hub *Hub) ClientCount() int {
	if hub == nil {
		return 0
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.clients)
}

// Close disconnects every client and rejects new ones. It waits briefly for
// connections to finish and is idempotent.
func (hub *Hub) Close() error {
	if hub == nil {
		return nil
	}
	hub.mutex.Lock()
	if hub.closed {
		hub.mutex.Unlock()
		return nil
	}
	hub.closed = true
	hub.mutex.Unlock()

	hub.bus.Close()

	done := make(chan struct{})
	go func() {
		hub.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultCloseTimeout):
		hub.mutex.Lock()
		for _, remaining := range hub.clients {
			_ = remaining.conn.Close()
		}
		hub.mutex.Unlock()
	}
	return nil
}

func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hub.mutex.Lock()
	if hub.closed {
		hub.mutex.Unlock()
		writeWSError(w, r, nil, hub.logger, wsError{Status: http.StatusServiceUnavailable, Message: "server shutting down"})
		return
	}
	if hub.options.MaxClients > 0 && hub.pending >= hub.options.MaxClients {
		hub.mutex.Unlock()
		writeWSError(w, r, nil, hub.logger, wsError{Status: http.StatusServiceUnavailable, Message: "too many clients"})
		return
	}
	hub.pending++
	hub.active.Add(1)
	hub.mutex.Unlock()
	defer func() {
		hub.mutex.Lock()
		hub.pending--
		hub.mutex.Unlock()
		hub.active.Done()
	}()

	// Subscribe before the handshake completes so a broadcast sent right after
	// the client connects is not missed.
	output, cancel := hub.bus.Subscribe()
	defer cancel()

	conn, err := upgradeWebSocket(w, r, hub.options.AllowedOrigins)
	if err != nil {
		logWSError(hub.logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	current := &client{id: uuid.NewString(), conn: conn, remoteAddr: r.RemoteAddr}
	hub.register(current)
	defer hub.unregister(current)

	writerDone := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(writerDone)
		hub.writeLoop(current, output, stop)
	}()

	hub.readLoop(current)
	close(stop)
	<-writerDone
}

func (hub *Hub) register(current *client) {
	hub.mutex.Lock()
	hub.clients[current.id] = current
	count := len(hub.clients)
	hub.mutex.Unlock()

	hub.metrics.SetConnectedClients(count)
	hub.logger.Debug("client connected", map[string]string{
		"client_id":   current.id,
		"remote_addr": current.remoteAddr,
		"clients":     strconv.Itoa(count),
	})
}

func (hub *Hub) unregister(current *client) {
	hub.mutex.Lock()
	delete(hub.clients, current.id)
	count := len(hub.clients)
	hub.mutex.Unlock()

	hub.metrics.SetConnectedClients(count)
	hub.logger.Debug("client disconnected", map[string]string{
		"client_id": current.id,
		"clients":   strconv.Itoa(count),
	})
}

func (hub *Hub) writeLoop(current *client, output <-chan Message, stop <-chan struct{}) {
	conn := current.conn
	ticker := time.NewTicker(hub.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-output:
			if !ok {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
				_ = conn.Close()
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(message); err != nil {
				hub.logger.Debug("client write failed", map[string]string{
					"client_id": current.id,
					"error":     err.Error(),
				})
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (hub *Hub) readLoop(current *client) {
	conn := current.conn
	conn.SetReadLimit(wsReadLimit)
	pongWait := 2 * hub.options.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(inboundRate), inboundBurst)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			hub.logger.Debug("client message dropped", map[string]string{
				"client_id": current.id,
				"reason":    "rate limited",
			})
			continue
		}
		var payload clientMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		if payload.Type == "hello" {
			hub.logger.Debug("client hello", map[string]string{
				"client_id": current.id,
				"url":       payload.URL,
			})
		}
	}
}
