package mcpapps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketPort is a Port over a WebSocket connection, one JSON-RPC message per text frame.
// It can sit on either side: DialWebSocket creates the guest end and WebSocketHandler the host
// end.
type WebSocketPort struct {
	id        string
	conn      *websocket.Conn
	logger    *logrus.Entry
	listeners listenerList[MessageListener]

	writeMu sync.Mutex

	done       chan struct{}
	closeOnce  sync.Once
	readClosed chan struct{}
}

// WebSocketOption represents the options for WebSocket ports and handlers.
type WebSocketOption func(*webSocketConfig)

// WebSocketHandler upgrades HTTP requests to WebSocket connections and hands each one to a
// callback as a WebSocketPort. The request stays open until the port closes.
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	onConnect func(*WebSocketPort)
	cfg       webSocketConfig
}

type webSocketConfig struct {
	logger      *logrus.Logger
	checkOrigin func(*http.Request) bool
	header      http.Header
}

// WithWebSocketLogger sets the logger for ports and handlers.
func WithWebSocketLogger(logger *logrus.Logger) WebSocketOption {
	return func(c *webSocketConfig) {
		c.logger = logger
	}
}

// WithWebSocketCheckOrigin sets the origin check of a WebSocketHandler. By default every origin
// is accepted, matching postMessage without an origin restriction.
func WithWebSocketCheckOrigin(check func(*http.Request) bool) WebSocketOption {
	return func(c *webSocketConfig) {
		c.checkOrigin = check
	}
}

// WithWebSocketHeader sets extra request headers for DialWebSocket, such as Authorization.
func WithWebSocketHeader(header http.Header) WebSocketOption {
	return func(c *webSocketConfig) {
		c.header = header
	}
}

func newWebSocketConfig(options []WebSocketOption) webSocketConfig {
	cfg := webSocketConfig{
		logger:      logrus.StandardLogger(),
		checkOrigin: func(*http.Request) bool { return true },
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// DialWebSocket connects to a host's WebSocket endpoint and returns the guest end.
func DialWebSocket(ctx context.Context, url string, options ...WebSocketOption) (*WebSocketPort, error) {
	cfg := newWebSocketConfig(options)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return newWebSocketPort(conn, cfg), nil
}

// NewWebSocketHandler creates a handler that calls onConnect for every accepted connection.
// onConnect must not block; the port is served after it returns.
func NewWebSocketHandler(onConnect func(*WebSocketPort), options ...WebSocketOption) *WebSocketHandler {
	cfg := newWebSocketConfig(options)
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: cfg.checkOrigin,
		},
		onConnect: onConnect,
		cfg:       cfg,
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.cfg.logger.WithError(err).Warn("failed to upgrade websocket")
		return
	}

	port := newWebSocketPort(conn, h.cfg)
	port.logger.WithField("remote", r.RemoteAddr).Debug("websocket connected")
	h.onConnect(port)

	select {
	case <-port.Done():
	case <-r.Context().Done():
		port.Close()
	}
}

func newWebSocketPort(conn *websocket.Conn, cfg webSocketConfig) *WebSocketPort {
	p := &WebSocketPort{
		id:         uuid.New().String(),
		conn:       conn,
		done:       make(chan struct{}),
		readClosed: make(chan struct{}),
	}
	p.logger = cfg.logger.WithFields(logrus.Fields{"component": "websocket", "port": p.id})

	go p.readMessages()

	return p
}

// ID implements Port.
func (p *WebSocketPort) ID() string { return p.id }

// Done returns a channel that is closed when the connection ends.
func (p *WebSocketPort) Done() <-chan struct{} { return p.done }

// AddMessageListener implements Port.
func (p *WebSocketPort) AddMessageListener(l MessageListener) func() {
	return p.listeners.add(l)
}

// PostMessage writes data as one text frame. The write honors ctx's deadline.
func (p *WebSocketPort) PostMessage(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// No deadline yields the zero time, which clears any previous one.
	deadline, _ := ctx.Deadline()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection. It must not be called from a listener of
// the same port.
func (p *WebSocketPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)

		p.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.writeMu.Unlock()

		err = p.conn.Close()
	})
	<-p.readClosed
	return err
}

func (p *WebSocketPort) readMessages() {
	defer close(p.readClosed)
	defer p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})

	select {
	case <-p.listeners.attached():
	case <-p.done:
		return
	}

	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!errors.Is(err, net.ErrClosed) {
					p.logger.WithError(err).Warn("failed to read message")
				}
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		for _, l := range p.listeners.snapshot() {
			l(data)
		}
	}
}
