package mcpapps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"
)

// SSEServer accepts guests over Server-Sent Events. Host-to-guest messages are streamed as SSE
// "message" events and guest-to-host messages arrive as HTTP POST requests to the endpoint the
// server announces in an initial "endpoint" event.
//
// Every connected guest is exposed as an SSESession, a Port a Host can be attached to. The
// handlers returned by HandleSSE and HandleMessage can be mounted on any router.
//
// Instances should be created using NewSSEServer and shut down using Shutdown.
type SSEServer struct {
	messageURL string
	logger     *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*SSESession

	newSessions chan *SSESession
	done        chan struct{}
	closeOnce   sync.Once
	handlers    sync.WaitGroup
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

// SSESession is the host-side Port of one guest connected to an SSEServer.
type SSESession struct {
	id        string
	sess      *sse.Session
	logger    *logrus.Entry
	listeners listenerList[MessageListener]

	sendMsgs     chan sseSessionSendMsg
	receivedMsgs chan []byte

	done           chan struct{}
	closeOnce      sync.Once
	sendClosed     chan struct{}
	receivedClosed chan struct{}
}

type sseSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

// SSEClient is the guest-side Port of an SSE connection. Messages from the host are read from
// the event stream, messages to the host are POSTed to the announced endpoint.
// Instances should be created using NewSSEClient and connected with Connect.
type SSEClient struct {
	id         string
	httpClient *http.Client
	connectURL string
	logger     *logrus.Entry
	listeners  listenerList[MessageListener]

	maxPayloadSize int

	mu         sync.Mutex
	messageURL string
	cancel     context.CancelFunc
	readClosed chan struct{}
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

// WithSSEServerLogger sets the logger for the server and its sessions.
func WithSSEServerLogger(logger *logrus.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.WithField("component", "sse-server")
	}
}

// WithSSEClientMaxPayloadSize sets the maximum size of a single event the client accepts. A
// larger event ends the connection.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger for the client.
func WithSSEClientLogger(logger *logrus.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger.WithFields(logrus.Fields{"component": "sse-client", "port": s.id})
	}
}

// NewSSEServer creates an SSE server that tells guests to POST their messages to messageURL.
func NewSSEServer(messageURL string, options ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		messageURL:  messageURL,
		logger:      logrus.StandardLogger().WithField("component", "sse-server"),
		sessions:    make(map[string]*SSESession),
		newSessions: make(chan *SSESession, 5),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// NewSSEClient creates an SSE client for the stream at connectURL. A nil httpClient means
// http.DefaultClient.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		id:         uuid.New().String(),
		connectURL: connectURL,
		httpClient: cli,
	}
	s.logger = logrus.StandardLogger().WithFields(logrus.Fields{"component": "sse-client", "port": s.id})
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Sessions returns an iterator over guests as they connect. It ends when the server shuts down.
func (s *SSEServer) Sessions() iter.Seq[*SSESession] {
	return func(yield func(*SSESession) bool) {
		for {
			select {
			case <-s.done:
				return
			case sess := <-s.newSessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown closes every session and waits for the SSE handlers to return.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	sessions := make([]*SSESession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}

	closed := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(closed)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for SSE connections. It upgrades the request, assigns a
// session id, announces the message endpoint and keeps the stream open until the guest
// disconnects, the session is closed or the server shuts down.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handlers.Add(1)
		defer s.handlers.Done()

		select {
		case <-s.done:
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}

		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.WithError(nErr).Error("failed to upgrade session")
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()
		srvSession := &SSESession{
			id:             sessID,
			sess:           sess,
			logger:         s.logger.WithField("port", sessID),
			sendMsgs:       make(chan sseSessionSendMsg, 5),
			receivedMsgs:   make(chan []byte, 5),
			done:           make(chan struct{}),
			sendClosed:     make(chan struct{}),
			receivedClosed: make(chan struct{}),
		}

		go srvSession.processSendMessages()
		go srvSession.processReceivedMessages()

		// Register before announcing the endpoint, the guest may POST right away.
		s.mu.Lock()
		s.sessions[sessID] = srvSession
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.sessions, sessID)
			s.mu.Unlock()
			srvSession.Close()
		}()

		// Use the type "endpoint" to tell the guest where to POST its messages.
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID))
		if err := sess.Send(&msg); err != nil {
			s.logger.WithError(err).Error("failed to write SSE URL")
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.WithError(err).Error("failed to flush SSE")
			return
		}

		select {
		case s.newSessions <- srvSession:
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}

		// Block until the session ends, so the connection is left open.
		select {
		case <-srvSession.done:
		case <-r.Context().Done():
		case <-s.done:
		}
	})
}

// HandleMessage returns an http.Handler for guest messages sent via POST. The sessionID query
// parameter selects the session; the body is delivered to that session's listeners as is.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		sess, ok := s.sessions[sessID]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			nErr := fmt.Errorf("failed to read message: %w", err)
			s.logger.WithError(nErr).Warn("failed to read message")
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		select {
		case sess.receivedMsgs <- body:
		case <-sess.done:
			http.Error(w, "session is closed", http.StatusGone)
		case <-r.Context().Done():
		}
	})
}

// ID implements Port.
func (s *SSESession) ID() string { return s.id }

// Done returns a channel that is closed when the session ends.
func (s *SSESession) Done() <-chan struct{} { return s.done }

// AddMessageListener implements Port.
func (s *SSESession) AddMessageListener(l MessageListener) func() {
	return s.listeners.add(l)
}

// PostMessage streams data to the guest as a "message" event.
func (s *SSESession) PostMessage(ctx context.Context, data []byte) error {
	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(data))

	errs := make(chan error, 1)

	// Queue the message for sending to avoid race in the sse library
	select {
	case s.sendMsgs <- sseSessionSendMsg{sseMsg, errs}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrPortClosed
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrPortClosed
	}
}

// Close ends the session and its stream.
func (s *SSESession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.sendClosed
	<-s.receivedClosed
}

func (s *SSESession) processSendMessages() {
	defer close(s.sendClosed)

	for {
		select {
		case sm := <-s.sendMsgs:
			err := s.sess.Send(sm.msg)
			if err == nil {
				err = s.sess.Flush()
			}
			if err != nil {
				s.logger.WithError(err).Warn("failed to send message")
			}
			sm.errs <- err
		case <-s.done:
			return
		}
	}
}

func (s *SSESession) processReceivedMessages() {
	defer close(s.receivedClosed)

	// Messages wait in the channel until a host attached.
	select {
	case <-s.listeners.attached():
	case <-s.done:
		return
	}

	for {
		select {
		case msg := <-s.receivedMsgs:
			for _, l := range s.listeners.snapshot() {
				l(msg)
			}
		case <-s.done:
			return
		}
	}
}

// ID implements Port.
func (s *SSEClient) ID() string { return s.id }

// AddMessageListener implements Port.
func (s *SSEClient) AddMessageListener(l MessageListener) func() {
	return s.listeners.add(l)
}

// Connect opens the event stream and waits until the server announced its message endpoint.
// Events are then delivered to listeners until ctx ends, Close is called or the stream breaks.
func (s *SSEClient) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	ready := make(chan error, 1)
	readClosed := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.readClosed = readClosed
	s.mu.Unlock()

	go s.listenSSEMessages(resp.Body, ready, readClosed)

	select {
	case err := <-ready:
		if err != nil {
			s.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// PostMessage POSTs data to the message endpoint. It fails before Connect succeeded.
func (s *SSEClient) PostMessage(ctx context.Context, data []byte) error {
	s.mu.Lock()
	messageURL := s.messageURL
	s.mu.Unlock()
	if messageURL == "" {
		return errors.New("sse client is not connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// Close ends the event stream. Posting fails afterwards.
func (s *SSEClient) Close() error {
	s.mu.Lock()
	cancel, readClosed := s.cancel, s.readClosed
	s.cancel = nil
	s.messageURL = ""
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-readClosed
	return nil
}

func (s *SSEClient) listenSSEMessages(body io.ReadCloser, ready chan<- error, readClosed chan<- struct{}) {
	defer func() {
		body.Close()
		close(readClosed)
	}()

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: s.maxPayloadSize,
		}
	}

	announced := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Error("failed to read SSE message")
			}
			if !announced {
				ready <- fmt.Errorf("stream ended before endpoint: %w", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			endpoint, err := s.resolveEndpoint(ev.Data)
			if err != nil {
				if !announced {
					ready <- err
				}
				return
			}
			s.mu.Lock()
			s.messageURL = endpoint
			s.mu.Unlock()
			if !announced {
				announced = true
				ready <- nil
			}
		case "message", "":
			if !announced {
				s.logger.Error("received message before endpoint URL")
				continue
			}
			data := []byte(ev.Data)
			for _, l := range s.listeners.snapshot() {
				l(data)
			}
		default:
			s.logger.WithField("type", ev.Type).Warn("unhandled event type")
		}
	}

	if !announced {
		ready <- errors.New("stream ended before endpoint")
	}
}

// resolveEndpoint accepts absolute endpoints and endpoints relative to the stream URL.
func (s *SSEClient) resolveEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint URL: %w", err)
	}
	if u.String() == "" {
		return "", errors.New("empty endpoint URL")
	}
	base, err := url.Parse(s.connectURL)
	if err != nil {
		return "", fmt.Errorf("parse connect URL: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}
