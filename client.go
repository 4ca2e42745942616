package mcpapps

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is the guest side of the channel between a widget and its host. It sends JSON-RPC
// requests and notifications over a Port, matches responses to outstanding calls, fans
// notifications out to handlers and caches the latest tool input and tool result so late
// subscribers can read the current state without waiting for the next push.
//
// A Client must be created using NewClient and requires Connect to be called before it can
// receive anything. Requests may be sent before Connect, but their responses are only observed
// once the client is connected. Disconnect detaches the client again; it may be reconnected
// later.
//
// Calls that never receive a response stay pending forever. The client has no built-in
// timeout: bound the wait with the context passed to SendRequest or Call.Wait. Disconnect
// drops pending calls without completing them, so a Call issued before Disconnect never
// completes afterwards.
type Client struct {
	port   Port
	info   Info
	logger *logrus.Logger
	log    *logrus.Entry
	tracer trace.Tracer

	mu             sync.Mutex
	nextID         int64
	pending        map[RequestID]*Call
	handlers       map[string]*listenerList[NotificationHandler]
	removeListener func()
	bootstrapped   bool

	initialized      bool
	initResult       InitializeResult
	hostContext      HostContext
	hasHostContext   bool
	latestToolInput  json.RawMessage
	latestToolResult json.RawMessage

	toolInputListeners   listenerList[NotificationHandler]
	toolResultListeners  listenerList[NotificationHandler]
	hostContextListeners listenerList[HostContextHandler]
}

// Call is a request awaiting its response. It completes at most once, when the matching
// response arrives.
type Call struct {
	ID     RequestID
	Method string

	done     chan struct{}
	once     sync.Once
	result   json.RawMessage
	err      error
	callback func(json.RawMessage, error)
}

// WithClientInfo sets the clientInfo the client declares in ui/initialize. The default is
// fastapps-ui 1.0.0.
func WithClientInfo(info Info) ClientOption {
	return func(c *Client) {
		c.info = info
	}
}

// WithClientLogger sets the logger for the client. The default is logrus.StandardLogger().
func WithClientLogger(logger *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientTracer sets the tracer used for request spans. The default uses the global
// OpenTelemetry tracer provider.
func WithClientTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// NewClient creates a Client that talks to its host through port.
func NewClient(port Port, options ...ClientOption) *Client {
	c := &Client{
		port:     port,
		info:     defaultClientInfo,
		logger:   logrus.StandardLogger(),
		tracer:   defaultTracer(),
		pending:  make(map[RequestID]*Call),
		handlers: make(map[string]*listenerList[NotificationHandler]),
	}
	for _, opt := range options {
		opt(c)
	}

	c.log = c.logger.WithFields(logrus.Fields{
		"component": "client",
		"port":      port.ID(),
	})

	return c
}

// Port returns the port the client posts to.
func (c *Client) Port() Port {
	return c.port
}

// Connect attaches the client's message listener to the port. Calling Connect on a connected
// client does nothing.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removeListener != nil {
		return
	}
	c.removeListener = c.port.AddMessageListener(c.handleMessage)
	c.log.Debug("connected")
}

// Disconnect detaches the message listener, forgets every pending call without completing it
// and removes all handlers registered with OnNotification. The cached tool input, tool result
// and host context survive, as do the dedicated OnToolInput, OnToolResult and
// OnHostContextChanged listeners.
func (c *Client) Disconnect() {
	c.mu.Lock()
	remove := c.removeListener
	dropped := len(c.pending)
	c.removeListener = nil
	c.bootstrapped = false
	c.initialized = false
	c.pending = make(map[RequestID]*Call)
	c.handlers = make(map[string]*listenerList[NotificationHandler])
	c.mu.Unlock()

	if remove == nil {
		return
	}
	remove()
	c.log.WithField("droppedCalls", dropped).Debug("disconnected")
}

// Connected reports whether the message listener is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.removeListener != nil
}

// Go sends a request and returns the pending Call without waiting for the response. Ids start
// at 1 and increase by one for every request the client sends. If posting fails, the call is
// forgotten and the error is returned.
func (c *Client) Go(ctx context.Context, method string, params any) (*Call, error) {
	return c.send(ctx, method, params, nil)
}

// SendRequest sends a request and waits for its response. It returns the raw result, or the
// response's *JSONRPCError, or ctx's error if ctx ends first. In the last case the call stays
// pending and a late response is silently discarded.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "mcpapps.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	var err error
	defer func() { endSpan(span, err) }()

	var call *Call
	call, err = c.Go(ctx, method, params)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("rpc.jsonrpc.request_id", int64(call.ID)))

	var result json.RawMessage
	result, err = call.Wait(ctx)
	return result, err
}

// SendNotification posts a notification. There is no response to wait for.
func (c *Client) SendNotification(ctx context.Context, method string, params any) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	msgBs, err := json.Marshal(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.port.PostMessage(ctx, msgBs); err != nil {
		return fmt.Errorf("failed to post %s notification: %w", method, err)
	}
	return nil
}

// OnNotification registers handler for notifications with the given method. Handlers run in
// registration order on every matching notification. The returned function unregisters the
// handler. Disconnect unregisters all of them.
func (c *Client) OnNotification(method string, handler NotificationHandler) (unsubscribe func()) {
	c.mu.Lock()
	list, ok := c.handlers[method]
	if !ok {
		list = &listenerList[NotificationHandler]{}
		c.handlers[method] = list
	}
	c.mu.Unlock()

	return list.add(handler)
}

// OnToolInput registers a listener for ui/notifications/tool-input. It runs after the cache is
// updated, with the same payload LatestToolInput now returns, and after any OnNotification
// handlers for the method.
func (c *Client) OnToolInput(handler NotificationHandler) (unsubscribe func()) {
	return c.toolInputListeners.add(handler)
}

// OnToolResult registers a listener for ui/notifications/tool-result, with the same ordering
// guarantees as OnToolInput.
func (c *Client) OnToolResult(handler NotificationHandler) (unsubscribe func()) {
	return c.toolResultListeners.add(handler)
}

// OnHostContextChanged registers a listener that receives the merged host context each time
// the host reports a change.
func (c *Client) OnHostContextChanged(handler HostContextHandler) (unsubscribe func()) {
	return c.hostContextListeners.add(handler)
}

// LatestToolInput returns the params of the most recent tool-input notification, or nil if
// none arrived yet. The returned bytes must not be modified.
func (c *Client) LatestToolInput() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.latestToolInput
}

// LatestToolResult returns the params of the most recent tool-result notification, or nil if
// none arrived yet. The returned bytes must not be modified.
func (c *Client) LatestToolResult() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.latestToolResult
}

// Initialize performs the ui/initialize handshake. Every call is a fresh handshake. On success
// the host context, host info and capabilities are stored and ui/notifications/initialized is
// sent, and Compat will not start another handshake on this connection. Callers should log a
// failure and carry on without host context.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	raw, err := c.SendRequest(ctx, MethodInitialize, c.initializeParams())
	if err != nil {
		return InitializeResult{}, fmt.Errorf("failed to initialize: %w", err)
	}
	res, err := c.completeInitialize(raw)
	if err != nil {
		return InitializeResult{}, err
	}
	c.notifyInitialized(ctx)
	return res, nil
}

// Initialized reports whether a handshake succeeded on the current connection.
func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initialized
}

// HostContext returns the latest host context and whether the host ever provided one.
func (c *Client) HostContext() (HostContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hostContext, c.hasHostContext
}

// HostInfo returns the host identification from the last successful handshake.
func (c *Client) HostInfo() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initResult.HostInfo == nil {
		return Info{}, false
	}
	return *c.initResult.HostInfo, true
}

// HostCapabilities returns the raw capabilities object from the last successful handshake.
func (c *Client) HostCapabilities() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initResult.HostCapabilities
}

// ProtocolVersion returns the protocol version negotiated by the last successful handshake.
func (c *Client) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initResult.ProtocolVersion
}

// OpenLink asks the host to open url.
func (c *Client) OpenLink(ctx context.Context, url string) error {
	_, err := c.SendRequest(ctx, MethodOpenLink, OpenLinkParams{URL: url})
	return err
}

// SendMessage asks the host to post text into the conversation as the user.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	_, err := c.SendRequest(ctx, MethodMessage, MessageParams{
		Role:    "user",
		Content: MessageContent{Type: "text", Text: text},
	})
	return err
}

// CallTool asks the host to run the named tool and returns the raw result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.SendRequest(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
}

// NotifySizeChanged tells the host the widget's content size changed.
func (c *Client) NotifySizeChanged(ctx context.Context, width, height float64) error {
	return c.SendNotification(ctx, MethodSizeChanged, SizeChangedParams{Width: width, Height: height})
}

// Done returns a channel that is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a completed call. Before completion it returns ErrCallPending.
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, ErrCallPending
	}
}

// Wait blocks until the call completes or ctx ends.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return c.result, c.err
	}
}

// initializedTimeout bounds the initialized notification sent after a background handshake.
const initializedTimeout = 30 * time.Second

// bootstrap connects the client and starts one handshake per connection without waiting for it.
// The handshake completes on the listener goroutine, so an unanswered one holds no goroutine.
func (c *Client) bootstrap(ctx context.Context) {
	c.Connect()

	c.mu.Lock()
	if c.bootstrapped {
		c.mu.Unlock()
		return
	}
	c.bootstrapped = true
	c.mu.Unlock()

	_, err := c.send(ctx, MethodInitialize, c.initializeParams(), func(raw json.RawMessage, err error) {
		if err != nil {
			c.log.WithError(err).Warn("host handshake failed, continuing without host context")
			return
		}
		if _, err := c.completeInitialize(raw); err != nil {
			c.log.WithError(err).Warn("host handshake failed, continuing without host context")
			return
		}
		// Posting may block on the port, and this runs on the listener goroutine.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), initializedTimeout)
			defer cancel()
			c.notifyInitialized(ctx)
		}()
	})
	if err != nil {
		c.log.WithError(err).Warn("failed to start host handshake")
		c.mu.Lock()
		c.bootstrapped = false
		c.mu.Unlock()
	}
}

func (c *Client) initializeParams() InitializeParams {
	return InitializeParams{
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
		ProtocolVersion: ProtocolVersion,
	}
}

func (c *Client) completeInitialize(raw json.RawMessage) (InitializeResult, error) {
	var res InitializeResult
	if !isNullJSON(raw) {
		if err := json.Unmarshal(raw, &res); err != nil {
			return InitializeResult{}, fmt.Errorf("failed to unmarshal initialize result: %w", err)
		}
	}

	c.mu.Lock()
	c.initResult = res
	c.initialized = true
	c.bootstrapped = true
	if res.HostContext != nil {
		c.hostContext = *res.HostContext
		c.hasHostContext = true
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"protocolVersion": res.ProtocolVersion,
		"host":            res.HostInfo,
	}).Debug("initialized")

	return res, nil
}

func (c *Client) notifyInitialized(ctx context.Context) {
	if err := c.SendNotification(ctx, MethodInitialized, nil); err != nil {
		c.log.WithError(err).Warn("failed to send initialized notification")
	}
}

func (c *Client) send(
	ctx context.Context,
	method string,
	params any,
	callback func(json.RawMessage, error),
) (*Call, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}

	c.mu.Lock()
	c.nextID++
	id := RequestID(c.nextID)
	call := &Call{
		ID:       id,
		Method:   method,
		done:     make(chan struct{}),
		callback: callback,
	}
	c.pending[id] = call
	c.mu.Unlock()

	msgBs, err := json.Marshal(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  rawParams,
	})
	if err == nil {
		err = c.port.PostMessage(ctx, msgBs)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to post %s request: %w", method, err)
	}

	return call, nil
}

func (c *Client) handleMessage(data []byte) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Debug("dropping undecodable message")
		return
	}

	switch msg.Kind() {
	case KindResponse:
		c.handleResponse(msg)
	case KindNotification:
		c.handleNotification(msg)
	default:
		c.log.WithFields(logrus.Fields{
			"kind":   msg.Kind().String(),
			"method": msg.Method,
		}).Debug("dropping unroutable message")
	}
}

func (c *Client) handleResponse(msg JSONRPCMessage) {
	c.mu.Lock()
	call, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Duplicate, late or foreign response.
		c.log.WithField("id", msg.ID.String()).Debug("dropping response without pending call")
		return
	}

	if msg.Error != nil {
		call.complete(nil, msg.Error)
		return
	}
	call.complete(msg.Result, nil)
}

func (c *Client) handleNotification(msg JSONRPCMessage) {
	params := msg.Params
	if isNullJSON(params) {
		params = nil
	}

	c.mu.Lock()
	list := c.handlers[msg.Method]
	c.mu.Unlock()

	if list != nil {
		for _, fn := range list.snapshot() {
			fn(params)
		}
	}

	switch msg.Method {
	case MethodToolInput:
		c.mu.Lock()
		c.latestToolInput = params
		c.mu.Unlock()
		for _, fn := range c.toolInputListeners.snapshot() {
			fn(params)
		}
	case MethodToolResult:
		c.mu.Lock()
		c.latestToolResult = params
		c.mu.Unlock()
		for _, fn := range c.toolResultListeners.snapshot() {
			fn(params)
		}
	case MethodHostContextChanged:
		c.handleHostContextChanged(params)
	}
}

func (c *Client) handleHostContextChanged(params json.RawMessage) {
	var partial HostContext
	if params != nil {
		if err := json.Unmarshal(params, &partial); err != nil {
			c.log.WithError(err).Debug("dropping malformed host context change")
			return
		}
	}

	c.mu.Lock()
	c.hostContext = c.hostContext.Merge(partial)
	c.hasHostContext = true
	merged := c.hostContext
	c.mu.Unlock()

	for _, fn := range c.hostContextListeners.snapshot() {
		fn(merged)
	}
}

func (c *Call) complete(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
		if c.callback != nil {
			c.callback(result, err)
		}
	})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
