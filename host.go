package mcpapps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// HostOption is a function that configures a host.
type HostOption func(*Host)

// Host is the parent side of the channel: the chat client that embeds a widget. It answers the
// guest's ui/initialize handshake with its host context, serves ui/open-link, ui/message and
// tools/call through the configured handlers, and pushes tool input, tool results and host
// context changes to the guest.
//
// Requests are served concurrently, each response posted as soon as its handler returns.
// Methods without a configured handler are answered with a method-not-found error.
//
// A Host must be created using NewHost and started with Start. Stop detaches it and waits for
// in-flight requests.
type Host struct {
	port              Port
	info              Info
	capabilities      json.RawMessage
	supportedVersions []string

	linkOpener     LinkOpener
	messageHandler MessageHandler
	toolCaller     ToolCaller

	store    ToolStateStore
	widgetID string

	limiter     *rate.Limiter
	sendTimeout time.Duration
	logger      *logrus.Logger
	log         *logrus.Entry
	tracer      trace.Tracer

	mu               sync.Mutex
	hostContext      HostContext
	guestInfo        *Info
	guestInitialized bool
	guestSize        *SizeChangedParams
	removeListener   func()
	cancel           context.CancelFunc
	ctx              context.Context

	inflight sync.WaitGroup
}

var defaultHostSendTimeout = 30 * time.Second

// WithHostContext sets the host context returned in the handshake.
func WithHostContext(hc HostContext) HostOption {
	return func(h *Host) {
		h.hostContext = hc
	}
}

// WithHostCapabilities overrides the hostCapabilities object returned in the handshake. By
// default it is derived from the configured handlers.
func WithHostCapabilities(capabilities json.RawMessage) HostOption {
	return func(h *Host) {
		h.capabilities = capabilities
	}
}

// WithSupportedProtocolVersions sets the protocol versions the host speaks, preferred first. A
// guest asking for one of them gets it echoed back, any other guest gets the first.
func WithSupportedProtocolVersions(versions ...string) HostOption {
	return func(h *Host) {
		if len(versions) > 0 {
			h.supportedVersions = versions
		}
	}
}

// WithLinkOpener sets the handler for ui/open-link.
func WithLinkOpener(opener LinkOpener) HostOption {
	return func(h *Host) {
		h.linkOpener = opener
	}
}

// WithMessageHandler sets the handler for ui/message.
func WithMessageHandler(handler MessageHandler) HostOption {
	return func(h *Host) {
		h.messageHandler = handler
	}
}

// WithToolCaller sets the handler for tools/call, usually a *ToolRegistry.
func WithToolCaller(caller ToolCaller) HostOption {
	return func(h *Host) {
		h.toolCaller = caller
	}
}

// WithToolStateStore persists pushed tool input and results for widgetID and replays them to a
// guest each time it finishes a handshake.
func WithToolStateStore(store ToolStateStore, widgetID string) HostOption {
	return func(h *Host) {
		h.store = store
		h.widgetID = widgetID
	}
}

// WithHostRateLimit limits the requests served for the guest. Requests over the limit are
// answered with JSONRPCRateLimited.
func WithHostRateLimit(limit rate.Limit, burst int) HostOption {
	return func(h *Host) {
		h.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHostSendTimeout sets the timeout for posting responses.
func WithHostSendTimeout(timeout time.Duration) HostOption {
	return func(h *Host) {
		h.sendTimeout = timeout
	}
}

// WithHostLogger sets the logger for the host.
func WithHostLogger(logger *logrus.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithHostTracer sets the tracer used for spans of served requests.
func WithHostTracer(tracer trace.Tracer) HostOption {
	return func(h *Host) {
		h.tracer = tracer
	}
}

// NewHost creates a Host that serves the guest on the other end of port.
func NewHost(port Port, info Info, options ...HostOption) *Host {
	h := &Host{
		port:              port,
		info:              info,
		supportedVersions: []string{ProtocolVersion},
		sendTimeout:       defaultHostSendTimeout,
		logger:            logrus.StandardLogger(),
		tracer:            defaultTracer(),
	}
	for _, opt := range options {
		opt(h)
	}

	h.log = h.logger.WithFields(logrus.Fields{
		"component": "host",
		"port":      port.ID(),
	})

	return h
}

// Start attaches the host to its port. Starting a started host does nothing.
func (h *Host) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removeListener != nil {
		return
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.removeListener = h.port.AddMessageListener(h.handleMessage)
}

// Stop detaches the host, cancels the contexts of in-flight requests and waits for them.
func (h *Host) Stop() {
	h.mu.Lock()
	remove, cancel := h.removeListener, h.cancel
	h.removeListener, h.cancel, h.ctx = nil, nil, nil
	h.mu.Unlock()

	if remove == nil {
		return
	}
	remove()
	cancel()
	h.inflight.Wait()
}

// HostContext returns the host context the host currently advertises.
func (h *Host) HostContext() HostContext {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.hostContext
}

// GuestInfo returns the clientInfo of the guest's latest handshake.
func (h *Host) GuestInfo() (Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.guestInfo == nil {
		return Info{}, false
	}
	return *h.guestInfo, true
}

// GuestInitialized reports whether the guest sent ui/notifications/initialized.
func (h *Host) GuestInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.guestInitialized
}

// GuestSize returns the last size the guest reported.
func (h *Host) GuestSize() (SizeChangedParams, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.guestSize == nil {
		return SizeChangedParams{}, false
	}
	return *h.guestSize, true
}

// NotifyToolInput pushes the arguments of the tool call that produced the widget.
func (h *Host) NotifyToolInput(ctx context.Context, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal tool input: %w", err)
	}
	if h.store != nil {
		if err := h.store.SaveToolInput(ctx, h.widgetID, raw); err != nil {
			h.log.WithError(err).Warn("failed to save tool input")
		}
	}
	return h.notify(ctx, MethodToolInput, raw)
}

// NotifyToolResult pushes the result of the tool call that produced the widget.
func (h *Host) NotifyToolResult(ctx context.Context, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal tool result: %w", err)
	}
	if h.store != nil {
		if err := h.store.SaveToolResult(ctx, h.widgetID, raw); err != nil {
			h.log.WithError(err).Warn("failed to save tool result")
		}
	}
	return h.notify(ctx, MethodToolResult, raw)
}

// UpdateHostContext merges partial into the advertised host context and tells the guest which
// fields changed.
func (h *Host) UpdateHostContext(ctx context.Context, partial HostContext) error {
	h.mu.Lock()
	h.hostContext = h.hostContext.Merge(partial)
	h.mu.Unlock()

	raw, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("failed to marshal host context: %w", err)
	}
	return h.notify(ctx, MethodHostContextChanged, raw)
}

func (h *Host) handleMessage(data []byte) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.WithError(err).Warn("failed to unmarshal message")
		return
	}

	switch msg.Kind() {
	case KindRequest:
		h.handleRequest(msg)
	case KindNotification:
		h.handleNotification(msg)
	default:
		h.log.WithField("kind", msg.Kind().String()).Debug("dropping unroutable message")
	}
}

func (h *Host) handleRequest(msg JSONRPCMessage) {
	ctx, ok := h.track()
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		h.log.WithField("method", msg.Method).Warn("rate limit exceeded")
		go func() {
			defer h.inflight.Done()
			h.respond(msg, nil, &JSONRPCError{Code: JSONRPCRateLimited, Message: "rate limit exceeded"})
		}()
		return
	}

	go func() {
		defer h.inflight.Done()
		h.serve(ctx, msg)
	}()
}

// track registers one in-flight task and returns the context of the running host. It reports
// false once Stop has begun.
func (h *Host) track() (context.Context, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx == nil {
		return nil, false
	}
	h.inflight.Add(1)
	return h.ctx, true
}

func (h *Host) serve(ctx context.Context, msg JSONRPCMessage) {
	ctx, span := h.tracer.Start(ctx, "mcpapps.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", msg.Method),
			attribute.Int64("rpc.jsonrpc.request_id", int64(*msg.ID)),
		),
	)

	var result any
	var err error

	switch msg.Method {
	case MethodInitialize:
		result, err = h.callInitialize(msg)
	case MethodOpenLink:
		err = h.callOpenLink(ctx, msg)
	case MethodMessage:
		err = h.callMessage(ctx, msg)
	case MethodToolsCall:
		result, err = h.callTool(ctx, msg)
	default:
		err = &JSONRPCError{
			Code:    JSONRPCMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		}
	}
	endSpan(span, err)

	if err == nil {
		h.respond(msg, result, nil)
		return
	}

	h.log.WithError(err).WithField("method", msg.Method).Warn("failed to serve request")
	var jsonErr *JSONRPCError
	if !errors.As(err, &jsonErr) {
		jsonErr = &JSONRPCError{Code: JSONRPCInternalError, Message: err.Error()}
	}
	h.respond(msg, nil, jsonErr)
}

func (h *Host) callInitialize(msg JSONRPCMessage) (InitializeResult, error) {
	var params InitializeParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return InitializeResult{}, err
	}

	version := h.supportedVersions[0]
	if slices.Contains(h.supportedVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	h.mu.Lock()
	h.guestInfo = &params.ClientInfo
	h.guestInitialized = false
	hostContext := h.hostContext
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"guest":           params.ClientInfo.Name,
		"guestVersion":    params.ClientInfo.Version,
		"protocolVersion": version,
	}).Info("guest initializing")

	info := h.info
	return InitializeResult{
		ProtocolVersion:  version,
		HostCapabilities: h.hostCapabilities(),
		HostInfo:         &info,
		HostContext:      &hostContext,
	}, nil
}

func (h *Host) callOpenLink(ctx context.Context, msg JSONRPCMessage) error {
	if h.linkOpener == nil {
		return &JSONRPCError{Code: JSONRPCMethodNotFound, Message: "host does not open links"}
	}
	var params OpenLinkParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return err
	}
	if params.URL == "" {
		return &JSONRPCError{Code: JSONRPCInvalidParams, Message: "url is required"}
	}
	return h.linkOpener.OpenLink(ctx, params)
}

func (h *Host) callMessage(ctx context.Context, msg JSONRPCMessage) error {
	if h.messageHandler == nil {
		return &JSONRPCError{Code: JSONRPCMethodNotFound, Message: "host does not accept messages"}
	}
	var params MessageParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return err
	}
	if params.Content.Type != "text" {
		return &JSONRPCError{
			Code:    JSONRPCInvalidParams,
			Message: fmt.Sprintf("unsupported content type %q", params.Content.Type),
		}
	}
	return h.messageHandler.HandleMessage(ctx, params)
}

func (h *Host) callTool(ctx context.Context, msg JSONRPCMessage) (ToolResult, error) {
	if h.toolCaller == nil {
		return ToolResult{}, &JSONRPCError{Code: JSONRPCMethodNotFound, Message: "host has no tools"}
	}
	var params CallToolParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ToolResult{}, err
	}

	res, err := h.toolCaller.CallTool(ctx, params)
	if errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrInvalidToolArguments) {
		return ToolResult{}, &JSONRPCError{Code: JSONRPCInvalidParams, Message: err.Error()}
	}
	return res, err
}

func (h *Host) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case MethodInitialized:
		h.mu.Lock()
		h.guestInitialized = true
		h.mu.Unlock()

		if h.store == nil {
			return
		}
		ctx, ok := h.track()
		if !ok {
			return
		}
		go func() {
			defer h.inflight.Done()
			h.replayToolState(ctx)
		}()
	case MethodSizeChanged:
		var params SizeChangedParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			h.log.WithError(err).Debug("dropping malformed size change")
			return
		}
		h.mu.Lock()
		h.guestSize = &params
		h.mu.Unlock()
	default:
		h.log.WithField("method", msg.Method).Debug("ignoring notification")
	}
}

func (h *Host) replayToolState(ctx context.Context) {
	input, result, err := h.store.ToolState(ctx, h.widgetID)
	if err != nil {
		h.log.WithError(err).Warn("failed to load tool state")
		return
	}
	if input != nil {
		if err := h.notify(ctx, MethodToolInput, input); err != nil {
			h.log.WithError(err).Warn("failed to replay tool input")
		}
	}
	if result != nil {
		if err := h.notify(ctx, MethodToolResult, result); err != nil {
			h.log.WithError(err).Warn("failed to replay tool result")
		}
	}
}

func (h *Host) hostCapabilities() json.RawMessage {
	if h.capabilities != nil {
		return h.capabilities
	}

	caps := make(map[string]struct{})
	if h.linkOpener != nil {
		caps["openLinks"] = struct{}{}
	}
	if h.messageHandler != nil {
		caps["message"] = struct{}{}
	}
	if h.toolCaller != nil {
		caps["serverTools"] = struct{}{}
	}
	// Marshaling a map of empty structs cannot fail.
	raw, _ := json.Marshal(caps)
	return raw
}

func (h *Host) respond(req JSONRPCMessage, result any, jsonErr *JSONRPCError) {
	resMsg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
	}
	if jsonErr != nil {
		resMsg.Error = jsonErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resMsg.Error = &JSONRPCError{
				Code:    JSONRPCInternalError,
				Message: fmt.Sprintf("failed to marshal result: %s", err),
			}
		} else {
			resMsg.Result = raw
		}
	}

	msgBs, err := json.Marshal(resMsg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal response")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()

	if err := h.port.PostMessage(ctx, msgBs); err != nil {
		h.log.WithError(err).WithField("method", req.Method).Error("failed to send result")
	}
}

func (h *Host) notify(ctx context.Context, method string, params json.RawMessage) error {
	msgBs, err := json.Marshal(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := h.port.PostMessage(ctx, msgBs); err != nil {
		return fmt.Errorf("failed to post %s notification: %w", method, err)
	}
	return nil
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if isNullJSON(raw) {
		return &JSONRPCError{Code: JSONRPCInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &JSONRPCError{
			Code:    JSONRPCInvalidParams,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}
	return nil
}
