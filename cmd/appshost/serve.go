package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/MegaGrindStone/go-mcp-apps/internal/config"
	"github.com/MegaGrindStone/go-mcp-apps/internal/shop"
	"github.com/MegaGrindStone/go-mcp-apps/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ServeCmd represents the serve command structure
type ServeCmd struct {
	Addr string `help:"Listen address, overrides the config file"`
}

// extensionsHeader carries the capability extensions a client advertises, as a JSON object.
// The widget endpoint uses it to pick a protocol when none is forced.
const extensionsHeader = "X-Client-Extensions"

// demoHost serves every connected guest with the shop tool. Tool calls are answered and also
// pushed as tool input and tool result, the way a chat host re-renders the widget.
type demoHost struct {
	cfg    config.Config
	logger *logrus.Logger
	store  mcpapps.ToolStateStore
	tools  *mcpapps.ToolRegistry
}

// pushingCaller forwards tools/call to the registry and pushes the call to the guest.
type pushingCaller struct {
	tools *mcpapps.ToolRegistry
	host  *mcpapps.Host
}

// Run implements the serve command execution
func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if s.Addr != "" {
		cfg.Server.ListenAddr = s.Addr
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	toolStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tools, err := mcpapps.NewToolRegistry(shop.Tool())
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	d := &demoHost{
		cfg:    cfg,
		logger: logger,
		store:  toolStore,
		tools:  tools,
	}

	g, gctx := errgroup.WithContext(ctx)

	sseSrv := mcpapps.NewSSEServer(baseURL(cfg)+cfg.Server.MessagePath, mcpapps.WithSSEServerLogger(logger))
	wsPorts := newWebSocketPorts()
	wsHandler := mcpapps.NewWebSocketHandler(func(p *mcpapps.WebSocketPort) {
		if !wsPorts.add(p) {
			return
		}
		go func() {
			defer wsPorts.remove(p)
			d.serve(gctx, p, p.Done())
		}()
	}, mcpapps.WithWebSocketLogger(logger))

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.SSEPath, sseSrv.HandleSSE())
	mux.Handle(cfg.Server.MessagePath, sseSrv.HandleMessage())
	mux.Handle(cfg.Server.WebSocketPath, wsHandler)
	mux.HandleFunc(cfg.Server.WidgetPath, d.handleWidget)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for sess := range sseSrv.Sessions() {
			go d.serve(gctx, sess, sess.Done())
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := sseSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown server: %w", err))
		}
		wsPorts.closeAll()
		return errors.Join(errs...)
	})

	return g.Wait()
}

// webSocketPorts tracks live WebSocket connections. http.Server.Shutdown leaves hijacked
// connections open, so they are closed here.
type webSocketPorts struct {
	mu     sync.Mutex
	ports  map[*mcpapps.WebSocketPort]struct{}
	closed bool
}

func newWebSocketPorts() *webSocketPorts {
	return &webSocketPorts{ports: make(map[*mcpapps.WebSocketPort]struct{})}
}

// add registers p. After closeAll it closes p instead and reports false.
func (w *webSocketPorts) add(p *mcpapps.WebSocketPort) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		_ = p.Close()
		return false
	}
	w.ports[p] = struct{}{}
	return true
}

func (w *webSocketPorts) remove(p *mcpapps.WebSocketPort) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ports, p)
}

func (w *webSocketPorts) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ports)
}

func (w *webSocketPorts) closeAll() {
	w.mu.Lock()
	ports := make([]*mcpapps.WebSocketPort, 0, len(w.ports))
	for p := range w.ports {
		ports = append(ports, p)
	}
	w.closed = true
	w.mu.Unlock()

	for _, p := range ports {
		_ = p.Close()
	}
}

func openStore(ctx context.Context, cfg config.Config) (mcpapps.ToolStateStore, func(), error) {
	ttl := time.Duration(cfg.Store.TTLSeconds) * time.Second
	if cfg.Store.RedisAddr == "" {
		return store.NewMemory(ttl), func() {}, nil
	}

	r := store.NewRedisFromAddr(cfg.Store.RedisAddr, ttl)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

func baseURL(cfg config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}
	addr := cfg.Server.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// serve runs a Host on port until done is closed or ctx ends.
func (d *demoHost) serve(ctx context.Context, port mcpapps.Port, done <-chan struct{}) {
	caller := &pushingCaller{tools: d.tools}

	options := []mcpapps.HostOption{
		mcpapps.WithHostContext(d.hostContext()),
		mcpapps.WithLinkOpener(d),
		mcpapps.WithMessageHandler(d),
		mcpapps.WithToolCaller(caller),
		mcpapps.WithToolStateStore(d.store, d.cfg.Widget.ID),
		mcpapps.WithHostLogger(d.logger),
		mcpapps.WithHostSendTimeout(time.Duration(d.cfg.Server.SendTimeoutSeconds) * time.Second),
	}
	if d.cfg.Server.RateLimit > 0 {
		options = append(options, mcpapps.WithHostRateLimit(rate.Limit(d.cfg.Server.RateLimit), d.cfg.Server.RateBurst))
	}

	host := mcpapps.NewHost(port, mcpapps.Info{Name: "appshost", Version: appVersion}, options...)
	caller.host = host

	host.Start()
	defer host.Stop()

	log := d.logger.WithField("port", port.ID())
	log.Info("guest connected")

	select {
	case <-done:
	case <-ctx.Done():
	}
	log.Info("guest disconnected")
}

func (d *demoHost) hostContext() mcpapps.HostContext {
	return mcpapps.HostContext{
		Theme:       mcpapps.Theme(d.cfg.Widget.Theme),
		DisplayMode: mcpapps.DisplayMode(d.cfg.Widget.DisplayMode),
		AvailableDisplayModes: []mcpapps.DisplayMode{
			mcpapps.DisplayModeInline,
			mcpapps.DisplayModeFullscreen,
			mcpapps.DisplayModePIP,
		},
		Locale:   d.cfg.Widget.Locale,
		Platform: mcpapps.PlatformWeb,
	}
}

// OpenLink implements mcpapps.LinkOpener.
func (d *demoHost) OpenLink(_ context.Context, params mcpapps.OpenLinkParams) error {
	d.logger.WithField("url", params.URL).Info("guest asked to open a link")
	return nil
}

// HandleMessage implements mcpapps.MessageHandler.
func (d *demoHost) HandleMessage(_ context.Context, params mcpapps.MessageParams) error {
	d.logger.WithFields(logrus.Fields{
		"role": params.Role,
		"text": params.Content.Text,
	}).Info("guest posted a message")
	return nil
}

func (d *demoHost) handleWidget(w http.ResponseWriter, r *http.Request) {
	html := shop.WidgetHTML
	if d.cfg.Widget.HTMLPath != "" {
		content, err := os.ReadFile(d.cfg.Widget.HTMLPath)
		if err != nil {
			d.logger.WithError(err).Error("failed to read widget html")
			http.Error(w, "widget unavailable", http.StatusInternalServerError)
			return
		}
		html = string(content)
	}

	protocol := d.cfg.ProtocolOverride()
	if protocol == mcpapps.ProtocolAuto {
		protocol = detectFromHeader(r)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(mcpapps.InjectProtocolHint(html, protocol)))
}

// detectFromHeader picks the protocol from the client's advertised extensions. Without the
// header it leaves the choice to the widget.
func detectFromHeader(r *http.Request) mcpapps.Protocol {
	raw := r.Header.Get(extensionsHeader)
	if raw == "" {
		return mcpapps.ProtocolAuto
	}
	var extensions map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &extensions); err != nil {
		return mcpapps.ProtocolAuto
	}
	return mcpapps.DetectProtocol(extensions)
}

// CallTool implements mcpapps.ToolCaller.
func (p *pushingCaller) CallTool(ctx context.Context, params mcpapps.CallToolParams) (mcpapps.ToolResult, error) {
	res, err := p.tools.CallTool(ctx, params)
	if err != nil {
		return res, err
	}

	if err := p.host.NotifyToolInput(ctx, params.Arguments); err != nil {
		return res, fmt.Errorf("failed to push tool input: %w", err)
	}
	if err := p.host.NotifyToolResult(ctx, res); err != nil {
		return res, fmt.Errorf("failed to push tool result: %w", err)
	}
	return res, nil
}
