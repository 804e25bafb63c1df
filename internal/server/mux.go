// Package server provides HTTP server construction for the authgate
// sidecar: the proxied routes, the health endpoint, and the lifecycle
// event stream.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/coder/websocket"

	"github.com/alexjbarnes/authgate/internal/config"
	"github.com/alexjbarnes/authgate/internal/events"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Routes []config.Route

	// Transport carries proxied requests; installing the gateway here is
	// what gives every route credential injection and refresh recovery.
	Transport http.RoundTripper

	Events *events.Broadcaster
	Logger *slog.Logger
}

// NewMux builds the sidecar mux: one reverse proxy per configured route,
// a health endpoint, and a websocket event stream.
func NewMux(cfg MuxConfig) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/events", handleEvents(cfg.Events, cfg.Logger))

	for _, route := range cfg.Routes {
		upstream, err := url.Parse(route.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parsing upstream for route %q: %w", route.Prefix, err)
		}

		proxy := newProxy(upstream, cfg.Transport, cfg.Logger)
		mux.Handle(route.Prefix+"/", http.StripPrefix(route.Prefix, proxy))
		mux.Handle(route.Prefix, http.StripPrefix(route.Prefix, proxy))

		cfg.Logger.Info("route registered",
			slog.String("prefix", route.Prefix),
			slog.String("upstream", upstream.Host),
		)
	}

	return mux, nil
}

func newProxy(upstream *url.URL, transport http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxying request",
			slog.String("path", r.URL.Path),
			slog.String("upstream", upstream.Host),
			slog.Any("error", err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	return proxy
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// eventFrame is the JSON frame sent to event stream subscribers.
type eventFrame struct {
	Event string `json:"event"`
}

// handleEvents upgrades to a websocket and forwards lifecycle events
// until the client disconnects or the server shuts down. Write-only:
// incoming frames are discarded.
func handleEvents(bus *events.Broadcaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("accepting event stream connection", slog.Any("error", err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "event stream closed")

		ctx := conn.CloseRead(r.Context())

		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)

		logger.Debug("event stream subscriber connected")

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case kind, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "")
					return
				}

				frame, err := json.Marshal(eventFrame{Event: string(kind)})
				if err != nil {
					logger.Warn("encoding event frame", slog.Any("error", err))
					continue
				}

				if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
					logger.Debug("event stream subscriber dropped", slog.Any("error", err))
					return
				}
			}
		}
	}
}
