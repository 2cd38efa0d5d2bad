// Package api exposes the notification bus over HTTP: a WebSocket stream of
// key-command notifications for out-of-process subscribers, and a health
// endpoint tied to device connectivity.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/evremote/evremote/internal/bus"
	"github.com/evremote/evremote/internal/capture"
)

// Server serves /ws and /healthz on one listen address.
type Server struct {
	addr      string
	source    bus.Source[capture.Notification]
	connected func() bool
	hub       *hub

	boundAddr atomic.Value // string, set once Run has a listener
}

// NewServer builds a server streaming notifications from source. connected
// feeds /healthz; a nil func reports healthy unconditionally.
func NewServer(addr string, source bus.Source[capture.Notification], connected func() bool) *Server {
	return &Server{
		addr:      addr,
		source:    source,
		connected: connected,
		hub:       newHub(),
	}
}

// Handler returns the HTTP handler. Split out from Run so tests can mount
// it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.handleWebSocket)
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

// Run starts the hub, subscribes it to the bus and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.run()
	defer s.hub.stop()

	cancelSub := s.source.Subscribe(bus.SinkFunc(func(n capture.Notification) error {
		s.hub.broadcast(n)
		return nil
	}))
	defer cancelSub()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.addr, err)
	}
	s.boundAddr.Store(ln.Addr().String())

	srv := &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	klog.Infof("api server listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("api server shutdown: %v", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve %s: %w", s.addr, err)
	}
}

// BoundAddr returns the address Run is actually serving on, or "" before
// the listener is up. Mainly useful with a ":0" configured address.
func (s *Server) BoundAddr() string {
	if addr, ok := s.boundAddr.Load().(string); ok {
		return addr
	}
	return ""
}

func (s *Server) healthz(resp http.ResponseWriter, req *http.Request) {
	if s.connected == nil || s.connected() {
		resp.WriteHeader(http.StatusOK)
		return
	}
	resp.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintln(resp, "input device disconnected")
}
