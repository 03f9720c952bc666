package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"assetauth/pkg/logging"
)

// DefaultListenAddress is where the callback server listens unless configured.
const DefaultListenAddress = "127.0.0.1:8085"

// Server serves the callback routes plus a health endpoint.
type Server struct {
	addr    string
	handler *Handler
	server  *http.Server
	ln      net.Listener
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler *Handler) *Server {
	if addr == "" {
		addr = DefaultListenAddress
	}
	return &Server{addr: addr, handler: handler}
}

// Router returns the routes served.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.handler.Routes(r)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Start listens and serves in the background. It returns the bound address,
// which differs from the configured one when port 0 was requested.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Webhook", err, "Callback server stopped")
		}
	}()

	logging.Info("Webhook", "Callback server listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown stops the server, waiting for in-flight callbacks until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
