package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/tracing"
)

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	port     int // Actual port after binding (useful when using :0)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Host is the interface to bind, e.g. "127.0.0.1".
	Host string
	// Port is the TCP port. 0 lets the OS pick; read it back with Port().
	Port int
	// Handler carries the wired endpoints.
	Handler *Handler
	// Tracer instruments requests when set.
	Tracer trace.Tracer
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out response
	// writes. Zero means none, which WebSocket subscribers need.
	WriteTimeout time.Duration
}

// NewServer binds the listener and prepares the HTTP server. Binding here
// rather than in Start means a taken port fails fast and Port() is valid
// before the server accepts.
func NewServer(cfg ServerConfig) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	// RequestLog sits inside the tracing middleware so its line can carry
	// the request's trace id.
	root := Recover(tracing.HTTPMiddleware(cfg.Tracer, RequestLog(cfg.Handler.Routes())))

	return &Server{
		handler:  cfg.Handler,
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler:           root,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}, nil
}

// Start serves requests. It blocks until Stop is called or the server
// fails; a clean shutdown returns http.ErrServerClosed.
func (s *Server) Start() error {
	log.Info(log.CatServer, "starting API server", "addr", s.listener.Addr().String(), "port", s.port)
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatServer, "stopping API server")
	return s.server.Shutdown(ctx)
}

// Port returns the actual port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
