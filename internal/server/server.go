package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config carries every dependency the HTTP layer needs. It is built once in
// main and copied into each handler method.
type Config struct {
	Addr string // e.g. ":3006"

	Store   Store
	Files   FileStore
	Tokens  *TokenIssuer
	Metrics *Metrics // optional
	Logger  zerolog.Logger

	// MaxUploadBytes caps a publication request body. Zero means no cap.
	MaxUploadBytes int64
}

type Server struct {
	httpServer *http.Server
}

// routes registers every endpoint on a fresh mux.
func (cfg Config) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register", cfg.registerHandler)
	mux.HandleFunc("POST /login", cfg.loginHandler)
	mux.HandleFunc("GET /profile/{id}", cfg.getProfileHandler)
	mux.HandleFunc("PUT /profile/{id}", cfg.updateProfileHandler)
	mux.HandleFunc("DELETE /profile/{id}", cfg.deleteProfileHandler)

	mux.HandleFunc("POST /publications", cfg.createPublicationHandler)
	mux.HandleFunc("GET /publications", cfg.listPublicationsHandler)

	mux.Handle("GET /uploads/{name}", uploadsHandler(cfg.Files))

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", cfg.readyHandler)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	return mux
}

// Handler returns the full middleware chain around the routes:
// requestID -> logging -> cors -> security headers -> session -> metrics -> mux
func (cfg Config) Handler() http.Handler {
	var handler http.Handler = cfg.routes()
	handler = metricsMiddleware(cfg.Metrics)(handler)
	handler = sessionMiddleware(cfg.Tokens)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(cfg.Logger)(handler)
	return handler
}

func New(cfg Config) *Server {
	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           cfg.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          newHTTPErrorLog(cfg.Logger),
	}

	return &Server{httpServer: s}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
