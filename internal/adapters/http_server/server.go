package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const defaultRequestTimeout = 15 * time.Second

type Options struct {
	// RequestTimeout bounds each request's context; lookups past it answer 504.
	RequestTimeout time.Duration
}

type Server struct{ mux *chi.Mux }

func New(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	m := chi.NewRouter()

	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(Access(log.Logger))
	m.Use(chimw.Recoverer)
	m.Use(chimw.Timeout(opts.RequestTimeout))
	m.Use(chimw.Compress(5, "application/json", "application/problem+json"))

	return &Server{mux: m}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches a handler outside the API routes, e.g. /metrics.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
