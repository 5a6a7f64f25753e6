// Package httpserver carries the server's HTTP surface: room-id minting,
// the WebSocket signaling endpoint, health and metrics.
package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/QASchoolUSA/quic-rtc/internal/config"
	"github.com/QASchoolUSA/quic-rtc/internal/metrics"
)

type Server struct {
	log    *slog.Logger
	cfg    config.Config
	router chi.Router
	srv    *http.Server
}

// New assembles the router. signaling is mounted at GET /ws.
func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, signaling http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(logger))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/rooms", createRoom(logger))
	r.Method(http.MethodGet, "/metrics", metrics.PrometheusHandler(m))
	r.Handle("/ws", signaling)

	s := &Server{
		log:    logger,
		cfg:    cfg,
		router: r,
		srv: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	return s
}

// Router exposes the mux, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger logs one line per request. The WebSocket endpoint is skipped:
// upgraded connections live for the whole session and are logged by the
// signaling layer instead.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
