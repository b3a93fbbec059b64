// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/api/handlers"
	"github.com/autobrr/gamedrop/internal/api/middleware"
	"github.com/autobrr/gamedrop/internal/api/swagger"
	"github.com/autobrr/gamedrop/internal/config"
	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/downloads"
	"github.com/autobrr/gamedrop/internal/services/monitor"
	"github.com/autobrr/gamedrop/internal/services/search"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	aggregator    *search.Aggregator
	downloads     *downloads.Service
	monitor       *monitor.Service
	providerStore *models.ProviderStore
}

type Dependencies struct {
	Config        *config.AppConfig
	Version       string
	Aggregator    *search.Aggregator
	Downloads     *downloads.Service
	Monitor       *monitor.Service
	ProviderStore *models.ProviderStore
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// Zero so the event stream is not cut off; handlers bound their own work.
			WriteTimeout: 0,
			IdleTimeout:  180 * time.Second,
		},
		logger:        log.Logger.With().Str("module", "api").Logger(),
		config:        deps.Config,
		version:       deps.Version,
		aggregator:    deps.Aggregator,
		downloads:     deps.Downloads,
		monitor:       deps.Monitor,
		providerStore: deps.ProviderStore,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := net.JoinHostPort(s.config.Config.Host, fmt.Sprint(s.config.Config.Port))

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
		// Compressed SSE frames sit in the encoder until the buffer fills.
		httpcompression.ContentTypes([]string{"text/event-stream"}, true),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.version)
	searchHandler := handlers.NewSearchHandler(s.aggregator)
	downloadsHandler := handlers.NewDownloadsHandler(s.downloads, s.monitor, s.monitor.Store())
	providersHandler := handlers.NewProvidersHandler(s.providerStore)
	eventsHandler := handlers.NewEventsHandler(s.monitor.Emitter(), s.monitor.Store())

	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))
		r.Use(middleware.RequireAPIKey(s.config.Config.APIKey))

		r.Get("/search", searchHandler.Search)

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", downloadsHandler.List)
			r.Post("/", downloadsHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", downloadsHandler.Get)
				r.Delete("/", downloadsHandler.Delete)
				r.Post("/cancel", downloadsHandler.Cancel)
			})
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providersHandler.List)
			r.Post("/", providersHandler.Create)
			r.Put("/{id}", providersHandler.Update)
			r.Delete("/{id}", providersHandler.Delete)
		})

		r.Get("/events", eventsHandler.Stream)
	})

	apiRouter.Get("/openapi.yaml", swagger.Handler)

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	if baseURL == "/" {
		r.Mount("/api", apiRouter)
		r.Get("/health", healthHandler.HandleHealth)
		r.Get("/healthz/readiness", healthHandler.HandleReady)
		r.Get("/healthz/liveness", healthHandler.HandleLiveness)
		return r, nil
	}

	base := strings.TrimSuffix(baseURL, "/")
	r.Route(base, func(br chi.Router) {
		br.Mount("/api", apiRouter)
		br.Get("/health", healthHandler.HandleHealth)
		br.Get("/healthz/readiness", healthHandler.HandleReady)
		br.Get("/healthz/liveness", healthHandler.HandleLiveness)
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, baseURL, http.StatusMovedPermanently)
	})

	return r, nil
}
