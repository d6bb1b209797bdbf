package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/delivery"
	"github.com/shohag/hookrelay/internal/ingest"
	"github.com/shohag/hookrelay/internal/storage"
)

type Server struct {
	cfg        *config.Config
	store      storage.Storage
	receiver   *ingest.Receiver
	dispatcher *delivery.Dispatcher
	tester     *delivery.Tester
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg *config.Config, store storage.Storage, receiver *ingest.Receiver, dispatcher *delivery.Dispatcher, tester *delivery.Tester, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		receiver:   receiver,
		dispatcher: dispatcher,
		tester:     tester,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	outHandler := NewOutboundHandler(s.store, s.tester, s.log)
	inHandler := NewInboundHandler(s.store, s.cfg.Server.PublicURL, s.log)
	dlvHandler := NewDeliveryHandler(s.store, s.dispatcher, s.log)
	rcvHandler := NewReceiveHandler(s.receiver, s.cfg.Ingest.MaxBodyBytes, s.log)
	statsHandler := NewStatsHandler(s.store)

	// Public routes
	r.Get("/health", statsHandler.Health)
	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}
	r.HandleFunc("/receive/{pipelineId}/{secretToken}", rcvHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(s.cfg.Server.AdminToken))

		// Trigger
		r.Post("/events", dlvHandler.Dispatch)
		r.Get("/delivery-logs", dlvHandler.ListLogs)

		// Outbound webhooks
		r.Post("/outbound-webhooks", outHandler.Create)
		r.Get("/outbound-webhooks", outHandler.List)
		r.Get("/outbound-webhooks/{id}", outHandler.Get)
		r.Put("/outbound-webhooks/{id}", outHandler.Update)
		r.Delete("/outbound-webhooks/{id}", outHandler.Delete)
		r.Patch("/outbound-webhooks/{id}/toggle", outHandler.Toggle)
		r.Post("/outbound-webhooks/{id}/test", outHandler.Test)
		r.Get("/outbound-webhooks/{id}/logs", outHandler.Logs)
		r.Get("/outbound-webhooks/{id}/retries", outHandler.Retries)

		// Inbound webhooks
		r.Post("/inbound-webhooks", inHandler.Create)
		r.Get("/inbound-webhooks", inHandler.List)
		r.Get("/inbound-webhooks/{id}", inHandler.Get)
		r.Put("/inbound-webhooks/{id}", inHandler.Update)
		r.Delete("/inbound-webhooks/{id}", inHandler.Delete)
		r.Post("/inbound-webhooks/{id}/rotate-token", inHandler.RotateToken)
		r.Get("/inbound-webhooks/{id}/logs", inHandler.Logs)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
